package browser

import (
	"errors"
	"fmt"
)

// Sentinel errors checked by agents and the navigator via errors.Is.
var (
	// ErrTabClosed is returned by any operation on a tab whose target is gone.
	ErrTabClosed = errors.New("tab closed")

	// ErrWaitTimeout is returned when a DOM wait's bound elapses before the
	// awaited condition fires.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrNotFound is returned when an element lookup matched nothing.
	ErrNotFound = errors.New("element not found")
)

// Error represents a failure of one browser operation on one tab.
type Error struct {
	Op      string
	Target  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("browser %s on %s: %s: %v", e.Op, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("browser %s on %s: %s", e.Op, e.Target, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
