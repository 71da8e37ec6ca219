package engine

import (
	"fmt"
	"time"

	"github.com/jonathan/apply-engine/internal/scrape"
)

// Status is a job session's position in its lifecycle. Transitions only
// move forward, except StatusFailed which is reachable from any
// non-terminal state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInlineModal Status = "inline-modal"
	StatusATSOpened   Status = "ats-opened"
	StatusATSFilling  Status = "ats-filling"
	StatusATSComplete Status = "ats-complete"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusATSComplete || s == StatusFailed
}

// rank orders statuses along the forward path. Failed sits outside the
// ordering and is handled separately.
var rank = map[Status]int{
	StatusPending:     0,
	StatusInlineModal: 1,
	StatusATSOpened:   2,
	StatusATSFilling:  3,
	StatusATSComplete: 4,
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	if !ok {
		return false
	}
	return to > from
}

// SessionResult is set exactly once, on the terminal transition.
type SessionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// JobSession tracks one application attempt across up to two tabs. The
// engine goroutine is its only writer.
type JobSession struct {
	Job         scrape.Job
	SourceTabID string
	// ATSTabID is immutable once set. A session never adopts a second
	// external tab; failure forces a fresh session instead.
	ATSTabID  string
	Status    Status
	StartedAt time.Time
	Result    *SessionResult

	// timer is the single outstanding safety timer. timerEpoch rises on
	// every arm so a stale callback can be recognized and dropped.
	timer      *time.Timer
	timerEpoch uint64
}

func newSession(job scrape.Job, sourceTabID string, now time.Time) *JobSession {
	return &JobSession{
		Job:         job,
		SourceTabID: sourceTabID,
		Status:      StatusPending,
		StartedAt:   now,
	}
}

// transition advances the session or reports why it cannot.
func (s *JobSession) transition(next Status) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", s.Status, next, s.Job.ID)
	}
	s.Status = next
	return nil
}

// bindATSTab records the external tab, once.
func (s *JobSession) bindATSTab(tabID string) error {
	if s.ATSTabID != "" && s.ATSTabID != tabID {
		return fmt.Errorf("job %s already bound to ats tab %s", s.Job.ID, s.ATSTabID)
	}
	s.ATSTabID = tabID
	return nil
}

// finish records the terminal result. The caller has already cleared the
// timer and picked the terminal status.
func (s *JobSession) finish(success bool, errReason string) {
	s.Result = &SessionResult{Success: success, Error: errReason}
}

// timerArmed reports whether a safety timer is outstanding.
func (s *JobSession) timerArmed() bool {
	return s.timer != nil
}
