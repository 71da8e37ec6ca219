// Package quota tracks the daily application caps that gate pagination.
//
// Counters are keyed by calendar date and reset transparently on the first
// touch after midnight. Not goroutine-safe on purpose: the tracker is owned
// by the orchestrator and every write happens inside its message handlers,
// so check-then-increment is race-free without locks.
package quota

import (
	"time"
)

// dateLayout truncates timestamps to local day granularity.
const dateLayout = "2006-01-02"

// Limits are the configured daily caps. Zero means unlimited.
type Limits struct {
	Total       int
	PerPlatform int
}

// Counts is the current day's spent quota. Date marks which calendar day the
// counters belong to.
type Counts struct {
	Date        string         `json:"date"`
	Total       int            `json:"total"`
	PerPlatform map[string]int `json:"per_platform"`
}

// Clone returns an independent copy safe to hand across goroutines.
func (c Counts) Clone() Counts {
	per := make(map[string]int, len(c.PerPlatform))
	for platform, n := range c.PerPlatform {
		per[platform] = n
	}
	return Counts{Date: c.Date, Total: c.Total, PerPlatform: per}
}

// Tracker enforces Limits over rolling calendar days.
type Tracker struct {
	limits  Limits
	counts  Counts
	timeNow func() time.Time // Injectable for testing
}

// NewTracker creates a tracker with the real clock.
func NewTracker(limits Limits) *Tracker {
	return NewTrackerWithClock(limits, time.Now)
}

// NewTrackerWithClock creates a tracker with an injectable clock (for testing).
func NewTrackerWithClock(limits Limits, timeNow func() time.Time) *Tracker {
	t := &Tracker{limits: limits, timeNow: timeNow}
	t.counts = emptyCounts(t.today())
	return t
}

// Allow reports whether one more application attempt on platform fits under
// both the global and the per-platform cap.
func (t *Tracker) Allow(platform string) bool {
	t.rollover()
	if t.limits.Total > 0 && t.counts.Total >= t.limits.Total {
		return false
	}
	if t.limits.PerPlatform > 0 && t.counts.PerPlatform[platform] >= t.limits.PerPlatform {
		return false
	}
	return true
}

// Record counts one attempt against platform. Counters only ever grow within
// a day; the global total grows with every per-platform increment.
func (t *Tracker) Record(platform string) {
	t.rollover()
	t.counts.Total++
	t.counts.PerPlatform[platform]++
}

// Snapshot returns a copy of today's counts.
func (t *Tracker) Snapshot() Counts {
	t.rollover()
	return t.counts.Clone()
}

// Remaining returns how many attempts platform has left today. Unlimited
// platforms report -1.
func (t *Tracker) Remaining(platform string) int {
	t.rollover()
	remaining := -1
	if t.limits.Total > 0 {
		remaining = t.limits.Total - t.counts.Total
	}
	if t.limits.PerPlatform > 0 {
		platformLeft := t.limits.PerPlatform - t.counts.PerPlatform[platform]
		if remaining < 0 || platformLeft < remaining {
			remaining = platformLeft
		}
	}
	if remaining < 0 && (t.limits.Total > 0 || t.limits.PerPlatform > 0) {
		return 0
	}
	return remaining
}

// Restore adopts persisted counts, so a restart the same day does not hand
// back already-spent quota. Counts from a previous day are ignored.
func (t *Tracker) Restore(saved Counts) {
	if saved.Date != t.today() {
		return
	}
	restored := saved.Clone()
	if restored.PerPlatform == nil {
		restored.PerPlatform = make(map[string]int)
	}
	t.counts = restored
}

func (t *Tracker) rollover() {
	if today := t.today(); t.counts.Date != today {
		t.counts = emptyCounts(today)
	}
}

func (t *Tracker) today() string {
	return t.timeNow().Format(dateLayout)
}

func emptyCounts(date string) Counts {
	return Counts{Date: date, PerPlatform: make(map[string]int)}
}
