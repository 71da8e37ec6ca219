package engine

import "github.com/jonathan/apply-engine/internal/scrape"

// Message is the closed set of events the orchestrator processes. Every
// message carries a job id or a platform so handlers stay id-keyed, and the
// single dispatch switch in Engine.dispatch covers every variant.
type Message interface {
	// Tag returns the wire name of the message for logs and debugging.
	Tag() string
	isMessage()
}

// ApplyJobStart requests a job session. Posted internally when the engine
// pops the next queued job, or externally for a one-off application attempt.
type ApplyJobStart struct {
	Job         scrape.Job
	SourceTabID string
}

// InlineModalDetected reports that the source platform opened its own
// application dialog in place, the short path that never leaves the tab.
type InlineModalDetected struct {
	JobID string
}

// ExternalATSOpened reports that clicking apply spawned a new tab on an
// external applicant-tracking site.
type ExternalATSOpened struct {
	JobID    string
	ATSTabID string
}

// ATSContentReady reports that the ATS tab's agent finished attaching and
// classification can begin.
type ATSContentReady struct {
	JobID string
}

// ATSComplete is the navigator's terminal verdict for an external ATS flow.
type ATSComplete struct {
	JobID   string
	Success bool
	Error   string
}

// JobCompleted is the terminal verdict for the inline path, or any
// completion reported by the source tab itself.
type JobCompleted struct {
	JobID   string
	Success bool
	Error   string
}

// JobsScraped carries one listing page's extraction result.
type JobsScraped struct {
	Platform scrape.Platform
	Result   *scrape.PageResult
	Err      string
}

// PageNavigated reports a source-tab navigation or SPA route change,
// including the agent's current read of authentication state.
type PageNavigated struct {
	Platform scrape.Platform
	TabID    string
	URL      string
	SignedIn bool
}

// UserInteraction reports a trusted user gesture on a source tab. The
// engine pauses and waits out a quiet period before resuming.
type UserInteraction struct {
	Platform scrape.Platform
}

// TabClosed reports that a browser target went away, source or ATS alike.
type TabClosed struct {
	TabID string
}

// timerExpired is the safety-timer callback for one session. Epoch guards
// against a stale fire racing a re-arm.
type timerExpired struct {
	jobID string
	epoch uint64
}

// quietElapsed ends a user-interaction pause if no newer gesture arrived.
type quietElapsed struct {
	epoch uint64
}

type startCommand struct {
	reply chan error
}

type stopCommand struct {
	reply chan error
}

type stateQuery struct {
	reply chan *Snapshot
}

func (ApplyJobStart) Tag() string       { return "APPLY_JOB_START" }
func (InlineModalDetected) Tag() string { return "LINKEDIN_MODAL_DETECTED" }
func (ExternalATSOpened) Tag() string   { return "EXTERNAL_ATS_OPENED" }
func (ATSContentReady) Tag() string     { return "ATS_CONTENT_SCRIPT_READY" }
func (ATSComplete) Tag() string         { return "ATS_COMPLETE" }
func (JobCompleted) Tag() string        { return "JOB_COMPLETED" }
func (JobsScraped) Tag() string         { return "JOBS_SCRAPED" }
func (PageNavigated) Tag() string       { return "PAGE_NAVIGATED" }
func (UserInteraction) Tag() string     { return "USER_INTERACTION" }
func (TabClosed) Tag() string           { return "TAB_CLOSED" }
func (timerExpired) Tag() string        { return "SESSION_TIMER_EXPIRED" }
func (quietElapsed) Tag() string        { return "QUIET_PERIOD_ELAPSED" }
func (startCommand) Tag() string        { return "START" }
func (stopCommand) Tag() string         { return "STOP" }
func (stateQuery) Tag() string          { return "GET_STATE" }

func (ApplyJobStart) isMessage()       {}
func (InlineModalDetected) isMessage() {}
func (ExternalATSOpened) isMessage()   {}
func (ATSContentReady) isMessage()     {}
func (ATSComplete) isMessage()         {}
func (JobCompleted) isMessage()        {}
func (JobsScraped) isMessage()         {}
func (PageNavigated) isMessage()       {}
func (UserInteraction) isMessage()     {}
func (TabClosed) isMessage()           {}
func (timerExpired) isMessage()        {}
func (quietElapsed) isMessage()        {}
func (startCommand) isMessage()        {}
func (stopCommand) isMessage()         {}
func (stateQuery) isMessage()          {}
