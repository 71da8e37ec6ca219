// Package engine implements the job session orchestrator: a single
// goroutine that owns all session and platform state and processes typed
// messages from page agents, timers, and the control API. Handlers run to
// completion before the next message is taken, so check-then-act on quotas
// and sessions needs no locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/config"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/quota"
	"github.com/jonathan/apply-engine/internal/scrape"
)

var (
	// ErrAlreadyRunning is returned by Start when the engine is not stopped.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("engine not running")
	// ErrEngineClosed means the run loop has exited and no command can be
	// delivered.
	ErrEngineClosed = errors.New("engine loop has exited")
	// ErrSessionExists rejects a second non-terminal session for a job id.
	ErrSessionExists = errors.New("session already exists for job")
	// ErrQuotaReached signals the daily application cap.
	ErrQuotaReached = errors.New("daily application limit reached")
)

const (
	inboxSize        = 256
	persistTimeout   = 10 * time.Second
	quotaLoadTimeout = 5 * time.Second
)

// Deps are the engine's collaborators. Commander is required; the rest
// degrade to no-ops when nil.
type Deps struct {
	Commander    Commander
	Quota        *quota.Tracker
	Applications ApplicationStore
	Records      RecordLogger
	QuotaStore   QuotaStore
}

// Engine owns the orchestrator state. All mutation happens on the Run
// goroutine; other goroutines only Post messages or read snapshots.
type Engine struct {
	cfg *config.Config
	log *zap.SugaredLogger

	commander    Commander
	quota        *quota.Tracker
	applications ApplicationStore
	records      RecordLogger
	quotaStore   QuotaStore

	inbox chan Message
	done  chan struct{}
	state *OrchestratorState

	// platforms preserves configured order for deterministic snapshots.
	platforms []scrape.Platform

	timerEpoch uint64
	pauseEpoch uint64

	timeNow   func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	runCtx context.Context

	subs *subscriberSet
}

// New builds an engine from configuration. Run must be called before
// commands are accepted.
func New(cfg *config.Config, deps Deps) *Engine {
	tracker := deps.Quota
	if tracker == nil {
		tracker = quota.NewTracker(quota.Limits{
			Total:       cfg.DailyLimitTotal,
			PerPlatform: cfg.DailyLimitPerPlatform,
		})
	}

	var platforms []scrape.Platform
	for _, name := range cfg.Platforms {
		if p := scrape.ParsePlatform(name); p != scrape.PlatformUnknown {
			platforms = append(platforms, p)
		}
	}

	return &Engine{
		cfg:          cfg,
		log:          logging.Named("engine"),
		commander:    deps.Commander,
		quota:        tracker,
		applications: deps.Applications,
		records:      deps.Records,
		quotaStore:   deps.QuotaStore,
		inbox:        make(chan Message, inboxSize),
		done:         make(chan struct{}),
		state:        newOrchestratorState(),
		platforms:    platforms,
		timeNow:      time.Now,
		afterFunc:    time.AfterFunc,
		subs:         newSubscriberSet(),
	}
}

// Run processes messages until ctx is cancelled. It is the only goroutine
// allowed to touch e.state.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	defer close(e.done)
	e.log.Infow("orchestrator loop started", "platforms", e.platforms)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case msg := <-e.inbox:
			e.dispatch(msg)
		}
	}
}

// Post delivers a message to the run loop. Safe from any goroutine; a
// no-op once the loop has exited.
func (e *Engine) Post(msg Message) {
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

// Start begins scraping and applying on all configured platforms.
func (e *Engine) Start(ctx context.Context) error {
	return e.command(ctx, func(reply chan error) Message { return startCommand{reply: reply} })
}

// Stop fails all in-flight sessions and deactivates every platform. The
// run loop stays alive and a later Start reuses it.
func (e *Engine) Stop(ctx context.Context) error {
	return e.command(ctx, func(reply chan error) Message { return stopCommand{reply: reply} })
}

// State returns a point-in-time copy of engine state.
func (e *Engine) State(ctx context.Context) (*Snapshot, error) {
	reply := make(chan *Snapshot, 1)
	e.Post(stateQuery{reply: reply})
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrEngineClosed
	}
}

func (e *Engine) command(ctx context.Context, build func(chan error) Message) error {
	reply := make(chan error, 1)
	e.Post(build(reply))
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineClosed
	}
}

// dispatch is the single fan-out point for every message variant.
func (e *Engine) dispatch(msg Message) {
	switch m := msg.(type) {
	case startCommand:
		m.reply <- e.handleStart()
	case stopCommand:
		m.reply <- e.handleStop("Stopped")
	case stateQuery:
		m.reply <- e.snapshot()
	case ApplyJobStart:
		e.handleApplyStart(m)
	case InlineModalDetected:
		e.handleInlineModal(m)
	case ExternalATSOpened:
		e.handleATSOpened(m)
	case ATSContentReady:
		e.handleATSReady(m)
	case ATSComplete:
		e.completeSession(m.JobID, m.Success, m.Error)
	case JobCompleted:
		e.completeSession(m.JobID, m.Success, m.Error)
	case JobsScraped:
		e.handleJobsScraped(m)
	case PageNavigated:
		e.handlePageNavigated(m)
	case UserInteraction:
		e.handleUserInteraction(m)
	case TabClosed:
		e.handleTabClosed(m)
	case timerExpired:
		e.handleTimerExpired(m)
	case quietElapsed:
		e.handleQuietElapsed(m)
	default:
		e.log.Warnw("unhandled message", "tag", msg.Tag())
	}
}

func (e *Engine) handleStart() error {
	if e.state.Phase != PhaseStopped {
		return ErrAlreadyRunning
	}
	e.restoreQuota()
	e.state.Phase = PhaseRunning
	e.state.StatusLine = "Running"
	for _, p := range e.platforms {
		e.state.platform(p)
		e.commander.OpenListing(p)
	}
	e.log.Infow("engine started", "daily_total", e.cfg.DailyLimitTotal, "daily_per_platform", e.cfg.DailyLimitPerPlatform)
	e.publish()
	return nil
}

func (e *Engine) handleStop(statusLine string) error {
	if e.state.Phase == PhaseStopped {
		return ErrNotRunning
	}
	// Flip the phase first so finishSession's advance cannot start a new
	// job mid-stop.
	e.state.Phase = PhaseStopped
	e.pauseEpoch++
	for _, sess := range e.state.liveSessions() {
		e.finishSession(sess, false, "stopped", true)
	}
	for _, ps := range e.state.Platforms {
		ps.reset()
	}
	e.state.StatusLine = statusLine
	e.log.Infow("engine stopped")
	e.publish()
	return nil
}

func (e *Engine) handleApplyStart(m ApplyJobStart) {
	if e.state.Phase == PhaseStopped {
		e.log.Warnw("ignoring apply request while stopped", "job_id", m.Job.ID)
		return
	}
	ps := e.state.platform(m.Job.Platform)
	if ps.TabID == "" && m.SourceTabID != "" {
		ps.TabID = m.SourceTabID
	}
	if ps.activeJobID != "" && ps.activeJobID != m.Job.ID {
		e.log.Warnw("platform busy with another session", "job_id", m.Job.ID, "active_job_id", ps.activeJobID)
		return
	}
	if err := e.beginSession(m.Job, ps); err != nil {
		e.log.Warnw("apply request rejected", "job_id", m.Job.ID, "error", err)
	}
}

func (e *Engine) handleInlineModal(m InlineModalDetected) {
	sess := e.state.liveSession(m.JobID)
	if sess == nil {
		e.log.Debugw("inline modal for unknown or finished job", "job_id", m.JobID)
		return
	}
	if err := sess.transition(StatusInlineModal); err != nil {
		e.log.Warnw("rejected transition", "error", err)
		return
	}
	e.armTimer(sess)
	e.publish()
}

func (e *Engine) handleATSOpened(m ExternalATSOpened) {
	sess := e.state.liveSession(m.JobID)
	if sess == nil {
		// Nothing owns this tab; close it rather than leak it.
		e.log.Warnw("ats tab opened for unknown job", "job_id", m.JobID, "tab_id", m.ATSTabID)
		e.commander.CloseTab(m.ATSTabID)
		return
	}
	if sess.ATSTabID != "" && sess.ATSTabID != m.ATSTabID {
		// A session never adopts a second external tab.
		e.log.Warnw("session already bound to an ats tab, closing extra", "job_id", m.JobID, "bound", sess.ATSTabID, "extra", m.ATSTabID)
		e.commander.CloseTab(m.ATSTabID)
		return
	}
	if err := e.state.claimATSTab(m.ATSTabID, m.JobID); err != nil {
		e.log.Errorw("ats tab conflict", "job_id", m.JobID, "error", err)
		e.finishSession(sess, false, "ats_tab_conflict", false)
		return
	}
	if err := sess.transition(StatusATSOpened); err != nil {
		e.state.releaseATSTab(m.ATSTabID, m.JobID)
		e.log.Warnw("rejected transition", "error", err)
		return
	}
	if err := sess.bindATSTab(m.ATSTabID); err != nil {
		e.log.Errorw("ats tab bind failed", "error", err)
	}
	e.armTimer(sess)
	e.log.Infow("external ats opened", "job_id", m.JobID, "tab_id", m.ATSTabID)
	e.publish()
}

func (e *Engine) handleATSReady(m ATSContentReady) {
	sess := e.state.liveSession(m.JobID)
	if sess == nil {
		e.log.Debugw("ats ready for unknown or finished job", "job_id", m.JobID)
		return
	}
	if err := sess.transition(StatusATSFilling); err != nil {
		e.log.Warnw("rejected transition", "error", err)
		return
	}
	e.armTimer(sess)
	e.publish()
}

func (e *Engine) handleJobsScraped(m JobsScraped) {
	ps := e.state.platform(m.Platform)
	ps.scrapePending = false

	if m.Err != "" || m.Result == nil {
		ps.deactivate()
		e.state.StatusLine = fmt.Sprintf("%s scrape failed", m.Platform)
		e.log.Errorw("scrape failed", "platform", m.Platform, "error", m.Err)
		e.publish()
		return
	}

	result := m.Result
	if len(result.Jobs) == 0 {
		// Empty page means end-of-results or broken selectors. Either way
		// pagination halts, even with a next control present.
		ps.HasNextPage = false
		ps.deactivate()
		e.state.StatusLine = fmt.Sprintf("%s finished: no jobs on page %d", m.Platform, result.CurrentPage)
		e.log.Infow("empty listing page, halting pagination", "platform", m.Platform, "page", result.CurrentPage)
		e.publish()
		return
	}

	// The page number is only trusted once a scrape of it found jobs.
	ps.CurrentPage = result.CurrentPage
	ps.HasNextPage = result.HasNextPage
	added := ps.enqueue(result.Jobs)
	ps.JobsScraped += added
	e.log.Infow("jobs scraped", "platform", m.Platform, "page", result.CurrentPage, "found", len(result.Jobs), "new", added)
	e.publish()
	e.advance(ps)
}

func (e *Engine) handlePageNavigated(m PageNavigated) {
	ps := e.state.platform(m.Platform)
	if m.TabID != "" {
		ps.TabID = m.TabID
	}
	ps.SignedIn = m.SignedIn

	if !m.SignedIn {
		ps.deactivate()
		e.state.StatusLine = fmt.Sprintf("%s requires sign-in", m.Platform)
		e.log.Warnw("platform signed out", "platform", m.Platform, "url", m.URL)
		e.publish()
		return
	}
	if e.state.Phase == PhaseStopped {
		return
	}
	ps.IsActive = true
	if ps.scrapePending || (ps.activeJobID == "" && len(ps.queue) == 0) {
		e.requestScrape(ps)
	}
	e.publish()
}

func (e *Engine) handleUserInteraction(m UserInteraction) {
	if e.state.Phase == PhaseStopped {
		return
	}
	e.pauseEpoch++
	epoch := e.pauseEpoch
	e.afterFunc(e.cfg.Tuning.QuietPeriod(), func() {
		e.Post(quietElapsed{epoch: epoch})
	})
	if e.state.Phase != PhasePaused {
		e.state.Phase = PhasePaused
		e.state.StatusLine = "Paused (user interaction)"
		e.log.Infow("paused on user interaction", "platform", m.Platform)
		e.publish()
	}
}

func (e *Engine) handleQuietElapsed(m quietElapsed) {
	if m.epoch != e.pauseEpoch || e.state.Phase != PhasePaused {
		return
	}
	e.state.Phase = PhaseRunning
	e.state.StatusLine = "Running"
	e.log.Infow("quiet period elapsed, resuming")
	for _, p := range e.platforms {
		ps := e.state.platform(p)
		if ps.IsActive && ps.activeJobID == "" {
			e.requestScrape(ps)
		}
	}
	e.publish()
}

func (e *Engine) handleTabClosed(m TabClosed) {
	if jobID, ok := e.state.jobForATSTab(m.TabID); ok {
		if sess := e.state.liveSession(jobID); sess != nil {
			e.log.Warnw("ats tab closed mid-session", "job_id", jobID, "tab_id", m.TabID)
			e.finishSession(sess, false, "tab_closed", false)
		}
		return
	}

	if ps := e.state.sourcePlatform(m.TabID); ps != nil {
		activeJob := ps.activeJobID
		ps.reset()
		e.state.StatusLine = fmt.Sprintf("%s tab closed", ps.Platform)
		e.log.Warnw("source tab closed", "platform", ps.Platform, "tab_id", m.TabID)
		if sess := e.state.liveSession(activeJob); sess != nil {
			e.finishSession(sess, false, "tab_closed", true)
		}
		e.publish()
	}
}

func (e *Engine) handleTimerExpired(m timerExpired) {
	sess := e.state.liveSession(m.jobID)
	if sess == nil || sess.timerEpoch != m.epoch {
		return
	}
	e.log.Warnw("session safety timer expired", "job_id", m.jobID, "status", sess.Status)
	e.finishSession(sess, false, "timeout", true)
}

// advance decides the platform's next move: pop a job, turn the page, or
// wind down. Called whenever a session resolves or a scrape lands.
func (e *Engine) advance(ps *PlatformState) {
	if e.state.Phase != PhaseRunning || !ps.IsActive || ps.activeJobID != "" || ps.scrapePending {
		return
	}
	if !e.quota.Allow(string(ps.Platform)) {
		ps.deactivate()
		e.state.StatusLine = fmt.Sprintf("%s limit reached", ps.Platform)
		e.log.Infow("daily limit reached", "platform", ps.Platform, "counts", e.quota.Snapshot())
		e.publish()
		return
	}
	job, ok := ps.nextJob()
	if !ok {
		if !ps.HasNextPage {
			ps.deactivate()
			e.state.StatusLine = fmt.Sprintf("%s finished: no more pages", ps.Platform)
			e.log.Infow("pagination complete", "platform", ps.Platform, "last_page", ps.CurrentPage)
			e.publish()
			return
		}
		ps.scrapePending = true
		e.commander.NavigateNext(ps.Platform)
		return
	}
	if err := e.beginSession(job, ps); err != nil {
		e.log.Warnw("skipping job", "job_id", job.ID, "error", err)
		if errors.Is(err, ErrQuotaReached) {
			ps.deactivate()
			e.state.StatusLine = fmt.Sprintf("%s limit reached", ps.Platform)
			e.publish()
			return
		}
		e.advance(ps)
	}
}

// beginSession creates a pending session, spends quota, arms the safety
// timer, and tells the source tab to click apply.
func (e *Engine) beginSession(job scrape.Job, ps *PlatformState) error {
	if e.state.liveSession(job.ID) != nil {
		return ErrSessionExists
	}
	if !e.quota.Allow(string(ps.Platform)) {
		return ErrQuotaReached
	}
	e.quota.Record(string(ps.Platform))
	e.persistQuota()

	sess := newSession(job, ps.TabID, e.timeNow())
	e.state.Sessions[job.ID] = sess
	ps.activeJobID = job.ID
	ps.JobsProcessed++
	e.armTimer(sess)
	e.commander.ApplyToJob(job, ps.TabID)
	e.log.Infow("job session started", "job_id", job.ID, "platform", ps.Platform, "title", job.Title, "company", job.Company)
	e.publish()
	return nil
}

// completeSession resolves a live session from a terminal message. Stale
// and duplicate terminals are ignored.
func (e *Engine) completeSession(jobID string, success bool, errReason string) {
	sess := e.state.liveSession(jobID)
	if sess == nil {
		e.log.Debugw("terminal for unknown or finished job", "job_id", jobID)
		return
	}
	e.finishSession(sess, success, errReason, true)
}

// finishSession performs the single terminal transition: clear the timer,
// release and optionally close the ATS tab, persist the record, free the
// platform, and keep the loop moving.
func (e *Engine) finishSession(sess *JobSession, success bool, errReason string, closeATS bool) {
	e.clearTimer(sess)

	next := StatusATSComplete
	if !success {
		next = StatusFailed
	}
	if err := sess.transition(next); err != nil {
		e.log.Warnw("terminal transition rejected", "job_id", sess.Job.ID, "error", err)
		return
	}
	sess.finish(success, errReason)

	if sess.ATSTabID != "" {
		e.state.releaseATSTab(sess.ATSTabID, sess.Job.ID)
		if closeATS {
			e.commander.CloseTab(sess.ATSTabID)
		}
	}

	if success {
		e.log.Infow("job session complete", "job_id", sess.Job.ID, "title", sess.Job.Title)
	} else {
		e.log.Warnw("job session failed", "job_id", sess.Job.ID, "reason", errReason)
	}

	e.persistRecord(newApplicationRecord(sess, e.timeNow()))

	ps := e.state.platform(sess.Job.Platform)
	if ps.activeJobID == sess.Job.ID {
		ps.activeJobID = ""
	}
	e.publish()
	e.advance(ps)
}

func (e *Engine) requestScrape(ps *PlatformState) {
	if e.state.Phase != PhaseRunning || !ps.IsActive {
		return
	}
	ps.scrapePending = true
	e.commander.ScrapeJobs(ps.Platform)
}

// armTimer replaces the session's safety timer. The epoch lets a stale
// callback from a replaced timer be recognized and dropped.
func (e *Engine) armTimer(sess *JobSession) {
	if sess.timer != nil {
		sess.timer.Stop()
	}
	e.timerEpoch++
	epoch := e.timerEpoch
	sess.timerEpoch = epoch
	jobID := sess.Job.ID
	sess.timer = e.afterFunc(e.cfg.Tuning.SessionTimeout(), func() {
		e.Post(timerExpired{jobID: jobID, epoch: epoch})
	})
}

func (e *Engine) clearTimer(sess *JobSession) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	sess.timerEpoch = 0
}

func (e *Engine) restoreQuota() {
	if e.quotaStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.parentCtx(), quotaLoadTimeout)
	defer cancel()
	counts, err := e.quotaStore.LoadDailyCounts(ctx)
	if err != nil {
		e.log.Warnw("failed to load persisted daily counts", "error", err)
		return
	}
	if counts != nil {
		e.quota.Restore(*counts)
		e.log.Infow("daily counts restored", "date", counts.Date, "total", counts.Total)
	}
}

func (e *Engine) persistQuota() {
	if e.quotaStore == nil {
		return
	}
	counts := e.quota.Snapshot()
	parent := e.parentCtx()
	go func() {
		ctx, cancel := context.WithTimeout(parent, persistTimeout)
		defer cancel()
		if err := e.quotaStore.SaveDailyCounts(ctx, counts); err != nil {
			e.log.Warnw("failed to persist daily counts", "error", err)
		}
	}()
}

// persistRecord mirrors a terminal record to the spreadsheet and database.
// Both are fire-and-forget; their failure never blocks session completion.
func (e *Engine) persistRecord(rec *ApplicationRecord) {
	if e.records != nil {
		e.records.Append(rec)
	}
	if e.applications == nil {
		return
	}
	parent := e.parentCtx()
	go func() {
		ctx, cancel := context.WithTimeout(parent, persistTimeout)
		defer cancel()
		if err := e.applications.SaveApplication(ctx, rec); err != nil {
			e.log.Errorw("failed to persist application record", "app_id", rec.AppID, "job_id", rec.JobID, "error", err)
		}
	}()
}

func (e *Engine) parentCtx() context.Context {
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

func (e *Engine) shutdown() {
	if e.state.Phase != PhaseStopped {
		_ = e.handleStop("Stopped")
	}
	e.subs.closeAll()
	e.log.Infow("orchestrator loop exited")
}
