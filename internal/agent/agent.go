// Package agent binds the orchestrator to real browser tabs. One source
// agent per platform owns that platform's listing tab and serializes the
// engine's commands against it; an ats agent owns one external application
// tab for the lifetime of a single session. The supervisor routes commands,
// pumps tab lifecycle events, and traces each new tab back to the apply
// click that spawned it.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/apply-engine/internal/browser"
	"github.com/jonathan/apply-engine/internal/config"
	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/navigate"
	"github.com/jonathan/apply-engine/internal/scrape"
)

const closeTimeout = 10 * time.Second

// Tab is the full tab surface the page agents drive. *browser.Tab satisfies
// it; tests script a fake. It is a superset of navigate.Tab, so any Tab can
// be handed straight to the navigator.
type Tab interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string) error
	Fill(ctx context.Context, selector, value string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitMutation(ctx context.Context, timeout time.Duration) error
	WaitFunc(ctx context.Context, expr string, timeout time.Duration) error
	ExposeFunc(ctx context.Context, name string, fn func(payload string)) error
	AddInitScript(ctx context.Context, script string) error
	Close()
}

// Session is the slice of browser behavior the supervisor needs: opening
// and adopting tabs, closing targets by id, and the lifecycle event feed.
type Session interface {
	NewTab(ctx context.Context, url string) (Tab, error)
	AdoptTab(ctx context.Context, targetID string) (Tab, error)
	CloseTarget(ctx context.Context, targetID string) error
	Events() <-chan browser.TargetEvent
}

// NewSession wraps a launched browser as the Session the supervisor drives.
func NewSession(b *browser.Browser) Session {
	return browserSession{b}
}

type browserSession struct {
	b *browser.Browser
}

func (s browserSession) NewTab(ctx context.Context, url string) (Tab, error) {
	return s.b.NewTab(ctx, url)
}

func (s browserSession) AdoptTab(ctx context.Context, targetID string) (Tab, error) {
	return s.b.AdoptTab(ctx, targetID)
}

func (s browserSession) CloseTarget(ctx context.Context, targetID string) error {
	return s.b.CloseTarget(ctx, targetID)
}

func (s browserSession) Events() <-chan browser.TargetEvent {
	return s.b.Events()
}

// Poster delivers messages to the orchestrator's inbox.
type Poster interface {
	Post(msg engine.Message)
}

// options bound the agents' browser work. Tuning-backed values come from
// config; the rest are fixed bounds that hold up on real sites.
type options struct {
	navTimeout     time.Duration // full listing page load
	opTimeout      time.Duration // a single snapshot, click, or install
	applyWait      time.Duration // inline-modal-or-ats-tab window after apply
	readyWait      time.Duration // ats document readiness bound
	mutationWait   time.Duration // listing re-render after a click
	settleDelay    time.Duration
	routeDebounce  time.Duration
	gestureEvery   time.Duration
	commandQueue   int
	pagesPerMinute int
	navigator      navigate.Options
}

func defaultOptions(cfg *config.Config) options {
	return options{
		navTimeout:     45 * time.Second,
		opTimeout:      15 * time.Second,
		applyWait:      12 * time.Second,
		readyWait:      20 * time.Second,
		mutationWait:   8 * time.Second,
		settleDelay:    cfg.Tuning.SettleDelay(),
		routeDebounce:  700 * time.Millisecond,
		gestureEvery:   time.Second,
		commandQueue:   16,
		pagesPerMinute: cfg.Tuning.PagesPerMinute,
		navigator:      navigate.OptionsFromTuning(cfg.Tuning),
	}
}

// Supervisor owns the page agents and implements the engine's Commander.
// Every Commander call enqueues work and returns; results flow back to the
// engine as posted messages.
type Supervisor struct {
	session Session
	filler  navigate.Filler
	opts    options
	log     *zap.SugaredLogger

	poster Poster

	// sources is built once and read-only afterwards.
	sources map[scrape.Platform]*sourceAgent

	claimMu sync.Mutex
	claims  map[string]*atsClaim

	ctxMu  sync.Mutex
	runCtx context.Context

	group *errgroup.Group
}

var _ engine.Commander = (*Supervisor)(nil)

// NewSupervisor builds agents for every configured platform that has a
// listing URL. A nil filler leaves form handoffs failing as unavailable.
func NewSupervisor(cfg *config.Config, session Session, filler navigate.Filler) *Supervisor {
	return newSupervisor(cfg, session, filler, defaultOptions(cfg))
}

func newSupervisor(cfg *config.Config, session Session, filler navigate.Filler, opts options) *Supervisor {
	s := &Supervisor{
		session: session,
		filler:  filler,
		opts:    opts,
		log:     logging.Named("agent"),
		sources: make(map[scrape.Platform]*sourceAgent),
		claims:  make(map[string]*atsClaim),
	}
	for _, name := range cfg.Platforms {
		p := scrape.ParsePlatform(name)
		url := listingURL(cfg, p)
		if p == scrape.PlatformUnknown || url == "" {
			s.log.Warnw("platform has no listing url, skipping", "platform", name)
			continue
		}
		s.sources[p] = newSourceAgent(s, p, url, opts)
	}
	return s
}

func listingURL(cfg *config.Config, p scrape.Platform) string {
	switch p {
	case scrape.PlatformLinkedIn:
		return cfg.LinkedInURL
	case scrape.PlatformIndeed:
		return cfg.IndeedURL
	default:
		return ""
	}
}

// Bind points the supervisor at the engine's inbox. The supervisor is
// constructed before the engine (the engine takes it as Commander), so the
// poster arrives late; it must be bound before Run.
func (s *Supervisor) Bind(p Poster) {
	s.poster = p
}

// Run drives the event pump and all source agents until ctx is cancelled.
// Agents run under one errgroup so a crashed agent tears the whole
// supervisor down rather than leaving the engine commanding a ghost.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.poster == nil {
		return errors.New("supervisor has no engine bound")
	}
	s.ctxMu.Lock()
	s.runCtx = ctx
	s.ctxMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error { return s.pumpEvents(gctx) })
	for _, a := range s.sources {
		agent := a
		g.Go(func() error { return agent.run(gctx) })
	}
	s.log.Infow("page agents running", "platforms", len(s.sources))
	return g.Wait()
}

// OpenListing asks the platform's agent to open a fresh listing tab.
func (s *Supervisor) OpenListing(p scrape.Platform) {
	s.enqueue(p, command{kind: cmdOpenListing})
}

// ScrapeJobs asks the platform's agent for the current page's job cards.
func (s *Supervisor) ScrapeJobs(p scrape.Platform) {
	s.enqueue(p, command{kind: cmdScrape})
}

// NavigateNext asks the platform's agent to turn the listing one page.
func (s *Supervisor) NavigateNext(p scrape.Platform) {
	s.enqueue(p, command{kind: cmdNextPage})
}

// ApplyToJob asks the job's platform agent to click through to an
// application. The agent acts on its own tab; sourceTabID is the engine's
// record of it.
func (s *Supervisor) ApplyToJob(job scrape.Job, sourceTabID string) {
	s.enqueue(job.Platform, command{kind: cmdApply, job: job})
}

// CloseTab tears a target down by id. Fire-and-forget: the engine calls
// this from its run loop and must not wait on the protocol.
func (s *Supervisor) CloseTab(tabID string) {
	go func() {
		ctx, cancel := context.WithTimeout(s.baseCtx(), closeTimeout)
		defer cancel()
		if err := s.session.CloseTarget(ctx, tabID); err != nil {
			s.log.Debugw("close target", "tab", tabID, "error", err)
		}
	}()
}

func (s *Supervisor) enqueue(p scrape.Platform, c command) {
	a, ok := s.sources[p]
	if !ok {
		s.log.Warnw("command for platform without an agent", "platform", p, "command", c.kind)
		return
	}
	a.enqueue(c)
}

// pumpEvents consumes the browser's target lifecycle feed. Opened targets
// are matched against apply claims; every close is forwarded so the engine
// can fail sessions whose tabs vanished.
func (s *Supervisor) pumpEvents(ctx context.Context) error {
	events := s.session.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			s.handleTargetEvent(ctx, ev)
		}
	}
}

func (s *Supervisor) handleTargetEvent(ctx context.Context, ev browser.TargetEvent) {
	switch ev.Kind {
	case browser.TargetOpened:
		claim, ok := s.matchClaim(ev.OpenerID)
		if !ok {
			s.log.Debugw("untracked tab opened", "target", ev.TargetID, "opener", ev.OpenerID, "url", ev.URL)
			return
		}
		s.log.Infow("ats tab opened", "job_id", claim.jobID, "target", ev.TargetID, "url", ev.URL)
		s.post(engine.ExternalATSOpened{JobID: claim.jobID, ATSTabID: ev.TargetID})
		claim.matched <- ev.TargetID

		jobID, targetID := claim.jobID, ev.TargetID
		s.group.Go(func() error {
			s.runATS(ctx, jobID, targetID)
			return nil
		})
	case browser.TargetClosed:
		s.post(engine.TabClosed{TabID: ev.TargetID})
	}
}

// atsClaim marks one in-flight apply click: the next page target opened by
// the claiming source tab belongs to jobID.
type atsClaim struct {
	jobID   string
	matched chan string
}

// claimNextTarget registers the claim before the apply click happens, so a
// fast popup cannot slip past the pump unclaimed.
func (s *Supervisor) claimNextTarget(sourceTabID, jobID string) *atsClaim {
	c := &atsClaim{jobID: jobID, matched: make(chan string, 1)}
	s.claimMu.Lock()
	s.claims[sourceTabID] = c
	s.claimMu.Unlock()
	return c
}

// dropClaim withdraws a claim that never matched. A claim the pump already
// consumed is left alone.
func (s *Supervisor) dropClaim(sourceTabID string, c *atsClaim) {
	s.claimMu.Lock()
	if s.claims[sourceTabID] == c {
		delete(s.claims, sourceTabID)
	}
	s.claimMu.Unlock()
}

func (s *Supervisor) matchClaim(openerID string) (*atsClaim, bool) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	c, ok := s.claims[openerID]
	if ok {
		delete(s.claims, openerID)
	}
	return c, ok
}

func (s *Supervisor) post(m engine.Message) {
	if s.poster == nil {
		s.log.Errorw("dropping message, no engine bound", "tag", m.Tag())
		return
	}
	s.poster.Post(m)
}

func (s *Supervisor) baseCtx() context.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// wait sleeps under ctx.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
