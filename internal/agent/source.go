package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/browser"
	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/navigate"
	"github.com/jonathan/apply-engine/internal/ratelimit"
	"github.com/jonathan/apply-engine/internal/scrape"
)

type cmdKind int

const (
	cmdOpenListing cmdKind = iota
	cmdScrape
	cmdNextPage
	cmdApply
	cmdProbe
)

func (k cmdKind) String() string {
	switch k {
	case cmdOpenListing:
		return "open-listing"
	case cmdScrape:
		return "scrape"
	case cmdNextPage:
		return "next-page"
	case cmdApply:
		return "apply"
	case cmdProbe:
		return "probe"
	default:
		return "unknown"
	}
}

type command struct {
	kind cmdKind
	job  scrape.Job
}

// sourceAgent owns one platform's listing tab. Commands are processed one
// at a time on the run goroutine, which is the only code touching the tab
// fields; monitor callbacks arrive on protocol goroutines and only signal.
type sourceAgent struct {
	platform scrape.Platform
	listURL  string
	sup      *Supervisor
	opts     options
	log      *zap.SugaredLogger

	cmds     chan command
	routes   chan struct{}
	gestures *throttle
	pager    *ratelimit.Bucket

	// Loop-owned state.
	tab      Tab
	page     int
	signedIn bool
}

func newSourceAgent(sup *Supervisor, platform scrape.Platform, listURL string, opts options) *sourceAgent {
	return &sourceAgent{
		platform: platform,
		listURL:  listURL,
		sup:      sup,
		opts:     opts,
		log:      logging.Named("agent").With("platform", platform),
		cmds:     make(chan command, opts.commandQueue),
		routes:   make(chan struct{}, 1),
		gestures: newThrottle(opts.gestureEvery),
		pager:    ratelimit.PerMinute(opts.pagesPerMinute),
	}
}

// enqueue hands the loop a command without blocking the caller. The engine
// never waits on an agent; a full queue drops the command and the session
// safety timers absorb whatever the drop loses.
func (a *sourceAgent) enqueue(c command) {
	select {
	case a.cmds <- c:
	default:
		a.log.Warnw("command queue full, dropping", "command", c.kind)
	}
}

func (a *sourceAgent) run(ctx context.Context) error {
	go debounce(ctx, a.routes, a.opts.routeDebounce, func() {
		a.enqueue(command{kind: cmdProbe})
	})

	for {
		select {
		case <-ctx.Done():
			a.closeTab()
			return ctx.Err()
		case c := <-a.cmds:
			a.handle(ctx, c)
		}
	}
}

func (a *sourceAgent) handle(ctx context.Context, c command) {
	switch c.kind {
	case cmdOpenListing:
		a.openListing(ctx)
	case cmdScrape:
		a.scrape(ctx)
	case cmdNextPage:
		a.nextPage(ctx)
	case cmdApply:
		a.apply(ctx, c.job)
	case cmdProbe:
		a.probe(ctx)
	}
}

// openListing replaces any previous listing tab with a fresh one on the
// configured search URL and reports the first auth read.
func (a *sourceAgent) openListing(ctx context.Context) {
	a.closeTab()

	navCtx, cancel := context.WithTimeout(ctx, a.opts.navTimeout)
	defer cancel()
	tab, err := a.sup.session.NewTab(navCtx, a.listURL)
	if err != nil {
		a.log.Errorw("failed to open listing tab", "url", a.listURL, "error", err)
		a.post(engine.JobsScraped{Platform: a.platform, Err: fmt.Sprintf("listing tab: %v", err)})
		return
	}
	a.tab = tab
	a.page = 1
	a.signedIn = false
	a.log.Infow("listing opened", "tab", tab.ID(), "url", a.listURL)

	a.installMonitors(ctx, tab)
	a.probe(ctx)
}

func (a *sourceAgent) closeTab() {
	if a.tab != nil {
		a.tab.Close()
		a.tab = nil
	}
}

// probe re-reads the tab's auth state and location and reports them. Runs
// after opening, after pagination, and debounced after SPA route changes,
// so the orchestrator's view of the tab stays fresh. An unknown auth read
// keeps the last known state; signed-out is never assumed from silence.
func (a *sourceAgent) probe(ctx context.Context) {
	if a.tab == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, a.opts.opTimeout)
	defer cancel()

	html, err := a.tab.Snapshot(opCtx)
	if err != nil {
		a.log.Warnw("listing snapshot failed", "error", err)
		return
	}
	switch DetectAuth(html, a.platform) {
	case AuthSignedIn:
		a.signedIn = true
	case AuthSignedOut:
		a.signedIn = false
	}
	url, err := a.tab.Location(opCtx)
	if err != nil {
		a.log.Debugw("location read failed", "error", err)
	}
	a.post(engine.PageNavigated{
		Platform: a.platform,
		TabID:    a.tab.ID(),
		URL:      url,
		SignedIn: a.signedIn,
	})
}

// scrape extracts the current page's job cards and reports them. The card
// work is pure DOM parsing; only the snapshot touches the tab.
func (a *sourceAgent) scrape(ctx context.Context) {
	if a.tab == nil {
		a.post(engine.JobsScraped{Platform: a.platform, Err: "no listing tab"})
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, a.opts.opTimeout)
	defer cancel()

	html, err := a.tab.Snapshot(opCtx)
	if err != nil {
		a.post(engine.JobsScraped{Platform: a.platform, Err: fmt.Sprintf("snapshot: %v", err)})
		return
	}
	base, err := a.tab.Location(opCtx)
	if err != nil {
		base = a.listURL
	}
	result, err := scrape.ExtractJobs(html, a.platform, base, a.page)
	if err != nil {
		a.post(engine.JobsScraped{Platform: a.platform, Err: err.Error()})
		return
	}
	a.post(engine.JobsScraped{Platform: a.platform, Result: result})
}

// nextPage turns the listing one page forward. Pacing comes first: the
// token bucket keeps traversal under the configured pages-per-minute no
// matter how fast sessions resolve.
func (a *sourceAgent) nextPage(ctx context.Context) {
	if a.tab == nil {
		a.post(engine.JobsScraped{Platform: a.platform, Err: "no listing tab"})
		return
	}
	if err := a.pager.Wait(ctx); err != nil {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, a.opts.opTimeout)
	defer cancel()

	html, err := a.tab.Snapshot(opCtx)
	if err != nil {
		a.post(engine.JobsScraped{Platform: a.platform, Err: fmt.Sprintf("snapshot: %v", err)})
		return
	}
	sel := pickSelector(html, scrape.NextPageSelectors(a.platform))
	if sel == "" {
		a.post(engine.JobsScraped{Platform: a.platform, Err: "next-page control not found"})
		return
	}
	if err := a.tab.Click(opCtx, sel); err != nil {
		a.post(engine.JobsScraped{Platform: a.platform, Err: fmt.Sprintf("next-page click: %v", err)})
		return
	}
	// Listing SPAs re-render in place more often than they navigate.
	if err := a.tab.WaitMutation(opCtx, a.opts.mutationWait); err != nil {
		a.log.Debugw("no mutation after next-page click", "error", err)
	}
	_ = wait(ctx, a.opts.settleDelay)

	a.page++
	a.probe(ctx)
}

// apply drives one job from card focus to a terminal report. The inline
// path resolves right here on the listing tab; the external path hands off
// to an ats agent through the supervisor's claim on the next opened tab.
func (a *sourceAgent) apply(ctx context.Context, job scrape.Job) {
	if a.tab == nil {
		a.post(engine.JobCompleted{JobID: job.ID, Success: false, Error: "listing_tab_missing"})
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, a.opts.opTimeout)
	defer cancel()

	if err := a.focusJob(opCtx, job); err != nil {
		a.log.Warnw("could not focus job card", "job_id", job.ID, "error", err)
		a.post(engine.JobCompleted{JobID: job.ID, Success: false, Error: "job_card_not_found"})
		return
	}

	claim := a.sup.claimNextTarget(a.tab.ID(), job.ID)

	if err := a.clickApply(opCtx, job); err != nil {
		a.sup.dropClaim(a.tab.ID(), claim)
		a.log.Warnw("apply button not clickable", "job_id", job.ID, "error", err)
		a.post(engine.JobCompleted{JobID: job.ID, Success: false, Error: "apply_button_not_found"})
		return
	}

	a.awaitApplyPath(ctx, job, claim)
}

// focusJob clicks the card for this specific job so the right posting has
// focus before apply is clicked.
func (a *sourceAgent) focusJob(ctx context.Context, job scrape.Job) error {
	html, err := a.tab.Snapshot(ctx)
	if err != nil {
		return err
	}
	sel := pickSelector(html, focusSelectors(job))
	if sel == "" {
		return fmt.Errorf("job card %s: %w", job.ID, browser.ErrNotFound)
	}
	if err := a.tab.Click(ctx, sel); err != nil {
		return err
	}
	// The details pane loads asynchronously; the apply button is only
	// trustworthy once the pane settles.
	if err := a.tab.WaitMutation(ctx, a.opts.mutationWait); err != nil {
		a.log.Debugw("details pane mutation wait", "error", err)
	}
	return wait(ctx, a.opts.settleDelay)
}

func (a *sourceAgent) clickApply(ctx context.Context, job scrape.Job) error {
	html, err := a.tab.Snapshot(ctx)
	if err != nil {
		return err
	}
	sel := pickSelector(html, scrape.ApplySelectors(a.platform))
	if sel == "" {
		return fmt.Errorf("apply button for %s: %w", job.ID, browser.ErrNotFound)
	}
	return a.tab.Click(ctx, sel)
}

// awaitApplyPath waits for the apply click to show its hand: the platform's
// inline dialog, a new external tab, or nothing at all.
func (a *sourceAgent) awaitApplyPath(ctx context.Context, job scrape.Job, claim *atsClaim) {
	modalSel := strings.Join(scrape.InlineModalSelectors(a.platform), ", ")

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	modalCh := make(chan error, 1)
	go func() {
		modalCh <- a.tab.WaitVisible(watchCtx, modalSel, a.opts.applyWait)
	}()

	select {
	case atsTab := <-claim.matched:
		// The pump already reported the new tab and started its agent.
		a.log.Infow("external ats path", "job_id", job.ID, "ats_tab", atsTab)

	case err := <-modalCh:
		a.sup.dropClaim(a.tab.ID(), claim)
		if err == nil {
			a.fillInline(ctx, job)
			return
		}
		// One last look for a tab that opened as the wait gave up.
		select {
		case atsTab := <-claim.matched:
			a.log.Infow("external ats path", "job_id", job.ID, "ats_tab", atsTab)
		default:
			a.log.Warnw("apply produced neither modal nor tab", "job_id", job.ID, "error", err)
			a.post(engine.JobCompleted{JobID: job.ID, Success: false, Error: "apply_no_response"})
		}

	case <-ctx.Done():
		a.sup.dropClaim(a.tab.ID(), claim)
	}
}

// fillInline runs the navigator against the platform's own dialog in the
// source tab. The classifier sees the overlay as a form and hands off to
// the filler exactly like an external ats page.
func (a *sourceAgent) fillInline(ctx context.Context, job scrape.Job) {
	a.post(engine.InlineModalDetected{JobID: job.ID})

	outcome := navigate.New(a.tab, a.sup.filler, a.opts.navigator).Run(ctx)
	if outcome.Success {
		a.log.Infow("inline application submitted", "job_id", job.ID, "steps", outcome.Steps)
		a.post(engine.JobCompleted{JobID: job.ID, Success: true})
	} else {
		a.log.Warnw("inline application failed", "job_id", job.ID, "reason", outcome.Reason)
		a.post(engine.JobCompleted{JobID: job.ID, Success: false, Error: outcome.Reason})
	}
	// A lingering dialog would block every later card click.
	a.dismissModal(ctx)
}

var dismissSelectors = []string{
	"button[aria-label='Dismiss']",
	"button[data-test-modal-close-btn]",
	"button.artdeco-modal__dismiss",
	"div.ia-Modal button[aria-label='Close']",
}

// dismissModal closes whatever dialog the apply flow left behind and
// discards drafts when asked. Best effort; a stubborn dialog is handled by
// the next openListing.
func (a *sourceAgent) dismissModal(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, a.opts.opTimeout)
	defer cancel()

	html, err := a.tab.Snapshot(opCtx)
	if err != nil {
		return
	}
	if sel := pickSelector(html, dismissSelectors); sel != "" {
		_ = a.tab.Click(opCtx, sel)
	}
	_ = a.tab.ClickText(opCtx, "discard")
}

func (a *sourceAgent) post(m engine.Message) {
	a.sup.post(m)
}

// focusSelectors locate the card link for one specific job, most specific
// first.
func focusSelectors(job scrape.Job) []string {
	id := strconv.Quote(job.ID)
	switch job.Platform {
	case scrape.PlatformLinkedIn:
		return []string{
			fmt.Sprintf("li[data-occludable-job-id=%s] a", id),
			fmt.Sprintf("div[data-job-id=%s] a", id),
			fmt.Sprintf("a[href*=%s]", strconv.Quote("/jobs/view/"+job.ID)),
		}
	case scrape.PlatformIndeed:
		return []string{
			fmt.Sprintf("a[data-jk=%s]", id),
			fmt.Sprintf("[data-jk=%s] a", id),
			fmt.Sprintf("h2.jobTitle a[href*=%s]", strconv.Quote(job.ID)),
		}
	default:
		return []string{fmt.Sprintf("a[href*=%s]", id)}
	}
}

// pickSelector returns the first selector the snapshot resolves. The click
// itself still races the live DOM, but probing the snapshot avoids blocking
// on selectors the page never had.
func pickSelector(html string, selectors []string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return ""
}
