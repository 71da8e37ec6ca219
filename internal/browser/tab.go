package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Tab wraps one attached page target. Operations are serialized per tab: the
// protocol channel is shared and interleaved clicks/waits from two
// goroutines would corrupt each other's expectations anyway (one job session
// per tab by design).
type Tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger

	opMu      sync.Mutex
	navCh     chan string
	closed    atomic.Bool
	closeOnce sync.Once
}

func newTab(tabCtx context.Context, cancel context.CancelFunc, log *zap.SugaredLogger) (*Tab, error) {
	// Run with no actions forces target allocation/attachment.
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("failed to attach tab: %w", err)
	}

	c := chromedp.FromContext(tabCtx)
	t := &Tab{
		id:     string(c.Target.TargetID),
		ctx:    tabCtx,
		cancel: cancel,
		navCh:  make(chan string, 1),
	}
	t.log = log.With("tab", t.id)

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			// Top frame only; iframe churn is not a page navigation.
			if e.Frame.ParentID == "" {
				t.notifyNav(e.Frame.URL)
			}
		}
	})

	return t, nil
}

// ID returns the DevTools target id.
func (t *Tab) ID() string {
	return t.id
}

// run executes actions against this tab, honoring caller cancellation and
// deadline on top of the tab's own lifetime.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.closed.Load() {
		return ErrTabClosed
	}

	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && t.ctx.Err() != nil {
		return ErrTabClosed
	}
	return err
}

// Navigate loads url and waits for the document to be ready.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	err := t.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		return &Error{Op: "navigate", Target: t.id, Message: url, Cause: err}
	}
	return nil
}

// Location returns the tab's current URL.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var url string
	if err := t.run(ctx, chromedp.Location(&url)); err != nil {
		return "", &Error{Op: "location", Target: t.id, Message: "read failed", Cause: err}
	}
	return url, nil
}

// Snapshot returns the current serialized DOM, the input to classification.
func (t *Tab) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", &Error{Op: "snapshot", Target: t.id, Message: "outer html failed", Cause: err}
	}
	return html, nil
}

// Click clicks the first visible element matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	if err := t.run(ctx, chromedp.Click(selector, chromedp.NodeVisible)); err != nil {
		return &Error{Op: "click", Target: t.id, Message: selector, Cause: err}
	}
	return nil
}

// ClickText clicks the first clickable element whose visible text matches
// want, case-insensitive, exact or prefix. CSS cannot express text matches,
// so this runs in the page.
func (t *Tab) ClickText(ctx context.Context, want string) error {
	expr := fmt.Sprintf(clickTextJS, strconv.Quote(strings.ToLower(strings.TrimSpace(want))))
	var clicked bool
	if err := t.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return &Error{Op: "click-text", Target: t.id, Message: want, Cause: err}
	}
	if !clicked {
		return &Error{Op: "click-text", Target: t.id, Message: "no element with text " + want, Cause: ErrNotFound}
	}
	return nil
}

const clickTextJS = `(() => {
	const want = %s;
	const els = document.querySelectorAll('button, a, input[type="submit"], input[type="button"], [role="button"]');
	for (const el of els) {
		if (el.offsetParent === null && el.getClientRects().length === 0) continue;
		const text = (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().toLowerCase();
		if (text === want || text.startsWith(want + ' ')) {
			el.click();
			return true;
		}
	}
	return false;
})()`

// Fill types value into the first visible element matching selector,
// clearing it first so repeated fills do not concatenate.
func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	err := t.run(ctx,
		chromedp.Clear(selector, chromedp.NodeVisible),
		chromedp.SendKeys(selector, value, chromedp.NodeVisible),
	)
	if err != nil {
		return &Error{Op: "fill", Target: t.id, Message: selector, Cause: err}
	}
	return nil
}

// SetFiles attaches local files to a file input.
func (t *Tab) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := t.run(ctx, chromedp.SetUploadFiles(selector, paths)); err != nil {
		return &Error{Op: "upload", Target: t.id, Message: selector, Cause: err}
	}
	return nil
}

// Evaluate runs a JS expression; res may be nil when the value is unwanted.
func (t *Tab) Evaluate(ctx context.Context, expr string, res interface{}) error {
	if err := t.run(ctx, chromedp.Evaluate(expr, res)); err != nil {
		return &Error{Op: "evaluate", Target: t.id, Message: "script failed", Cause: err}
	}
	return nil
}

// WaitVisible blocks until selector is visible or the bound elapses.
func (t *Tab) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return t.waitError("wait-visible", selector, err)
	}
	return nil
}

// WaitGone blocks until no element matches selector.
func (t *Tab) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.run(waitCtx, chromedp.WaitNotPresent(selector, chromedp.ByQuery)); err != nil {
		return t.waitError("wait-gone", selector, err)
	}
	return nil
}

const domFingerprintJS = `document.documentElement ? document.documentElement.outerHTML.length : 0`

// WaitMutation suspends until the DOM changes from its current shape or the
// bound elapses. Evaluation is mutation-driven (no busy polling): the
// predicate re-runs only when the page's MutationObserver fires.
func (t *Tab) WaitMutation(ctx context.Context, timeout time.Duration) error {
	var baseline int
	if err := t.run(ctx, chromedp.Evaluate(domFingerprintJS, &baseline)); err != nil {
		return t.waitError("wait-mutation", "baseline", err)
	}

	expr := fmt.Sprintf(`(%s) !== %d`, domFingerprintJS, baseline)
	var changed bool
	err := t.run(ctx, chromedp.Poll(expr, &changed,
		chromedp.WithPollingMutation(),
		chromedp.WithPollingTimeout(timeout),
	))
	if err != nil {
		// A navigation tears down the execution context mid-poll; that is
		// the largest DOM change there is, not a failure.
		if isContextTornDown(err) {
			return nil
		}
		return t.waitError("wait-mutation", "poll", err)
	}
	return nil
}

// WaitFunc suspends until the given JS expression evaluates truthy.
func (t *Tab) WaitFunc(ctx context.Context, expr string, timeout time.Duration) error {
	var res bool
	err := t.run(ctx, chromedp.Poll(expr, &res,
		chromedp.WithPollingMutation(),
		chromedp.WithPollingTimeout(timeout),
	))
	if err != nil {
		return t.waitError("wait-func", expr, err)
	}
	return nil
}

// WaitNavigated blocks until the tab's top frame navigates, returning the new
// URL. One waiter at a time; the page agent owns its tab's navigation waits.
func (t *Tab) WaitNavigated(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case url := <-t.navCh:
		return url, nil
	case <-timer.C:
		return "", &Error{Op: "wait-navigated", Target: t.id, Message: "no navigation", Cause: ErrWaitTimeout}
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.ctx.Done():
		return "", ErrTabClosed
	}
}

// ExpectNavigation drains any stale navigation notice, runs act, then waits
// for the navigation act should have triggered.
func (t *Tab) ExpectNavigation(ctx context.Context, timeout time.Duration, act func(context.Context) error) (string, error) {
	t.drainNav()
	if err := act(ctx); err != nil {
		return "", err
	}
	return t.WaitNavigated(ctx, timeout)
}

// ExposeFunc installs a page-callable function forwarding its string payload
// to fn. Survives navigations within the tab.
func (t *Tab) ExposeFunc(ctx context.Context, name string, fn func(payload string)) error {
	err := t.run(ctx, chromedp.Expose(name, func(args string) (string, error) {
		fn(args)
		return "", nil
	}))
	if err != nil {
		return &Error{Op: "expose", Target: t.id, Message: name, Cause: err}
	}
	return nil
}

// AddInitScript injects script into the current document and re-injects it
// on every future navigation. Scripts must be idempotent.
func (t *Tab) AddInitScript(ctx context.Context, script string) error {
	err := t.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		return &Error{Op: "init-script", Target: t.id, Message: "injection failed", Cause: err}
	}
	return nil
}

// Close closes the underlying target. Safe to call more than once.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		// Cancel() closes the target before releasing the context, so the
		// tab actually disappears from the browser.
		if err := chromedp.Cancel(t.ctx); err != nil {
			t.log.Debugw("tab close", "err", err)
		}
		t.cancel()
	})
}

func (t *Tab) notifyNav(url string) {
	// Keep only the latest navigation; stale ones are worthless.
	select {
	case <-t.navCh:
	default:
	}
	select {
	case t.navCh <- url:
	default:
	}
}

func (t *Tab) drainNav() {
	select {
	case <-t.navCh:
	default:
	}
}

func (t *Tab) waitError(op, detail string, err error) error {
	if err == nil {
		return nil
	}
	if t.ctx.Err() != nil {
		return ErrTabClosed
	}
	cause := err
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, chromedp.ErrPollingTimeout) {
		cause = ErrWaitTimeout
	}
	return &Error{Op: op, Target: t.id, Message: detail, Cause: cause}
}

func isContextTornDown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution context was destroyed") ||
		strings.Contains(msg, "cannot find context")
}
