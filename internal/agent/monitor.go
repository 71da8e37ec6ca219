package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/scrape"
)

const (
	gestureBinding = "applyAgentGesture"
	routeBinding   = "applyAgentRoute"
)

// monitorScript runs at document start in every frame of a source tab. It
// reports trusted user gestures and SPA route changes through the exposed
// bindings. Re-injection is guarded so a reload cannot double the hooks.
const monitorScript = `(() => {
  if (window.__applyAgentHooks) { return; }
  window.__applyAgentHooks = true;

  const gesture = (ev) => {
    if (!ev.isTrusted) { return; }
    if (document.visibilityState !== "visible") { return; }
    try { window.` + gestureBinding + `("gesture"); } catch (e) {}
  };
  window.addEventListener("click", gesture, { capture: true, passive: true });
  window.addEventListener("keydown", gesture, { capture: true, passive: true });

  const route = () => {
    try { window.` + routeBinding + `(location.href); } catch (e) {}
  };
  const wrap = (name) => {
    const orig = history[name];
    history[name] = function () {
      const out = orig.apply(this, arguments);
      route();
      return out;
    };
  };
  wrap("pushState");
  wrap("replaceState");
  window.addEventListener("popstate", route);
  route();
})();`

// installMonitors wires the gesture and route hooks into a freshly opened
// listing tab. Each step degrades independently; an unmonitored tab still
// scrapes and applies, it just cannot yield to the user.
func (a *sourceAgent) installMonitors(ctx context.Context, tab Tab) {
	opCtx, cancel := context.WithTimeout(ctx, a.opts.opTimeout)
	defer cancel()

	if err := tab.ExposeFunc(opCtx, gestureBinding, a.onGesture); err != nil {
		a.log.Warnw("gesture binding unavailable", "error", err)
	}
	if err := tab.ExposeFunc(opCtx, routeBinding, a.onRoute); err != nil {
		a.log.Warnw("route binding unavailable", "error", err)
	}
	if err := tab.AddInitScript(opCtx, monitorScript); err != nil {
		a.log.Warnw("monitor script injection failed", "error", err)
	}
}

// onGesture arrives on a protocol event goroutine and must not block. The
// throttle collapses click storms to one pause signal per interval.
func (a *sourceAgent) onGesture(string) {
	if !a.gestures.Allow() {
		return
	}
	a.post(engine.UserInteraction{Platform: a.platform})
}

// onRoute arrives on a protocol event goroutine. SPA transitions fire
// pushState several times per click, so the signal only pokes the
// debouncer; the agent loop probes once things go quiet.
func (a *sourceAgent) onRoute(string) {
	select {
	case a.routes <- struct{}{}:
	default:
	}
}

// throttle admits at most one event per interval. Safe for concurrent use.
type throttle struct {
	mu    sync.Mutex
	every time.Duration
	last  time.Time
	now   func() time.Time
}

func newThrottle(every time.Duration) *throttle {
	return &throttle{every: every, now: time.Now}
}

func (t *throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.now()
	if !t.last.IsZero() && n.Sub(t.last) < t.every {
		return false
	}
	t.last = n
	return true
}

// debounce calls fire once the pokes channel has been quiet for wait.
// Bursts collapse to a single call. Returns when ctx ends.
func debounce(ctx context.Context, pokes <-chan struct{}, wait time.Duration, fire func()) {
	timer := time.NewTimer(wait)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	armed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-pokes:
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			armed = true
		case <-timer.C:
			armed = false
			fire()
		}
	}
}

// AuthState is the agent's read of whether the platform session is
// authenticated.
type AuthState int

const (
	AuthUnknown AuthState = iota
	AuthSignedIn
	AuthSignedOut
)

// DetectAuth classifies a listing snapshot's authentication state from
// platform-specific DOM markers. Signed-in markers win when both kinds
// appear: profile widgets only render for authenticated sessions, while
// sign-in links linger in footers and nag banners either way.
func DetectAuth(html string, platform scrape.Platform) AuthState {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return AuthUnknown
	}
	for _, sel := range scrape.SignedInSelectors(platform) {
		if doc.Find(sel).Length() > 0 {
			return AuthSignedIn
		}
	}
	for _, sel := range scrape.SignedOutSelectors(platform) {
		if doc.Find(sel).Length() > 0 {
			return AuthSignedOut
		}
	}
	return AuthUnknown
}
