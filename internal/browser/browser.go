// Package browser drives real Chrome tabs over the DevTools protocol.
//
// One Browser owns the exec allocator and the root browser context; each Tab
// wraps one page target. Tab lifecycle events (a site opening a new tab, a
// user closing one) surface on the Browser's event channel so the engine can
// bind ATS tabs to sessions and fail sessions whose tabs disappear.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/logging"
)

// Options configures the Chrome launch.
type Options struct {
	Headless    bool
	ChromePath  string // empty uses the chromedp default lookup
	UserDataDir string // empty uses a throwaway profile
}

// TargetEventKind distinguishes tab lifecycle notifications.
type TargetEventKind string

const (
	TargetOpened TargetEventKind = "opened"
	TargetClosed TargetEventKind = "closed"
)

// TargetEvent reports a page target appearing or disappearing. OpenerID is
// set when the browser knows which existing tab spawned the new one, which is
// how an external ATS tab is traced back to its source listing tab.
type TargetEvent struct {
	Kind     TargetEventKind
	TargetID string
	OpenerID string
	URL      string
}

// Browser owns a running Chrome instance and its tabs.
type Browser struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	events      chan TargetEvent
	log         *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// Launch starts Chrome and begins watching target lifecycle events.
// Requires Chrome/Chromium to be installed on the system.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Sites use window.open for external applications; popup blocking
		// would silently break the ATS path.
		chromedp.Flag("disable-popup-blocking", true),
	)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		events:      make(chan TargetEvent, 64),
		log:         logging.Named("browser"),
	}

	chromedp.ListenBrowser(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			if e.TargetInfo.Type != "page" {
				return
			}
			b.emit(TargetEvent{
				Kind:     TargetOpened,
				TargetID: string(e.TargetInfo.TargetID),
				OpenerID: string(e.TargetInfo.OpenerID),
				URL:      e.TargetInfo.URL,
			})
		case *target.EventTargetDestroyed:
			b.emit(TargetEvent{Kind: TargetClosed, TargetID: string(e.TargetID)})
		}
	})

	// Starting the browser and enabling discovery must happen before any
	// tab work; discovery is what feeds the event channel.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	// Target discovery is a browser-level command, not a tab-session one.
	c := chromedp.FromContext(browserCtx)
	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(browserCtx, c.Browser)); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to enable target discovery: %w", err)
	}

	b.log.Infow("browser launched", "headless", opts.Headless)
	return b, nil
}

// Events returns the tab lifecycle feed. The channel is never closed while
// the browser runs; slow consumers lose events rather than stalling CDP
// dispatch.
func (b *Browser) Events() <-chan TargetEvent {
	return b.events
}

func (b *Browser) emit(ev TargetEvent) {
	select {
	case b.events <- ev:
	default:
		b.log.Warnw("dropping target event, consumer too slow",
			"kind", ev.Kind, "target", ev.TargetID)
	}
}

// NewTab opens a fresh tab and navigates it to url.
func (b *Browser) NewTab(ctx context.Context, url string) (*Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)

	t, err := newTab(tabCtx, tabCancel, b.log)
	if err != nil {
		tabCancel()
		return nil, err
	}
	if err := t.Navigate(ctx, url); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// AdoptTab attaches to a target that something else opened, typically the
// ATS tab spawned by clicking apply on a listing.
func (b *Browser) AdoptTab(ctx context.Context, targetID string) (*Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx,
		chromedp.WithTargetID(target.ID(targetID)))

	t, err := newTab(tabCtx, tabCancel, b.log)
	if err != nil {
		tabCancel()
		return nil, &Error{Op: "adopt", Target: targetID, Message: "attach failed", Cause: err}
	}
	return t, nil
}

// CloseTarget closes a tab by id without needing an attached Tab. Used for
// cleanup of ATS tabs whose sessions failed before adoption.
func (b *Browser) CloseTarget(ctx context.Context, targetID string) error {
	c := chromedp.FromContext(b.ctx)
	err := target.CloseTarget(target.ID(targetID)).Do(cdp.WithExecutor(ctx, c.Browser))
	if err != nil {
		return &Error{Op: "close", Target: targetID, Message: "close target failed", Cause: err}
	}
	return nil
}

// Close shuts Chrome down. Safe to call more than once.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
	b.allocCancel()
	b.log.Infow("browser closed")
}
