// Package navigate drives one external ATS tab from classification to a
// terminal outcome. After every DOM change the page is reclassified and the
// label decides the next action; there are no per-site rules. Failures are
// reported with a typed reason, and policy failures (complex CAPTCHA,
// account walls) are never retried.
package navigate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/browser"
	"github.com/jonathan/apply-engine/internal/classify"
	"github.com/jonathan/apply-engine/internal/config"
	"github.com/jonathan/apply-engine/internal/logging"
)

// Failure reasons surfaced to the orchestrator.
const (
	ReasonComplexCaptcha      = "complex_captcha"
	ReasonAccountRequired     = "account_required"
	ReasonUnclassifiedTimeout = "unclassified_timeout"
	ReasonStepFailed          = "step_failed"
	ReasonFillTimeout         = "fill_timeout"
	ReasonFillFailed          = "fill_failed"
	ReasonFillUnavailable     = "fill_unavailable"
	ReasonTabClosed           = "tab_closed"
	ReasonTooManySteps        = "too_many_steps"
)

// Tab is the slice of tab behavior the navigator needs. *browser.Tab
// satisfies it; tests script a fake.
type Tab interface {
	Snapshot(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string) error
	WaitMutation(ctx context.Context, timeout time.Duration) error
	Location(ctx context.Context) (string, error)
}

// Filler populates a classified application form from the stored profile.
// The navigator only bounds its time; how fields get filled is not its
// concern.
type Filler interface {
	Fill(ctx context.Context, tab Tab, page classify.Result) error
}

// Options carry the navigator's tuning. The values are heuristic and kept
// configurable rather than derived.
type Options struct {
	StepRetries   int
	StepBackoff   time.Duration
	SettleDelay   time.Duration
	MutationWait  time.Duration
	UnknownWait   time.Duration
	FillTimeout   time.Duration
	MinConfidence float64
	MaxSteps      int
}

func DefaultOptions() Options {
	return Options{
		StepRetries:   3,
		StepBackoff:   500 * time.Millisecond,
		SettleDelay:   400 * time.Millisecond,
		MutationWait:  8 * time.Second,
		UnknownWait:   30 * time.Second,
		FillTimeout:   30 * time.Second,
		MinConfidence: 0.5,
		MaxSteps:      8,
	}
}

// OptionsFromTuning maps engine configuration onto navigator options.
func OptionsFromTuning(t config.Tuning) Options {
	opts := DefaultOptions()
	opts.StepRetries = t.StepRetries
	opts.StepBackoff = t.StepBackoff()
	opts.SettleDelay = t.SettleDelay()
	opts.UnknownWait = t.UnknownWait()
	opts.FillTimeout = t.FillTimeout()
	opts.MinConfidence = t.MinConfidence
	return opts
}

// Outcome is the navigator's terminal verdict for one ATS tab.
type Outcome struct {
	Success bool
	Reason  string
	Steps   int
	Final   classify.Result
}

// Navigator owns the classify-act-wait loop for a single tab.
type Navigator struct {
	tab    Tab
	filler Filler
	opts   Options
	copts  classify.Options
	log    *zap.SugaredLogger

	sleep func(context.Context, time.Duration) error
}

func New(tab Tab, filler Filler, opts Options) *Navigator {
	return &Navigator{
		tab:    tab,
		filler: filler,
		opts:   opts,
		copts:  classify.Options{MinConfidence: opts.MinConfidence},
		log:    logging.Named("navigate"),
		sleep:  sleepCtx,
	}
}

// Run drives the tab until a terminal outcome. Every way out is an
// Outcome; the caller never sees a bare error.
func (n *Navigator) Run(ctx context.Context) Outcome {
	for step := 0; step < n.opts.MaxSteps; step++ {
		result, err := n.observe(ctx)
		if err != nil {
			return n.fail(stepReason(err), step, result)
		}
		n.log.Infow("page classified", "step", step, "type", result.Type, "confidence", result.Confidence)

		switch result.Type {
		case classify.TypeCaptchaComplex:
			// Policy failure: no click is ever attempted against these.
			return n.fail(ReasonComplexCaptcha, step, result)

		case classify.TypeForm, classify.TypeFormModal:
			return n.handOff(ctx, step, result)

		case classify.TypeCaptchaSimple:
			if err := n.clearCheckbox(ctx); err != nil {
				return n.fail(stepReason(err), step, result)
			}

		case classify.TypeSignup:
			if err := n.bypassSignup(ctx); err != nil {
				if errors.Is(err, browser.ErrTabClosed) {
					return n.fail(ReasonTabClosed, step, result)
				}
				return n.fail(ReasonAccountRequired, step, result)
			}

		case classify.TypeIntermediate:
			if err := n.advance(ctx); err != nil {
				return n.fail(stepReason(err), step, result)
			}

		default:
			// Unknown survived the whole observation window.
			return n.fail(ReasonUnclassifiedTimeout, step, result)
		}
	}
	return n.fail(ReasonTooManySteps, n.opts.MaxSteps, classify.Result{Type: classify.TypeUnknown})
}

// observe classifies the current page, staying with an unknown label only
// as long as the observation window allows. A non-unknown label returns
// immediately; unknown returns once the window closes and the caller
// treats it as a timeout.
func (n *Navigator) observe(ctx context.Context) (classify.Result, error) {
	window, cancel := context.WithTimeout(ctx, n.opts.UnknownWait)
	defer cancel()

	for {
		result, err := n.classifyOnce(ctx)
		if err != nil {
			return result, err
		}
		if result.Type != classify.TypeUnknown {
			return result, nil
		}
		if err := n.tab.WaitMutation(window, n.opts.MutationWait); err != nil {
			if errors.Is(err, browser.ErrWaitTimeout) {
				if window.Err() != nil {
					return result, nil
				}
				continue
			}
			return result, err
		}
	}
}

func (n *Navigator) classifyOnce(ctx context.Context) (classify.Result, error) {
	unknown := classify.Result{Type: classify.TypeUnknown}
	html, err := n.tab.Snapshot(ctx)
	if err != nil {
		return unknown, err
	}
	result, err := classify.ClassifyHTML(html, n.copts)
	if err != nil {
		return unknown, err
	}
	return result, nil
}

// advance clicks the primary call-to-action of an intermediate page and
// waits for the DOM to move.
func (n *Navigator) advance(ctx context.Context) error {
	return n.retryStep(ctx, "advance intermediate page", func(ctx context.Context) error {
		act, err := n.locate(ctx, findCTA, "call-to-action")
		if err != nil {
			return err
		}
		if err := n.perform(ctx, act); err != nil {
			return err
		}
		return n.awaitChange(ctx)
	})
}

// bypassSignup looks for a guest path through an account gate. Exhausting
// the budget means the wall is real.
func (n *Navigator) bypassSignup(ctx context.Context) error {
	return n.retryStep(ctx, "bypass signup gate", func(ctx context.Context) error {
		act, err := n.locate(ctx, findGuestPath, "guest affordance")
		if err != nil {
			return err
		}
		if err := n.perform(ctx, act); err != nil {
			return err
		}
		return n.awaitChange(ctx)
	})
}

// clearCheckbox clicks a single-checkbox challenge and waits for the page
// to react.
func (n *Navigator) clearCheckbox(ctx context.Context) error {
	return n.retryStep(ctx, "clear captcha checkbox", func(ctx context.Context) error {
		act, err := n.locate(ctx, findCaptchaCheckbox, "captcha checkbox")
		if err != nil {
			return err
		}
		if err := n.perform(ctx, act); err != nil {
			return err
		}
		return n.awaitChange(ctx)
	})
}

// handOff gives the form filler a bounded window. The filler not
// responding inside it is a terminal failure, not a hang.
func (n *Navigator) handOff(ctx context.Context, step int, result classify.Result) Outcome {
	if n.filler == nil {
		return n.fail(ReasonFillUnavailable, step, result)
	}
	n.log.Infow("handing off to form filler", "type", result.Type, "confidence", result.Confidence)

	fillCtx, cancel := context.WithTimeout(ctx, n.opts.FillTimeout)
	defer cancel()

	if err := n.filler.Fill(fillCtx, n.tab, result); err != nil {
		switch {
		case errors.Is(err, browser.ErrTabClosed):
			return n.fail(ReasonTabClosed, step, result)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return n.fail(ReasonFillTimeout, step, result)
		default:
			n.log.Warnw("form fill failed", "error", err)
			return n.fail(ReasonFillFailed, step, result)
		}
	}

	n.log.Infow("form fill complete", "steps", step+1)
	return Outcome{Success: true, Steps: step + 1, Final: result}
}

// locate snapshots the page and runs a finder over it.
func (n *Navigator) locate(ctx context.Context, find func(string) (action, error), what string) (action, error) {
	html, err := n.tab.Snapshot(ctx)
	if err != nil {
		return action{}, err
	}
	act, err := find(html)
	if err != nil {
		return action{}, err
	}
	if !act.found() {
		return action{}, fmt.Errorf("%s: %w", what, browser.ErrNotFound)
	}
	return act, nil
}

func (n *Navigator) perform(ctx context.Context, act action) error {
	n.log.Debugw("clicking", "target", act.String())
	if act.selector != "" {
		return n.tab.Click(ctx, act.selector)
	}
	return n.tab.ClickText(ctx, act.text)
}

// awaitChange lets a just-triggered navigation begin, then waits for the
// mutation it should cause.
func (n *Navigator) awaitChange(ctx context.Context) error {
	if err := n.sleep(ctx, n.opts.SettleDelay); err != nil {
		return err
	}
	return n.tab.WaitMutation(ctx, n.opts.MutationWait)
}

// retryStep runs one click-and-wait step under its own small budget with
// increasing backoff. A dead tab short-circuits.
func (n *Navigator) retryStep(ctx context.Context, name string, step func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= n.opts.StepRetries; attempt++ {
		if attempt > 0 {
			if err := n.sleep(ctx, time.Duration(attempt)*n.opts.StepBackoff); err != nil {
				return err
			}
		}
		if lastErr = step(ctx); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, browser.ErrTabClosed) || ctx.Err() != nil {
			return lastErr
		}
		n.log.Debugw("step attempt failed", "step", name, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("%s: %w", name, lastErr)
}

func (n *Navigator) fail(reason string, steps int, final classify.Result) Outcome {
	n.log.Warnw("navigation failed", "reason", reason, "steps", steps, "page_type", final.Type)
	return Outcome{Reason: reason, Steps: steps, Final: final}
}

func stepReason(err error) string {
	if errors.Is(err, browser.ErrTabClosed) {
		return ReasonTabClosed
	}
	return ReasonStepFailed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
