package navigate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-engine/internal/browser"
	"github.com/jonathan/apply-engine/internal/classify"
)

const formHTML = `
<html><body>
  <form action="/apply" method="post">
    <input type="text" name="first_name" autocomplete="given-name">
    <input type="text" name="last_name" autocomplete="family-name">
    <input type="email" name="email" autocomplete="email">
    <input type="file" name="resume" accept=".pdf,.doc">
    <button type="submit">Submit application</button>
  </form>
</body></html>`

const intermediateHTML = `
<html><body>
  <h1>Software Engineer, Platform</h1>
  <p>Join a small team doing big things.</p>
  <button class="primary">Apply now</button>
</body></html>`

const workdayIntermediateHTML = `
<html><body>
  <h1>Senior Engineer</h1>
  <a data-automation-id="adventureButton" href="/apply">Apply</a>
</body></html>`

const signupGuestHTML = `
<html><body>
  <h1>Create an account to continue</h1>
  <input type="email" name="email">
  <input type="password" name="password">
  <button>Sign up</button>
  <button class="secondary">Continue as guest</button>
</body></html>`

const signupWallHTML = `
<html><body>
  <h1>Create an account to continue</h1>
  <input type="email" name="email">
  <input type="password" name="password">
  <input type="password" name="confirm_password">
  <button>Sign up</button>
</body></html>`

const complexCaptchaHTML = `
<html><body>
  <div class="g-recaptcha" data-sitekey="abc123"></div>
  <iframe src="https://www.google.com/recaptcha/api2/anchor?k=abc123"></iframe>
</body></html>`

const simpleCaptchaHTML = `
<html><body>
  <p>Please verify you are human before continuing.</p>
  <div class="captcha-box">
    <input type="checkbox" id="challenge-checkbox">
    <span>I am not a robot</span>
  </div>
</body></html>`

const plainHTML = `
<html><body>
  <h1>About us</h1>
  <p>We make widgets.</p>
</body></html>`

// fakeTab serves a scripted page sequence. A successful click advances to
// the next page and satisfies the following mutation wait.
type fakeTab struct {
	pages        []string
	idx          int
	clicks       []string
	failClicks   int
	snapErr      error
	snapErrAfter int
	snapshots    int
	mutated      bool
}

func (f *fakeTab) Snapshot(ctx context.Context) (string, error) {
	f.snapshots++
	if f.snapErr != nil && f.snapshots > f.snapErrAfter {
		return "", f.snapErr
	}
	if f.idx >= len(f.pages) {
		return f.pages[len(f.pages)-1], nil
	}
	return f.pages[f.idx], nil
}

func (f *fakeTab) Click(ctx context.Context, selector string) error {
	return f.click(selector)
}

func (f *fakeTab) ClickText(ctx context.Context, text string) error {
	return f.click("text=" + text)
}

func (f *fakeTab) click(target string) error {
	f.clicks = append(f.clicks, target)
	if f.failClicks > 0 {
		f.failClicks--
		return errors.New("node not visible")
	}
	if f.idx < len(f.pages)-1 {
		f.idx++
	}
	f.mutated = true
	return nil
}

func (f *fakeTab) WaitMutation(ctx context.Context, timeout time.Duration) error {
	if f.mutated {
		f.mutated = false
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return browser.ErrWaitTimeout
	case <-timer.C:
		return browser.ErrWaitTimeout
	}
}

func (f *fakeTab) Location(ctx context.Context) (string, error) {
	return "https://ats.example.com/apply", nil
}

type fakeFiller struct {
	err   error
	block bool
	calls []classify.Result
}

func (f *fakeFiller) Fill(ctx context.Context, tab Tab, page classify.Result) error {
	f.calls = append(f.calls, page)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func testOptions() Options {
	return Options{
		StepRetries:   2,
		StepBackoff:   time.Millisecond,
		SettleDelay:   0,
		MutationWait:  10 * time.Millisecond,
		UnknownWait:   40 * time.Millisecond,
		FillTimeout:   30 * time.Millisecond,
		MinConfidence: 0.5,
		MaxSteps:      5,
	}
}

func TestNavigator_FormHandsOffToFiller(t *testing.T) {
	tab := &fakeTab{pages: []string{formHTML}}
	filler := &fakeFiller{}
	nav := New(tab, filler, testOptions())

	outcome := nav.Run(context.Background())

	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.Steps)
	assert.Equal(t, classify.TypeForm, outcome.Final.Type)
	require.Len(t, filler.calls, 1)
	assert.Equal(t, classify.TypeForm, filler.calls[0].Type)
	assert.Empty(t, tab.clicks, "a recognized form needs no navigation clicks")
}

func TestNavigator_ComplexCaptchaFailsWithZeroClicks(t *testing.T) {
	tab := &fakeTab{pages: []string{complexCaptchaHTML}}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonComplexCaptcha, outcome.Reason)
	assert.Empty(t, tab.clicks, "complex captcha must terminate before any click")
}

func TestNavigator_IntermediatePageAdvancesToForm(t *testing.T) {
	tab := &fakeTab{pages: []string{intermediateHTML, formHTML}}
	filler := &fakeFiller{}
	nav := New(tab, filler, testOptions())

	outcome := nav.Run(context.Background())

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Steps)
	require.Len(t, tab.clicks, 1)
	assert.Equal(t, "text=apply now", tab.clicks[0])
	require.Len(t, filler.calls, 1)
}

func TestNavigator_AttributeCTAPreferredOverText(t *testing.T) {
	tab := &fakeTab{pages: []string{workdayIntermediateHTML, formHTML}}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.True(t, outcome.Success)
	require.Len(t, tab.clicks, 1)
	assert.Equal(t, "a[data-automation-id='adventureButton']", tab.clicks[0])
}

func TestNavigator_SignupGateWithGuestPath(t *testing.T) {
	tab := &fakeTab{pages: []string{signupGuestHTML, formHTML}}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.True(t, outcome.Success)
	require.Len(t, tab.clicks, 1)
	assert.Equal(t, "text=continue as guest", tab.clicks[0])
}

func TestNavigator_SignupWallFailsAccountRequired(t *testing.T) {
	tab := &fakeTab{pages: []string{signupWallHTML}}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonAccountRequired, outcome.Reason)
	assert.Empty(t, tab.clicks, "nothing to click through a real account wall")
	assert.GreaterOrEqual(t, tab.snapshots, 3, "the guest path is searched for across the retry budget")
}

func TestNavigator_SimpleCaptchaCheckboxClicked(t *testing.T) {
	tab := &fakeTab{pages: []string{simpleCaptchaHTML, formHTML}}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.True(t, outcome.Success)
	require.Len(t, tab.clicks, 1)
	assert.Equal(t, "#challenge-checkbox", tab.clicks[0])
}

func TestNavigator_UnknownPageTimesOut(t *testing.T) {
	tab := &fakeTab{pages: []string{plainHTML}}
	nav := New(tab, &fakeFiller{}, testOptions())

	start := time.Now()
	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonUnclassifiedTimeout, outcome.Reason)
	assert.Empty(t, tab.clicks)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond, "unknown must be given the observation window")
}

func TestNavigator_StepRetriesExhausted(t *testing.T) {
	tab := &fakeTab{pages: []string{intermediateHTML}, failClicks: 99}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonStepFailed, outcome.Reason)
	assert.Len(t, tab.clicks, 3, "initial attempt plus two retries")
}

func TestNavigator_TooManyIntermediateSteps(t *testing.T) {
	pages := make([]string, 8)
	for i := range pages {
		pages[i] = intermediateHTML
	}
	opts := testOptions()
	opts.MaxSteps = 3
	nav := New(&fakeTab{pages: pages}, &fakeFiller{}, opts)

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonTooManySteps, outcome.Reason)
	assert.Equal(t, 3, outcome.Steps)
}

func TestNavigator_FillTimeoutIsBounded(t *testing.T) {
	tab := &fakeTab{pages: []string{formHTML}}
	nav := New(tab, &fakeFiller{block: true}, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonFillTimeout, outcome.Reason)
}

func TestNavigator_FillErrorFails(t *testing.T) {
	tab := &fakeTab{pages: []string{formHTML}}
	nav := New(tab, &fakeFiller{err: errors.New("field mapping failed")}, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonFillFailed, outcome.Reason)
}

func TestNavigator_NoFillerConfigured(t *testing.T) {
	tab := &fakeTab{pages: []string{formHTML}}
	nav := New(tab, nil, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonFillUnavailable, outcome.Reason)
}

func TestNavigator_TabClosedReportedAsSuch(t *testing.T) {
	tab := &fakeTab{pages: []string{intermediateHTML}, snapErr: browser.ErrTabClosed, snapErrAfter: 0}
	nav := New(tab, &fakeFiller{}, testOptions())

	outcome := nav.Run(context.Background())

	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonTabClosed, outcome.Reason)
}

func TestFindCTA(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		wantSel  string
		wantText string
	}{
		{name: "attribute selector wins", html: workdayIntermediateHTML, wantSel: "a[data-automation-id='adventureButton']"},
		{name: "text fallback", html: intermediateHTML, wantText: "apply now"},
		{name: "nothing clickable", html: plainHTML},
		{
			name:    "hidden control skipped",
			html:    `<html><body><button style="display: none">Apply now</button></body></html>`,
		},
		{
			name:     "specific phrase preferred",
			html:     `<html><body><button>Continue</button><button>Continue to application</button></body></html>`,
			wantText: "continue to application",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := findCTA(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSel, act.selector)
			assert.Equal(t, tt.wantText, act.text)
		})
	}
}

func TestFindGuestPath(t *testing.T) {
	act, err := findGuestPath(signupGuestHTML)
	require.NoError(t, err)
	assert.Equal(t, "continue as guest", act.text)

	act, err = findGuestPath(signupWallHTML)
	require.NoError(t, err)
	assert.False(t, act.found())

	act, err = findGuestPath(`<html><body><a href="/apply/guest">Apply without signing in</a></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "a[href*='guest']", act.selector)
}

func TestFindCaptchaCheckbox(t *testing.T) {
	act, err := findCaptchaCheckbox(simpleCaptchaHTML)
	require.NoError(t, err)
	assert.Equal(t, "#challenge-checkbox", act.selector)

	act, err = findCaptchaCheckbox(`<html><body><div class="verify-robot"><input type="checkbox" name="verify"></div></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, `input[name="verify"]`, act.selector)

	// A consent checkbox outside any challenge context is not a captcha.
	act, err = findCaptchaCheckbox(`<html><body><label><input type="checkbox" id="agree-terms"> I accept the privacy policy</label></body></html>`)
	require.NoError(t, err)
	assert.False(t, act.found())
}
