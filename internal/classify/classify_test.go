package classify

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const applicationFormHTML = `
<html><body>
  <form action="/apply" method="post">
    <label>First Name <input type="text" name="first_name" autocomplete="given-name"></label>
    <label>Last Name <input type="text" name="last_name" autocomplete="family-name"></label>
    <label>Email <input type="email" name="email" autocomplete="email"></label>
    <label>Phone <input type="tel" name="phone" autocomplete="tel"></label>
    <label>Resume <input type="file" name="resume" accept=".pdf,.doc,.docx"></label>
    <textarea name="cover_letter"></textarea>
    <button type="submit">Submit application</button>
  </form>
</body></html>`

const modalFormHTML = `
<html><body>
  <div class="listing">background page content</div>
  <div role="dialog" aria-modal="true" class="apply-modal">
    <input type="text" name="first_name" autocomplete="given-name">
    <input type="text" name="last_name" autocomplete="family-name">
    <input type="email" name="email">
    <input type="file" name="resume" accept=".pdf">
  </div>
</body></html>`

const signupGateHTML = `
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

const intermediateHTML = `
<html><body>
  <h1>Software Engineer, Platform</h1>
  <p>Great role, great team.</p>
  <button class="primary">Apply now</button>
</body></html>`

const plainContentHTML = `
<html><body>
  <h1>About us</h1>
  <p>We make widgets.</p>
</body></html>`

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestClassify_PageTypes(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		wantType PageType
	}{
		{"plain application form", applicationFormHTML, TypeForm},
		{"form inside modal", modalFormHTML, TypeFormModal},
		{"signup gate", signupGateHTML, TypeSignup},
		{"complex captcha", complexCaptchaHTML, TypeCaptchaComplex},
		{"simple captcha", simpleCaptchaHTML, TypeCaptchaSimple},
		{"intermediate CTA page", intermediateHTML, TypeIntermediate},
		{"plain content", plainContentHTML, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify(parseDoc(t, tt.html), DefaultOptions())
			assert.Equal(t, tt.wantType, result.Type)
			if tt.wantType == TypeUnknown {
				assert.Zero(t, result.Confidence)
				return
			}
			assert.GreaterOrEqual(t, result.Confidence, DefaultOptions().MinConfidence)
			assert.NotEmpty(t, result.Evidence)
		})
	}
}

func TestClassify_FormEvidence(t *testing.T) {
	result := Classify(parseDoc(t, applicationFormHTML), DefaultOptions())

	require.Equal(t, TypeForm, result.Type)
	assert.Contains(t, result.Evidence, "given-name, family-name, and email fields")
	assert.Contains(t, result.Evidence, "resume upload input")
	// Autocomplete attributes and the phone field corroborate.
	assert.Greater(t, result.Confidence, 0.55)
}

func TestClassify_ModalOutranksPlainForm(t *testing.T) {
	result := Classify(parseDoc(t, modalFormHTML), DefaultOptions())

	require.Equal(t, TypeFormModal, result.Type)

	overlayNoted := false
	for _, ev := range result.Evidence {
		if strings.Contains(ev, "aria-modal") || strings.Contains(ev, "role=") {
			overlayNoted = true
		}
	}
	assert.True(t, overlayNoted, "expected overlay evidence, got %v", result.Evidence)
}

func TestClassify_CaptchaBeatsForm(t *testing.T) {
	// Challenge widget layered over an otherwise fillable form: the
	// challenge must win, forms are never filled behind a CAPTCHA.
	widget := `<iframe src="https://www.google.com/recaptcha/api2/anchor?k=abc"></iframe><form`
	html := strings.Replace(applicationFormHTML, "<form", widget, 1)

	result := Classify(parseDoc(t, html), DefaultOptions())
	assert.Equal(t, TypeCaptchaComplex, result.Type)
}

func TestClassify_SignupWithResumeFieldIsForm(t *testing.T) {
	// Optional-account forms carry a password field next to the real
	// application fields; the fill handoff should still get a chance.
	html := strings.Replace(applicationFormHTML, "</form>",
		`<input type="password" name="password"></form>`, 1)

	result := Classify(parseDoc(t, html), DefaultOptions())
	assert.Equal(t, TypeForm, result.Type)
}

func TestClassify_HiddenFieldsIgnored(t *testing.T) {
	html := `
<html><body>
  <input type="password" name="password" style="display: none">
  <input type="hidden" name="csrf">
  <p>nothing visible here</p>
</body></html>`

	result := Classify(parseDoc(t, html), DefaultOptions())
	assert.Equal(t, TypeUnknown, result.Type)
}

func TestClassify_SimpleCaptchaRequiresNoIframe(t *testing.T) {
	// Checkbox plus a third-party challenge iframe is the complex case.
	html := strings.Replace(simpleCaptchaHTML, "</body>",
		`<iframe src="https://js.hcaptcha.com/challenge"></iframe></body>`, 1)

	result := Classify(parseDoc(t, html), DefaultOptions())
	assert.Equal(t, TypeCaptchaComplex, result.Type)
}

func TestClassify_ThresholdFallsThrough(t *testing.T) {
	// A bare intermediate page scores around 0.7; with the bar raised
	// above that nothing is confident enough.
	result := Classify(parseDoc(t, intermediateHTML), Options{MinConfidence: 0.9})
	assert.Equal(t, TypeUnknown, result.Type)
	assert.Zero(t, result.Confidence)
}

func TestClassify_Deterministic(t *testing.T) {
	doc := parseDoc(t, modalFormHTML)

	first := Classify(doc, DefaultOptions())
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Classify(doc, DefaultOptions()))
	}
}

func TestClassifyHTML_ParsesAndClassifies(t *testing.T) {
	result, err := ClassifyHTML(applicationFormHTML, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, TypeForm, result.Type)
}

func TestPageType_Terminal(t *testing.T) {
	assert.True(t, TypeForm.Terminal())
	assert.True(t, TypeFormModal.Terminal())
	assert.True(t, TypeCaptchaComplex.Terminal())
	assert.False(t, TypeIntermediate.Terminal())
	assert.False(t, TypeSignup.Terminal())
	assert.False(t, TypeCaptchaSimple.Terminal())
	assert.False(t, TypeUnknown.Terminal())
}
