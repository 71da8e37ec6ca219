package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DOM signal helpers shared by the predicates. A snapshot carries no computed
// layout, so visibility and overlay checks key off markup: attributes,
// classes, and inline styles.

var (
	givenNameRe  = regexp.MustCompile(`(?i)\b(first[_\s-]?name|given[_\s-]?name|fname)\b`)
	familyNameRe = regexp.MustCompile(`(?i)\b(last[_\s-]?name|family[_\s-]?name|surname|lname)\b`)
	emailRe      = regexp.MustCompile(`(?i)\be-?mail\b`)
	phoneRe      = regexp.MustCompile(`(?i)\b(phone|mobile|tel)\b`)
	resumeRe     = regexp.MustCompile(`(?i)\b(resume|resumé|cv|curriculum)\b`)
	overlayRe    = regexp.MustCompile(`(?i)\b(modal|overlay|dialog|popup|lightbox|drawer)\b`)
	captchaRe    = regexp.MustCompile(`(?i)captcha|challenge`)
	robotTextRe  = regexp.MustCompile(`(?i)not a robot|are you human|verify you are|security check`)
	signupTextRe = regexp.MustCompile(`(?i)create (an |your )?account|sign ?up|register|join now`)
)

// ctaTexts are the normalized labels treated as a primary call to action.
var ctaTexts = []string{
	"apply",
	"apply now",
	"easy apply",
	"continue",
	"continue to application",
	"continue application",
	"next",
	"start application",
	"start applying",
	"get started",
	"proceed",
	"i'm interested",
}

// challengeHosts mark third-party CAPTCHA iframes.
var challengeHosts = []string{
	"recaptcha",
	"hcaptcha",
	"turnstile",
	"arkoselabs",
	"funcaptcha",
	"geo.captcha-delivery",
}

// isHidden reports whether an element is statically hidden. Inline styles
// only; a snapshot cannot resolve stylesheet-driven visibility.
func isHidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, _ := s.Attr("aria-hidden"); v == "true" {
		return true
	}
	if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
		return true
	}
	style := normalizeStyle(s)
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func normalizeStyle(s *goquery.Selection) string {
	style, _ := s.Attr("style")
	return strings.ToLower(strings.ReplaceAll(style, " ", ""))
}

// visibleInputs returns the snapshot's non-hidden input and textarea
// elements in document order.
func visibleInputs(doc *goquery.Document) []*goquery.Selection {
	var inputs []*goquery.Selection
	doc.Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		if !isHidden(s) {
			inputs = append(inputs, s)
		}
	})
	return inputs
}

// fieldIdentity concatenates the attributes that name a field for regex
// matching: autocomplete, name, id, placeholder, aria-label.
func fieldIdentity(s *goquery.Selection) string {
	parts := make([]string, 0, 5)
	for _, attr := range []string{"autocomplete", "name", "id", "placeholder", "aria-label"} {
		if v, ok := s.Attr(attr); ok {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// identityFields describes which of the three required identity inputs are
// present among the visible fields, plus corroborating extras.
type identityFields struct {
	given            bool
	family           bool
	email            bool
	phone            bool
	autocompleteHits int
}

func (f identityFields) complete() bool { return f.given && f.family && f.email }

func detectIdentityFields(inputs []*goquery.Selection) identityFields {
	var fields identityFields
	for _, s := range inputs {
		ident := fieldIdentity(s)
		auto, _ := s.Attr("autocomplete")
		switch strings.ToLower(strings.TrimSpace(auto)) {
		case "given-name":
			fields.given = true
			fields.autocompleteHits++
		case "family-name":
			fields.family = true
			fields.autocompleteHits++
		case "email":
			fields.email = true
			fields.autocompleteHits++
		case "tel":
			fields.phone = true
			fields.autocompleteHits++
		}
		if inputType, _ := s.Attr("type"); strings.EqualFold(inputType, "email") {
			fields.email = true
		}
		if givenNameRe.MatchString(ident) {
			fields.given = true
		}
		if familyNameRe.MatchString(ident) {
			fields.family = true
		}
		if emailRe.MatchString(ident) {
			fields.email = true
		}
		if phoneRe.MatchString(ident) {
			fields.phone = true
		}
	}
	return fields
}

// findResumeInput returns the first visible file input that looks like a
// resume upload, or nil.
func findResumeInput(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find(`input[type="file"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isHidden(s) {
			return true
		}
		ident := fieldIdentity(s)
		accept, _ := s.Attr("accept")
		if resumeRe.MatchString(ident) || strings.Contains(accept, "pdf") || strings.Contains(accept, "doc") {
			found = s
			return false
		}
		// A lone file input on an application page is almost always the
		// resume upload even when unnamed.
		if doc.Find(`input[type="file"]`).Length() == 1 {
			found = s
			return false
		}
		return true
	})
	return found
}

func hasVisiblePasswordField(doc *goquery.Document) bool {
	found := false
	doc.Find(`input[type="password"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isHidden(s) {
			found = true
			return false
		}
		return true
	})
	return found
}

// overlayAncestor walks the element's ancestors looking for modal markers.
// Returns a human-readable evidence string for the first hit.
func overlayAncestor(s *goquery.Selection) (string, bool) {
	for p := s.Parent(); p.Length() > 0; p = p.Parent() {
		if ev, ok := overlayMarker(p); ok {
			return ev, true
		}
	}
	return "", false
}

func overlayMarker(s *goquery.Selection) (string, bool) {
	if role, _ := s.Attr("role"); role == "dialog" || role == "alertdialog" {
		return "ancestor role=" + role, true
	}
	if v, _ := s.Attr("aria-modal"); v == "true" {
		return "ancestor aria-modal=true", true
	}
	if class, _ := s.Attr("class"); overlayRe.MatchString(class) {
		return "ancestor class suggests overlay", true
	}
	style := normalizeStyle(s)
	positioned := strings.Contains(style, "position:fixed") || strings.Contains(style, "position:absolute")
	if positioned && styleZIndex(style) >= 100 {
		return "ancestor positioned above page content", true
	}
	return "", false
}

func styleZIndex(normalizedStyle string) int {
	idx := strings.Index(normalizedStyle, "z-index:")
	if idx < 0 {
		return 0
	}
	rest := normalizedStyle[idx+len("z-index:"):]
	if end := strings.IndexAny(rest, ";}"); end >= 0 {
		rest = rest[:end]
	}
	z, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return z
}

// challengeFrames returns evidence for third-party CAPTCHA widgets: iframes
// pointing at known challenge hosts plus explicit widget containers.
func challengeFrames(doc *goquery.Document) []string {
	var evidence []string
	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		title, _ := s.Attr("title")
		for _, host := range challengeHosts {
			if strings.Contains(src, host) {
				evidence = append(evidence, "challenge iframe: "+host)
				return
			}
		}
		if captchaRe.MatchString(title) {
			evidence = append(evidence, "iframe titled as challenge")
		}
	})
	doc.Find(".g-recaptcha[data-sitekey], .h-captcha, .cf-turnstile").Each(func(_ int, s *goquery.Selection) {
		evidence = append(evidence, "challenge widget container")
	})
	return evidence
}

// captchaCheckbox finds a visible checkbox inside a captcha-labeled
// container, the single-click challenge shape.
func captchaCheckbox(doc *goquery.Document) (*goquery.Selection, bool) {
	var found *goquery.Selection
	doc.Find(`input[type="checkbox"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isHidden(s) {
			return true
		}
		for p := s.Parent(); p.Length() > 0; p = p.Parent() {
			class, _ := p.Attr("class")
			id, _ := p.Attr("id")
			if captchaRe.MatchString(class) || captchaRe.MatchString(id) {
				found = s
				return false
			}
		}
		return true
	})
	return found, found != nil
}

// ctaButton is one candidate primary action on the page.
type ctaButton struct {
	text     string
	isButton bool
}

// findCTAButtons collects visible elements whose normalized text matches a
// known call-to-action label.
func findCTAButtons(doc *goquery.Document) []ctaButton {
	var ctas []ctaButton
	doc.Find(`button, a, input[type="submit"], [role="button"]`).Each(func(_ int, s *goquery.Selection) {
		if isHidden(s) {
			return
		}
		text := normalizeCTAText(buttonText(s))
		if text == "" {
			return
		}
		for _, want := range ctaTexts {
			if text == want {
				ctas = append(ctas, ctaButton{text: text, isButton: !s.Is("a")})
				return
			}
		}
	})
	return ctas
}

func buttonText(s *goquery.Selection) string {
	if s.Is("input") {
		v, _ := s.Attr("value")
		return v
	}
	if txt := s.Text(); txt != "" {
		return txt
	}
	v, _ := s.Attr("aria-label")
	return v
}

func normalizeCTAText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func countEvidence(evidence []string, base, perSignal float64) float64 {
	return base + perSignal*float64(len(evidence))
}

func fieldCountEvidence(n int, noun string) string {
	return fmt.Sprintf("%d %s", n, noun)
}
