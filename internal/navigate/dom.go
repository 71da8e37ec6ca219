package navigate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// action is one thing to click: either a CSS selector that the snapshot
// confirmed matches, or a visible-text target for the in-page matcher.
type action struct {
	selector string
	text     string
}

func (a action) found() bool { return a.selector != "" || a.text != "" }

func (a action) String() string {
	if a.selector != "" {
		return a.selector
	}
	return "text=" + a.text
}

// ctaSelectors are attribute-addressable apply/continue controls used by
// the common ATS vendors. Each candidate is checked against the snapshot
// before it is clicked, so a stale entry costs nothing.
func ctaSelectors() []string {
	return []string{
		"a[data-automation-id='adventureButton']",
		"button[data-automation-id*='apply']",
		"a[data-automation-id*='apply']",
		"a#apply_button",
		"a.postings-btn",
		"a.template-btn-submit",
		"button[data-qa='btn-apply']",
		"button[type='submit']",
		"input[type='submit']",
	}
}

// ctaPhrases are matched against visible button text, most specific first
// so "continue to application" is not shadowed by "continue".
func ctaPhrases() []string {
	return []string{
		"continue to application",
		"start application",
		"start your application",
		"apply now",
		"easy apply",
		"apply for this job",
		"apply",
		"i'm interested",
		"get started",
		"continue",
		"next",
		"proceed",
	}
}

func guestSelectors() []string {
	return []string{
		"a[href*='guest']",
		"button[name='guest']",
		"button[data-qa*='guest']",
	}
}

func guestPhrases() []string {
	return []string{
		"continue as guest",
		"apply as guest",
		"continue without an account",
		"continue without account",
		"apply without registration",
		"skip for now",
		"skip",
		"no thanks",
		"maybe later",
	}
}

var captchaContextRe = regexp.MustCompile(`(?i)captcha|recaptcha|hcaptcha|challenge|robot|human`)

// findCTA locates the primary call-to-action on an intermediate page.
func findCTA(html string) (action, error) {
	doc, err := parse(html)
	if err != nil {
		return action{}, err
	}
	for _, sel := range ctaSelectors() {
		if visibleMatch(doc, sel) {
			return action{selector: sel}, nil
		}
	}
	if phrase, ok := clickablePhrase(doc, ctaPhrases()); ok {
		return action{text: phrase}, nil
	}
	return action{}, nil
}

// findGuestPath locates an affordance that bypasses an account gate.
func findGuestPath(html string) (action, error) {
	doc, err := parse(html)
	if err != nil {
		return action{}, err
	}
	for _, sel := range guestSelectors() {
		if visibleMatch(doc, sel) {
			return action{selector: sel}, nil
		}
	}
	if phrase, ok := clickablePhrase(doc, guestPhrases()); ok {
		return action{text: phrase}, nil
	}
	return action{}, nil
}

// findCaptchaCheckbox locates a single-checkbox challenge. Widget anchors
// are preferred; otherwise the checkbox is addressed by id or name so the
// click lands on the element classification saw.
func findCaptchaCheckbox(html string) (action, error) {
	doc, err := parse(html)
	if err != nil {
		return action{}, err
	}
	for _, sel := range []string{"#recaptcha-anchor", "div.recaptcha-checkbox", "span.recaptcha-checkbox"} {
		if visibleMatch(doc, sel) {
			return action{selector: sel}, nil
		}
	}

	var found action
	doc.Find("input[type='checkbox']").EachWithBreak(func(_ int, box *goquery.Selection) bool {
		if elementHidden(box) || !inCaptchaContext(box) {
			return true
		}
		if id, ok := box.Attr("id"); ok && id != "" {
			found = action{selector: "#" + id}
			return false
		}
		if name, ok := box.Attr("name"); ok && name != "" {
			found = action{selector: fmt.Sprintf("input[name=%q]", name)}
			return false
		}
		found = action{selector: "input[type='checkbox']"}
		return false
	})
	return found, nil
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return doc, nil
}

func visibleMatch(doc *goquery.Document, selector string) bool {
	match := false
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if elementHidden(s) {
			return true
		}
		match = true
		return false
	})
	return match
}

// elementHidden is the cheap attribute-level check a static snapshot
// allows; layout-dependent hiding is invisible here.
func elementHidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, ok := s.Attr("aria-hidden"); ok && v == "true" {
		return true
	}
	style, ok := s.Attr("style")
	if !ok {
		return false
	}
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// clickablePhrase returns the first phrase with a visible clickable
// element whose text matches it exactly or as a word prefix.
func clickablePhrase(doc *goquery.Document, phrases []string) (string, bool) {
	texts := clickableTexts(doc)
	for _, phrase := range phrases {
		for _, text := range texts {
			if text == phrase || strings.HasPrefix(text, phrase+" ") {
				return phrase, true
			}
		}
	}
	return "", false
}

func clickableTexts(doc *goquery.Document) []string {
	var texts []string
	doc.Find("button, a, input[type='submit'], input[type='button'], [role='button']").Each(func(_ int, s *goquery.Selection) {
		if elementHidden(s) {
			return
		}
		text := s.Text()
		if text == "" {
			if v, ok := s.Attr("value"); ok {
				text = v
			} else if v, ok := s.Attr("aria-label"); ok {
				text = v
			}
		}
		text = strings.ToLower(strings.Join(strings.Fields(text), " "))
		if text != "" {
			texts = append(texts, text)
		}
	})
	return texts
}

func inCaptchaContext(s *goquery.Selection) bool {
	node := s
	for depth := 0; depth < 5 && node.Length() > 0; depth++ {
		attrs := node.AttrOr("class", "") + " " + node.AttrOr("id", "")
		if captchaContextRe.MatchString(attrs) {
			return true
		}
		if depth > 0 && captchaContextRe.MatchString(node.Text()) {
			return true
		}
		node = node.Parent()
	}
	return false
}
