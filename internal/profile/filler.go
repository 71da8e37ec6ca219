package profile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/classify"
	"github.com/jonathan/apply-engine/internal/logging"
	"github.com/jonathan/apply-engine/internal/navigate"
)

// ErrNoFields indicates the snapshot contained nothing the filler could
// recognize, which usually means the classification was wrong.
var ErrNoFields = errors.New("no fillable fields recognized")

// formTab is the wider tab surface filling needs. *browser.Tab provides it;
// the navigator's narrow Tab view does not.
type formTab interface {
	navigate.Tab
	Fill(ctx context.Context, selector, value string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
}

// fieldMatcher maps input identity attributes to a canonical payload key.
// Order matters: the first matching entry claims the input.
type fieldMatcher struct {
	key string
	re  *regexp.Regexp
}

var fieldMatchers = []fieldMatcher{
	{FieldGivenName, regexp.MustCompile(`(?i)\b(first[_\s-]?name|given[_\s-]?name|fname)\b`)},
	{FieldFamilyName, regexp.MustCompile(`(?i)\b(last[_\s-]?name|family[_\s-]?name|surname|lname)\b`)},
	{FieldEmail, regexp.MustCompile(`(?i)\be-?mail\b`)},
	{FieldPhone, regexp.MustCompile(`(?i)\b(phone|mobile|tel)\b`)},
	{FieldLinkedIn, regexp.MustCompile(`(?i)linked[_\s-]?in`)},
	{FieldGitHub, regexp.MustCompile(`(?i)git[_\s-]?hub`)},
	{FieldWebsite, regexp.MustCompile(`(?i)\b(website|portfolio|personal[_\s-]?site)\b`)},
	{FieldLocation, regexp.MustCompile(`(?i)\b(location|city|address)\b`)},
	{FieldFullName, regexp.MustCompile(`(?i)\b(full[_\s-]?name|your[_\s-]?name)\b`)},
}

// autocompleteKeys shortcut the regex table when the page annotates inputs.
var autocompleteKeys = map[string]string{
	"given-name":  FieldGivenName,
	"family-name": FieldFamilyName,
	"name":        FieldFullName,
	"email":       FieldEmail,
	"tel":         FieldPhone,
	"url":         FieldWebsite,
}

// submitTexts are tried in order when no submit control carries a selector.
var submitTexts = []string{
	"submit application",
	"submit",
	"send application",
	"apply now",
	"apply",
	"finish",
}

// skippedInputTypes are input types the filler never touches.
var skippedInputTypes = map[string]bool{
	"checkbox": true, "radio": true, "file": true, "submit": true,
	"button": true, "reset": true, "image": true, "password": true, "hidden": true,
}

// FormFiller fills classified application forms from the stored profile.
// It implements the navigator's fill handoff.
type FormFiller struct {
	payload    FillPayload
	resumePath string
	log        *zap.SugaredLogger
}

// NewFormFiller builds a filler over a parsed document. resumePath may be
// empty when no resume is stored; upload steps are then skipped.
func NewFormFiller(doc *Document, resumePath string) *FormFiller {
	return &FormFiller{
		payload:    doc.FillPayload(),
		resumePath: resumePath,
		log:        logging.Named("filler"),
	}
}

// Fill populates and submits the form on tab. Returning nil means the
// submit action went through; the caller owns detecting what came after.
func (f *FormFiller) Fill(ctx context.Context, tab navigate.Tab, page classify.Result) error {
	ft, ok := tab.(formTab)
	if !ok {
		return fmt.Errorf("tab does not support field filling")
	}

	html, err := tab.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot form: %w", err)
	}
	plan, err := f.buildPlan(html)
	if err != nil {
		return err
	}
	if len(plan.steps) == 0 && plan.resumeSel == "" {
		return fmt.Errorf("%w on %s page", ErrNoFields, page.Type)
	}

	filled := 0
	for _, step := range plan.steps {
		if err := ft.Fill(ctx, step.selector, step.value); err != nil {
			// One unreachable input should not doom the application.
			f.log.Debugw("field fill failed", "key", step.key, "selector", step.selector, "error", err)
			continue
		}
		filled++
	}
	if filled == 0 && plan.resumeSel == "" {
		return fmt.Errorf("all %d field fills failed", len(plan.steps))
	}

	if plan.resumeSel != "" && f.resumePath != "" {
		if err := ft.SetFiles(ctx, plan.resumeSel, []string{f.resumePath}); err != nil {
			return fmt.Errorf("resume upload failed: %w", err)
		}
	}

	if err := f.submit(ctx, tab, plan); err != nil {
		return err
	}

	// Give the page a moment to react so the caller's next snapshot sees
	// the post-submit state. Timeout here is not a failure.
	_ = tab.WaitMutation(ctx, 5*time.Second)

	f.log.Infow("form filled and submitted",
		"page_type", page.Type,
		"fields", filled,
		"resume", plan.resumeSel != "" && f.resumePath != "",
	)
	return nil
}

func (f *FormFiller) submit(ctx context.Context, tab navigate.Tab, plan fillPlan) error {
	if plan.submitSel != "" {
		if err := tab.Click(ctx, plan.submitSel); err == nil {
			return nil
		}
	}
	var lastErr error
	for _, text := range submitTexts {
		if lastErr = tab.ClickText(ctx, text); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("no submit control worked: %w", lastErr)
}

type fillStep struct {
	selector string
	value    string
	key      string
}

type fillPlan struct {
	steps     []fillStep
	resumeSel string
	submitSel string
}

// buildPlan walks the snapshot and decides which inputs get which values
func (f *FormFiller) buildPlan(html string) (fillPlan, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fillPlan{}, fmt.Errorf("failed to parse form snapshot: %w", err)
	}

	var plan fillPlan
	doc.Find("input, textarea").Each(func(_ int, s *goquery.Selection) {
		if hiddenInput(s) {
			return
		}
		inputType, _ := s.Attr("type")
		if skippedInputTypes[strings.ToLower(inputType)] {
			return
		}

		selector := selectorFor(s)
		if selector == "" {
			return
		}
		if value, key, ok := f.match(s); ok {
			plan.steps = append(plan.steps, fillStep{selector: selector, value: value, key: key})
		}
	})

	doc.Find(`input[type="file"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if sel := selectorFor(s); sel != "" {
			plan.resumeSel = sel
			return false
		}
		return true
	})

	doc.Find(`button[type="submit"], input[type="submit"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if hiddenInput(s) {
			return true
		}
		if sel := selectorFor(s); sel != "" {
			plan.submitSel = sel
		} else {
			// Click targets the first visible match, so the generic
			// selector is safe even without an id or name.
			plan.submitSel = goquery.NodeName(s) + `[type="submit"]`
		}
		return false
	})

	return plan, nil
}

// match resolves one input to a payload value: autocomplete first, then the
// identity regex table, then free-form answer keys.
func (f *FormFiller) match(s *goquery.Selection) (value, key string, ok bool) {
	if auto, _ := s.Attr("autocomplete"); auto != "" {
		if key, known := autocompleteKeys[strings.ToLower(strings.TrimSpace(auto))]; known {
			if value, has := f.payload.Fields[key]; has {
				return value, key, true
			}
		}
	}

	ident := inputIdentity(s)
	for _, m := range fieldMatchers {
		if m.re.MatchString(ident) {
			if value, has := f.payload.Fields[m.key]; has {
				return value, m.key, true
			}
			// Recognized field with no stored value: leave it alone
			// rather than falling through to a wrong match.
			return "", "", false
		}
	}

	lowered := strings.ToLower(ident)
	for question, answer := range f.payload.Answers {
		if strings.Contains(lowered, strings.ToLower(question)) {
			return answer, "answer", true
		}
	}
	return "", "", false
}

// inputIdentity concatenates the attributes that name a field
func inputIdentity(s *goquery.Selection) string {
	parts := make([]string, 0, 5)
	for _, attr := range []string{"autocomplete", "name", "id", "placeholder", "aria-label"} {
		if v, ok := s.Attr(attr); ok {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func hiddenInput(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, _ := s.Attr("aria-hidden"); v == "true" {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// selectorFor builds a CSS selector addressing s, preferring id then name.
// Inputs with neither are not worth a brittle positional selector.
func selectorFor(s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		return "[id=" + strconv.Quote(id) + "]"
	}
	if name, ok := s.Attr("name"); ok && name != "" {
		return goquery.NodeName(s) + "[name=" + strconv.Quote(name) + "]"
	}
	return ""
}
