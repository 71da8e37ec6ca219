// Package classify labels an unfamiliar ATS page from its DOM alone.
//
// Classification is pure: the same snapshot always yields the same result.
// Predicates run in priority order and the first confident match wins, with
// rarer page types evaluated before common ones so a CAPTCHA or signup gate
// is never mistaken for a fillable form.
package classify

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageType is the tag of a classification result.
type PageType string

const (
	TypeForm           PageType = "form"
	TypeFormModal      PageType = "form_modal"
	TypeSignup         PageType = "signup"
	TypeIntermediate   PageType = "intermediate"
	TypeCaptchaSimple  PageType = "captcha_simple"
	TypeCaptchaComplex PageType = "captcha_complex"
	TypeUnknown        PageType = "unknown"
)

// Result is a classification of one DOM snapshot. Confidence is a heuristic
// score in [0,1]; more corroborating evidence means a higher score, nothing
// stronger is guaranteed. Results are never persisted.
type Result struct {
	Type       PageType `json:"type"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// Options controls classification acceptance.
type Options struct {
	// MinConfidence is the score a predicate must reach for its match to be
	// accepted. Below it, evaluation falls through to later predicates.
	MinConfidence float64
}

// DefaultOptions returns the tuning used when the caller has no config.
func DefaultOptions() Options {
	return Options{MinConfidence: 0.5}
}

// predicate evaluates one page type against a snapshot. matched=false means
// the type's structural preconditions are absent regardless of score.
type predicate struct {
	pageType PageType
	eval     func(*goquery.Document) (matched bool, confidence float64, evidence []string)
}

// Ordered by specificity: challenge pages and account gates are rarer than
// forms, so they get first claim on ambiguous snapshots.
var predicates = []predicate{
	{TypeCaptchaSimple, evalCaptchaSimple},
	{TypeCaptchaComplex, evalCaptchaComplex},
	{TypeSignup, evalSignup},
	{TypeFormModal, evalFormModal},
	{TypeForm, evalForm},
	{TypeIntermediate, evalIntermediate},
}

// Classify labels a parsed DOM snapshot. It never returns an error: a page
// matching nothing is TypeUnknown with zero confidence, which callers treat
// as "keep observing until timeout".
func Classify(doc *goquery.Document, opts Options) Result {
	for _, p := range predicates {
		matched, confidence, evidence := p.eval(doc)
		if !matched || confidence < opts.MinConfidence {
			continue
		}
		return Result{
			Type:       p.pageType,
			Confidence: clampConfidence(confidence),
			Evidence:   evidence,
		}
	}
	return Result{Type: TypeUnknown, Confidence: 0}
}

// ClassifyHTML parses raw HTML and classifies it. Used by the ATS page agent
// (which snapshots via the browser) and the classify debug command.
func ClassifyHTML(html string, opts Options) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse HTML snapshot: %w", err)
	}
	return Classify(doc, opts), nil
}

// Terminal reports whether a page type ends the navigator's loop on its own
// (a fillable form hands off; everything else keeps the loop going or fails).
func (t PageType) Terminal() bool {
	return t == TypeForm || t == TypeFormModal || t == TypeCaptchaComplex
}

func clampConfidence(c float64) float64 {
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
