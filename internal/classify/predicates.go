package classify

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Predicate confidence model: each starts from a base score for its minimum
// structural match and adds a fixed bump per independent corroborating
// signal. No single signal can push a weak match over a strong one.

func evalCaptchaSimple(doc *goquery.Document) (bool, float64, []string) {
	checkbox, ok := captchaCheckbox(doc)
	if !ok {
		return false, 0, nil
	}
	// An iframe challenge alongside the checkbox means the third-party
	// widget owns the interaction; that is the complex case.
	if frames := challengeFrames(doc); len(frames) > 0 {
		return false, 0, nil
	}

	evidence := []string{"checkbox inside captcha-labelled container"}
	confidence := 0.65
	if robotTextRe.MatchString(doc.Find("body").Text()) {
		evidence = append(evidence, "page text mentions robot verification")
		confidence += 0.15
	}
	if id, exists := checkbox.Attr("id"); exists && id != "" {
		evidence = append(evidence, "checkbox id="+id)
		confidence += 0.05
	}
	return true, confidence, evidence
}

func evalCaptchaComplex(doc *goquery.Document) (bool, float64, []string) {
	frames := challengeFrames(doc)
	if len(frames) == 0 {
		return false, 0, nil
	}
	// 0.75 for one widget, small bump per additional independent signal.
	return true, countEvidence(frames, 0.65, 0.10), frames
}

func evalSignup(doc *goquery.Document) (bool, float64, []string) {
	if !hasVisiblePasswordField(doc) {
		return false, 0, nil
	}
	// A password field next to real application fields is an apply-or-login
	// hybrid; treat it as a form so the fill handoff gets a chance.
	if findResumeInput(doc) != nil {
		return false, 0, nil
	}

	evidence := []string{"password field without application fields"}
	confidence := 0.6

	passwordCount := 0
	doc.Find(`input[type="password"]`).Each(func(_ int, s *goquery.Selection) {
		if !isHidden(s) {
			passwordCount++
		}
	})
	if passwordCount > 1 {
		evidence = append(evidence, "confirm-password field")
		confidence += 0.1
	}
	if signupTextRe.MatchString(doc.Find("body").Text()) {
		evidence = append(evidence, "page text offers account creation")
		confidence += 0.15
	}
	return true, confidence, evidence
}

func evalFormModal(doc *goquery.Document) (bool, float64, []string) {
	ok, confidence, evidence, anchor := formSignals(doc)
	if !ok {
		return false, 0, nil
	}
	overlayEv, inOverlay := overlayAncestor(anchor)
	if !inOverlay {
		return false, 0, nil
	}
	return true, confidence + 0.05, append(evidence, overlayEv)
}

func evalForm(doc *goquery.Document) (bool, float64, []string) {
	ok, confidence, evidence, _ := formSignals(doc)
	if !ok {
		return false, 0, nil
	}
	return true, confidence, evidence
}

func evalIntermediate(doc *goquery.Document) (bool, float64, []string) {
	ctas := findCTAButtons(doc)
	// One prominent action, maybe a secondary one; a wall of buttons is not
	// an intermediate page.
	if len(ctas) == 0 || len(ctas) > 2 {
		return false, 0, nil
	}
	if hasVisiblePasswordField(doc) || findResumeInput(doc) != nil {
		return false, 0, nil
	}
	if fields := detectIdentityFields(visibleInputs(doc)); fields.complete() {
		return false, 0, nil
	}
	if len(challengeFrames(doc)) > 0 {
		return false, 0, nil
	}

	evidence := []string{fmt.Sprintf("call to action %q", ctas[0].text)}
	confidence := 0.5
	if len(ctas) == 1 {
		evidence = append(evidence, "single prominent action")
		confidence += 0.15
	}
	if ctas[0].isButton {
		confidence += 0.05
	}
	return true, confidence, evidence
}

// formSignals checks the structural minimum for a fillable application form:
// all three identity fields plus a resume upload. The returned anchor is the
// upload input, used for overlay detection.
func formSignals(doc *goquery.Document) (bool, float64, []string, *goquery.Selection) {
	inputs := visibleInputs(doc)
	fields := detectIdentityFields(inputs)
	resume := findResumeInput(doc)
	if !fields.complete() || resume == nil {
		return false, 0, nil, nil
	}

	evidence := []string{
		"given-name, family-name, and email fields",
		"resume upload input",
	}
	confidence := 0.55
	if fields.autocompleteHits >= 2 {
		evidence = append(evidence, fieldCountEvidence(fields.autocompleteHits, "autocomplete attributes"))
		confidence += 0.1
	}
	if fields.phone {
		evidence = append(evidence, "phone field")
		confidence += 0.05
	}
	if len(inputs) >= 6 {
		evidence = append(evidence, fieldCountEvidence(len(inputs), "visible fields"))
		confidence += 0.05
	}
	return true, confidence, evidence, resume
}
