// Package profile stores the applicant's personal data and resume used to
// populate application forms. Everything rests encrypted on disk; documents
// validate against a JSON Schema before they are accepted.
package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/apply-engine/internal/schemas"
)

// Section names understood by the store.
const (
	SectionProfile = "profile"
	SectionAnswers = "answers"
)

// Canonical field keys the form filler maps onto page inputs.
const (
	FieldGivenName  = "given_name"
	FieldFamilyName = "family_name"
	FieldFullName   = "full_name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldLocation   = "location"
	FieldLinkedIn   = "linkedin"
	FieldGitHub     = "github"
	FieldWebsite    = "website"
)

// Document is the structured applicant profile
type Document struct {
	Identity Identity          `json:"identity" validate:"required"`
	Links    Links             `json:"links"`
	Work     Work              `json:"work"`
	Answers  map[string]string `json:"answers,omitempty"`
}

// Identity holds the fields every application form asks for
type Identity struct {
	GivenName  string `json:"given_name" validate:"required"`
	FamilyName string `json:"family_name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Links holds profile URLs commonly requested by forms
type Links struct {
	LinkedIn string `json:"linkedin,omitempty" validate:"omitempty,url"`
	GitHub   string `json:"github,omitempty" validate:"omitempty,url"`
	Website  string `json:"website,omitempty" validate:"omitempty,url"`
}

// Work holds employment eligibility answers
type Work struct {
	Authorized       bool   `json:"authorized"`
	NeedsSponsorship bool   `json:"needs_sponsorship"`
	NoticePeriod     string `json:"notice_period,omitempty"`
	DesiredSalary    string `json:"desired_salary,omitempty"`
}

var validate = validator.New()

// ParseDocument decodes and validates a profile document
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profile document: %w", err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("profile document invalid: %w", err)
	}
	return &doc, nil
}

// FillPayload is the flattened handoff the form filler consumes: canonical
// field keys plus free-form question answers.
type FillPayload struct {
	Fields  map[string]string
	Answers map[string]string
}

// FillPayload flattens the document for filling. Empty values are omitted
// so the filler never types blanks over a form's defaults.
func (d *Document) FillPayload() FillPayload {
	fields := map[string]string{
		FieldGivenName:  d.Identity.GivenName,
		FieldFamilyName: d.Identity.FamilyName,
		FieldFullName:   strings.TrimSpace(d.Identity.GivenName + " " + d.Identity.FamilyName),
		FieldEmail:      d.Identity.Email,
		FieldPhone:      d.Identity.Phone,
		FieldLocation:   d.Identity.Location,
		FieldLinkedIn:   d.Links.LinkedIn,
		FieldGitHub:     d.Links.GitHub,
		FieldWebsite:    d.Links.Website,
	}
	for key, value := range fields {
		if value == "" {
			delete(fields, key)
		}
	}

	answers := make(map[string]string, len(d.Answers))
	for q, a := range d.Answers {
		if a != "" {
			answers[q] = a
		}
	}
	return FillPayload{Fields: fields, Answers: answers}
}

// validateProfileJSON runs the schema check applied before any save
func validateProfileJSON(raw []byte) error {
	if err := schemas.ValidateProfile(string(raw)); err != nil {
		return fmt.Errorf("profile schema validation failed: %w", err)
	}
	return nil
}
