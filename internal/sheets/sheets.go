// Package sheets mirrors application records to a Google Sheets tracking
// spreadsheet. Writes go through a bounded async worker so a slow or dead
// Sheets API can never stall the engine.
package sheets

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/identity"
)

// headerRow is written once when the sheet is still empty.
var headerRow = []interface{}{
	"Applied At", "Platform", "Title", "Company", "Location", "URL", "Status", "Error", "App ID",
}

// Appender is an abstraction over the spreadsheet backend
type Appender interface {
	// AppendRecord appends one record as a row
	AppendRecord(ctx context.Context, rec *engine.ApplicationRecord) error
	// EnsureHeader writes the header row if the sheet is empty
	EnsureHeader(ctx context.Context) error
}

// SheetsAppender implements Appender for Google Sheets
type SheetsAppender struct {
	service       *sheetsapi.Service
	spreadsheetID string
	sheetName     string
}

// NewAppender creates a Sheets-backed appender. With an empty credentials
// path the client falls back to Application Default Credentials.
func NewAppender(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsAppender, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}
	if sheetName == "" {
		sheetName = "Applications"
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	service, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsAppender{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// NewAppenderWithTokens creates an appender authenticating through a bearer
// token provider instead of a credentials file.
func NewAppenderWithTokens(ctx context.Context, provider identity.TokenProvider, spreadsheetID, sheetName string) (*SheetsAppender, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}
	if sheetName == "" {
		sheetName = "Applications"
	}

	service, err := sheetsapi.NewService(ctx, option.WithTokenSource(identity.TokenSource(ctx, provider)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsAppender{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// AppendRecord appends one record as a row at the bottom of the sheet
func (a *SheetsAppender) AppendRecord(ctx context.Context, rec *engine.ApplicationRecord) error {
	row := []interface{}{
		rec.AppliedAt.Format(time.RFC3339),
		string(rec.Platform),
		rec.Title,
		rec.Company,
		rec.Location,
		rec.URL,
		rec.Status,
		rec.Error,
		rec.AppID,
	}

	vr := &sheetsapi.ValueRange{Values: [][]interface{}{row}}
	_, err := a.service.Spreadsheets.Values.
		Append(a.spreadsheetID, a.sheetName+"!A:I", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append record %s: %w", rec.AppID, err)
	}
	return nil
}

// EnsureHeader writes the header row if row 1 is still empty
func (a *SheetsAppender) EnsureHeader(ctx context.Context) error {
	resp, err := a.service.Spreadsheets.Values.
		Get(a.spreadsheetID, a.sheetName+"!A1:I1").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	vr := &sheetsapi.ValueRange{Values: [][]interface{}{headerRow}}
	_, err = a.service.Spreadsheets.Values.
		Update(a.spreadsheetID, a.sheetName+"!A1:I1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}
	return nil
}

// NopAppender discards records. Used when no spreadsheet is configured.
type NopAppender struct{}

// AppendRecord does nothing
func (NopAppender) AppendRecord(context.Context, *engine.ApplicationRecord) error { return nil }

// EnsureHeader does nothing
func (NopAppender) EnsureHeader(context.Context) error { return nil }
