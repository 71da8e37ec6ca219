package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/apply-engine/internal/quota"
	"github.com/jonathan/apply-engine/internal/scrape"
)

// ApplicationRecord is the durable outcome of one job session, written to
// the database and appended to the tracking spreadsheet.
type ApplicationRecord struct {
	AppID     string          `json:"app_id"`
	JobID     string          `json:"job_id"`
	Platform  scrape.Platform `json:"platform"`
	Title     string          `json:"title"`
	Company   string          `json:"company"`
	Location  string          `json:"location"`
	URL       string          `json:"url"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	AppliedAt time.Time       `json:"applied_at"`
}

const (
	RecordStatusApplied = "applied"
	RecordStatusFailed  = "failed"
)

func newApplicationRecord(sess *JobSession, now time.Time) *ApplicationRecord {
	rec := &ApplicationRecord{
		AppID:     uuid.New().String(),
		JobID:     sess.Job.ID,
		Platform:  sess.Job.Platform,
		Title:     sess.Job.Title,
		Company:   sess.Job.Company,
		Location:  sess.Job.Location,
		URL:       sess.Job.URL,
		Status:    RecordStatusApplied,
		AppliedAt: now,
	}
	if sess.Result != nil && !sess.Result.Success {
		rec.Status = RecordStatusFailed
		rec.Error = sess.Result.Error
	}
	return rec
}

// Commander is how the engine reaches the browser side. Implementations
// must not block: each call enqueues work for an agent goroutine, and
// results come back as posted messages.
type Commander interface {
	// OpenListing ensures the platform's listing tab exists and is on its
	// search page. The agent answers with PageNavigated.
	OpenListing(platform scrape.Platform)
	// ScrapeJobs extracts the current listing page. Answered with
	// JobsScraped.
	ScrapeJobs(platform scrape.Platform)
	// NavigateNext advances to the next listing page. Answered with
	// PageNavigated and then, after the engine re-requests it, a scrape.
	NavigateNext(platform scrape.Platform)
	// ApplyToJob clicks apply for one job on its source tab. The flow
	// answers with InlineModalDetected or ExternalATSOpened, then a
	// terminal ATSComplete or JobCompleted.
	ApplyToJob(job scrape.Job, sourceTabID string)
	// CloseTab tears down an external ATS tab.
	CloseTab(tabID string)
}

// ApplicationStore persists terminal records. Failures are logged, never
// allowed to block session completion.
type ApplicationStore interface {
	SaveApplication(ctx context.Context, rec *ApplicationRecord) error
}

// RecordLogger mirrors terminal records to the tracking spreadsheet,
// idempotent by AppID.
type RecordLogger interface {
	Append(rec *ApplicationRecord)
}

// QuotaStore persists daily counters across restarts. Load returns nil
// when nothing is stored yet.
type QuotaStore interface {
	LoadDailyCounts(ctx context.Context) (*quota.Counts, error)
	SaveDailyCounts(ctx context.Context, counts quota.Counts) error
}
