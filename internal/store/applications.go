package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/scrape"
)

// SaveApplication stores a terminal application record. Re-saving the same
// AppID updates status, error and applied_at in place, so retried writes
// after a crash never produce duplicate rows.
func (s *Store) SaveApplication(ctx context.Context, rec *engine.ApplicationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO applications (app_id, job_id, platform, title, company, location, url, status, error, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (app_id) DO UPDATE SET status = $8, error = $9, applied_at = $10`,
		rec.AppID, rec.JobID, string(rec.Platform), rec.Title, rec.Company,
		rec.Location, rec.URL, rec.Status, rec.Error, rec.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save application %s: %w", rec.AppID, err)
	}
	return nil
}

// GetApplication retrieves a record by its AppID
func (s *Store) GetApplication(ctx context.Context, appID string) (*engine.ApplicationRecord, error) {
	var rec engine.ApplicationRecord
	var platform string
	err := s.pool.QueryRow(ctx,
		`SELECT app_id, job_id, platform, title, company, location, url, status, error, applied_at
		 FROM applications WHERE app_id = $1`,
		appID,
	).Scan(&rec.AppID, &rec.JobID, &platform, &rec.Title, &rec.Company,
		&rec.Location, &rec.URL, &rec.Status, &rec.Error, &rec.AppliedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get application %s: %w", appID, err)
	}
	rec.Platform = scrape.Platform(platform)
	return &rec, nil
}

// ApplicationFilters holds optional filters for listing applications
type ApplicationFilters struct {
	Platform string
	Status   string
	Since    time.Time
	Limit    int
}

// ListApplications retrieves records newest-first with optional filters
func (s *Store) ListApplications(ctx context.Context, filters ApplicationFilters) ([]engine.ApplicationRecord, error) {
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	query := `SELECT app_id, job_id, platform, title, company, location, url, status, error, applied_at
		FROM applications WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Platform != "" {
		query += fmt.Sprintf(" AND platform = $%d", argNum)
		args = append(args, filters.Platform)
		argNum++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if !filters.Since.IsZero() {
		query += fmt.Sprintf(" AND applied_at >= $%d", argNum)
		args = append(args, filters.Since)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY applied_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var records []engine.ApplicationRecord
	for rows.Next() {
		var rec engine.ApplicationRecord
		var platform string
		if err := rows.Scan(&rec.AppID, &rec.JobID, &platform, &rec.Title, &rec.Company,
			&rec.Location, &rec.URL, &rec.Status, &rec.Error, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		rec.Platform = scrape.Platform(platform)
		records = append(records, rec)
	}
	return records, nil
}

// HasApplied reports whether a non-failed record already exists for jobID.
// The engine consults this to skip jobs applied to on an earlier run.
func (s *Store) HasApplied(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE job_id = $1 AND status = $2)`,
		jobID, engine.RecordStatusApplied,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check application for job %s: %w", jobID, err)
	}
	return exists, nil
}
