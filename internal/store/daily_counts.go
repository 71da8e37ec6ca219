package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/apply-engine/internal/quota"
)

// SaveDailyCounts upserts the spent quota for the day the counts carry
func (s *Store) SaveDailyCounts(ctx context.Context, counts quota.Counts) error {
	perPlatform, err := json.Marshal(counts.PerPlatform)
	if err != nil {
		return fmt.Errorf("failed to marshal per-platform counts: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO daily_counts (day, total, per_platform, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (day) DO UPDATE SET total = $2, per_platform = $3, updated_at = NOW()`,
		counts.Date, counts.Total, perPlatform,
	)
	if err != nil {
		return fmt.Errorf("failed to save daily counts for %s: %w", counts.Date, err)
	}
	return nil
}

// LoadDailyCounts returns the most recently saved counters, or nil when
// nothing has been stored yet. The caller decides whether the stored day
// still matches today; stale days are its problem, not ours.
func (s *Store) LoadDailyCounts(ctx context.Context) (*quota.Counts, error) {
	var counts quota.Counts
	var perPlatform []byte
	err := s.pool.QueryRow(ctx,
		`SELECT day, total, per_platform FROM daily_counts ORDER BY day DESC LIMIT 1`,
	).Scan(&counts.Date, &counts.Total, &perPlatform)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load daily counts: %w", err)
	}

	if err := json.Unmarshal(perPlatform, &counts.PerPlatform); err != nil {
		return nil, fmt.Errorf("failed to unmarshal per-platform counts: %w", err)
	}
	if counts.PerPlatform == nil {
		counts.PerPlatform = make(map[string]int)
	}
	return &counts, nil
}

// PruneDailyCounts removes counter rows older than keepDays days. Counters
// are only ever read for the current day, so anything older is noise.
func (s *Store) PruneDailyCounts(ctx context.Context, keepDays int) (int64, error) {
	result, err := s.pool.Exec(ctx,
		`DELETE FROM daily_counts WHERE day < TO_CHAR(NOW() - ($1 || ' days')::INTERVAL, 'YYYY-MM-DD')`,
		fmt.Sprintf("%d", keepDays),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily counts: %w", err)
	}
	return result.RowsAffected(), nil
}
