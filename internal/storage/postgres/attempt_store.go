package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// AttemptStore appends scrape attempt logs.
type AttemptStore struct {
	db DB
}

// NewAttemptStore wraps db.
func NewAttemptStore(db DB) (*AttemptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &AttemptStore{db: db}, nil
}

// RecordAttempt inserts one immutable log row.
func (s *AttemptStore) RecordAttempt(ctx context.Context, log prospect.ScrapeAttemptLog) error {
	if log.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	query := `INSERT INTO scrape_attempt_logs (
	id,
	zone_id,
	source,
	category,
	location_name,
	status,
	start_time,
	end_time,
	leads_found,
	leads_new,
	leads_enriched,
	error_message
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`
	_, err := s.db.Exec(ctx, query,
		log.ID,
		log.ZoneID,
		log.Source,
		log.Category,
		log.LocationName,
		string(log.Status),
		log.StartTime,
		log.EndTime,
		log.LeadsFound,
		log.LeadsNew,
		log.LeadsEnriched,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the newest logs for zoneID, or across all zones when zoneID is 0.
func (s *AttemptStore) ListAttempts(ctx context.Context, zoneID int64, limit int) ([]prospect.ScrapeAttemptLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT id, zone_id, source, category, location_name, status,
	start_time, end_time, leads_found, leads_new, leads_enriched, error_message
FROM scrape_attempt_logs
WHERE ($1::bigint = 0 OR zone_id = $1)
ORDER BY start_time DESC
LIMIT $2`, zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []prospect.ScrapeAttemptLog
	for rows.Next() {
		var (
			l      prospect.ScrapeAttemptLog
			status string
		)
		if err := rows.Scan(
			&l.ID,
			&l.ZoneID,
			&l.Source,
			&l.Category,
			&l.LocationName,
			&status,
			&l.StartTime,
			&l.EndTime,
			&l.LeadsFound,
			&l.LeadsNew,
			&l.LeadsEnriched,
			&l.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		l.Status = prospect.AttemptStatus(status)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}
