package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

const zoneColumns = `id, source, category, location_name, priority_score, is_locked,
	last_processed_at, times_processed, total_leads_found`

// ZoneStore persists zones. Leasing relies on a single conditional UPDATE;
// two workers racing for the same zone see exactly one affected row between them.
type ZoneStore struct {
	db DB
}

// NewZoneStore wraps db.
func NewZoneStore(db DB) (*ZoneStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ZoneStore{db: db}, nil
}

// ListEligible returns unlocked zones due for a visit.
func (s *ZoneStore) ListEligible(ctx context.Context, cutoff time.Time, limit int) ([]prospect.Zone, error) {
	query := `SELECT ` + zoneColumns + `
FROM zones
WHERE is_locked = false AND (last_processed_at IS NULL OR last_processed_at < $1)
ORDER BY priority_score DESC, id ASC
LIMIT $2`
	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible zones: %w", err)
	}
	return collectZones(rows)
}

// TryLock leases the zone when it is unlocked.
func (s *ZoneStore) TryLock(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE zones SET is_locked = true, last_processed_at = $2 WHERE id = $1 AND is_locked = false`,
		id, at)
	if err != nil {
		return false, fmt.Errorf("lock zone %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Unlock releases the zone and folds in the run outcome.
func (s *ZoneStore) Unlock(ctx context.Context, id int64, outcome prospect.ZoneOutcome) error {
	tag, err := s.db.Exec(ctx, `UPDATE zones
SET is_locked = false,
	times_processed = times_processed + 1,
	total_leads_found = total_leads_found + $2,
	priority_score = $3
WHERE id = $1`, id, outcome.LeadsFound, outcome.PriorityScore)
	if err != nil {
		return fmt.Errorf("unlock zone %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return prospect.ErrNotFound
	}
	return nil
}

// UnlockStale force-unlocks zones whose lease started before cutoff.
func (s *ZoneStore) UnlockStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE zones SET is_locked = false WHERE is_locked = true AND last_processed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("unlock stale zones: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get fetches one zone.
func (s *ZoneStore) Get(ctx context.Context, id int64) (prospect.Zone, error) {
	row := s.db.QueryRow(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = $1`, id)
	z, err := scanZone(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return prospect.Zone{}, prospect.ErrNotFound
	}
	if err != nil {
		return prospect.Zone{}, fmt.Errorf("get zone %d: %w", id, err)
	}
	return z, nil
}

// List returns every zone ordered by ID.
func (s *ZoneStore) List(ctx context.Context) ([]prospect.Zone, error) {
	rows, err := s.db.Query(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	return collectZones(rows)
}

// Create inserts the zone, or returns the stored row when the identity exists.
func (s *ZoneStore) Create(ctx context.Context, zone prospect.Zone) (prospect.Zone, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO zones (source, category, location_name, priority_score)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source, category, location_name) DO UPDATE SET source = EXCLUDED.source
RETURNING `+zoneColumns,
		zone.Source, zone.Category, zone.LocationName, max(zone.PriorityScore, 0))
	z, err := scanZone(row)
	if err != nil {
		return prospect.Zone{}, fmt.Errorf("create zone %s: %w", zone, err)
	}
	return z, nil
}

func scanZone(row pgx.Row) (prospect.Zone, error) {
	var z prospect.Zone
	err := row.Scan(
		&z.ID,
		&z.Source,
		&z.Category,
		&z.LocationName,
		&z.PriorityScore,
		&z.IsLocked,
		&z.LastProcessedAt,
		&z.TimesProcessed,
		&z.TotalLeadsFound,
	)
	return z, err
}

func collectZones(rows pgx.Rows) ([]prospect.Zone, error) {
	defer rows.Close()
	var out []prospect.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}
	return out, nil
}
