package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// LeadStore persists deduplicated leads.
type LeadStore struct {
	db DB
}

// NewLeadStore wraps db.
func NewLeadStore(db DB) (*LeadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &LeadStore{db: db}, nil
}

// GetByKey returns the lead stored under uniqueKey.
func (s *LeadStore) GetByKey(ctx context.Context, uniqueKey string) (prospect.Lead, error) {
	var l prospect.Lead
	err := s.db.QueryRow(ctx, `SELECT id, unique_key, content_hash, business_name, website_url,
	phone, email, address, city, category, score, sources, last_seen_at, created_at, updated_at
FROM leads WHERE unique_key = $1`, uniqueKey).Scan(
		&l.ID,
		&l.UniqueKey,
		&l.ContentHash,
		&l.BusinessName,
		&l.WebsiteURL,
		&l.Phone,
		&l.Email,
		&l.Address,
		&l.City,
		&l.Category,
		&l.Score,
		&l.Sources,
		&l.LastSeenAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return prospect.Lead{}, prospect.ErrNotFound
	}
	if err != nil {
		return prospect.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// Insert adds the lead; the unique key constraint turns a concurrent duplicate into false.
func (s *LeadStore) Insert(ctx context.Context, lead prospect.Lead) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO leads (
	id, unique_key, content_hash, business_name, website_url, phone, email,
	address, city, category, score, sources, last_seen_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (unique_key) DO NOTHING`,
		lead.ID,
		lead.UniqueKey,
		lead.ContentHash,
		lead.BusinessName,
		lead.WebsiteURL,
		lead.Phone,
		lead.Email,
		lead.Address,
		lead.City,
		lead.Category,
		lead.Score,
		lead.Sources,
		lead.LastSeenAt,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update overwrites the mutable fields of an existing lead.
func (s *LeadStore) Update(ctx context.Context, lead prospect.Lead) error {
	tag, err := s.db.Exec(ctx, `UPDATE leads SET
	content_hash = $2,
	business_name = $3,
	website_url = $4,
	phone = $5,
	email = $6,
	address = $7,
	city = $8,
	score = $9,
	sources = $10,
	last_seen_at = $11,
	updated_at = $12
WHERE unique_key = $1`,
		lead.UniqueKey,
		lead.ContentHash,
		lead.BusinessName,
		lead.WebsiteURL,
		lead.Phone,
		lead.Email,
		lead.Address,
		lead.City,
		lead.Score,
		lead.Sources,
		lead.LastSeenAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prospect.ErrNotFound
	}
	return nil
}

// Touch refreshes last_seen_at and the source set without changing content.
func (s *LeadStore) Touch(ctx context.Context, uniqueKey string, seenAt time.Time, sources []string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE leads SET last_seen_at = $2, sources = $3 WHERE unique_key = $1`,
		uniqueKey, seenAt, sources)
	if err != nil {
		return fmt.Errorf("touch lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prospect.ErrNotFound
	}
	return nil
}
