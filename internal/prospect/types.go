package prospect

import (
	"fmt"
	"time"
)

// Zone is the unit of scheduling granularity: one source x category x location.
type Zone struct {
	ID              int64      `json:"id"`
	Source          string     `json:"source"`
	Category        string     `json:"category"`
	LocationName    string     `json:"location_name"`
	PriorityScore   int        `json:"priority_score"`
	IsLocked        bool       `json:"is_locked"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	TimesProcessed  int        `json:"times_processed"`
	TotalLeadsFound int        `json:"total_leads_found"`
}

// String renders the zone identity for logs.
func (z Zone) String() string {
	return fmt.Sprintf("%s/%s/%s", z.Source, z.Category, z.LocationName)
}

// ZoneOutcome carries the values written back when a zone lease is released.
type ZoneOutcome struct {
	PriorityScore int
	LeadsFound    int
}

// AttemptStatus is the outcome of one zone execution.
type AttemptStatus string

// Attempt outcomes. Skipped attempts are never persisted.
const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptPartial AttemptStatus = "partial"
	AttemptSkipped AttemptStatus = "skipped"
)

// ScrapeAttemptLog is the immutable audit record of one zone execution.
type ScrapeAttemptLog struct {
	ID            string        `json:"id"`
	ZoneID        int64         `json:"zone_id"`
	Source        string        `json:"source"`
	Category      string        `json:"category"`
	LocationName  string        `json:"location_name"`
	Status        AttemptStatus `json:"status"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	LeadsFound    int           `json:"leads_found"`
	LeadsNew      int           `json:"leads_new"`
	LeadsEnriched int           `json:"leads_enriched"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// Succeeded reports whether the attempt counts as a success for reprioritization.
func (l ScrapeAttemptLog) Succeeded() bool {
	return l.Status == AttemptSuccess || l.Status == AttemptPartial
}

// Business is one record returned by a directory source.
type Business struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Address   string  `json:"address"`
	City      string  `json:"city"`
	Phone     string  `json:"phone"`
	Email     string  `json:"email"`
	Website   string  `json:"website"`
	SourceURL string  `json:"source_url,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	Reviews   int     `json:"reviews,omitempty"`
}

// Lead is the deduplicated, cross-source record of one business.
type Lead struct {
	ID           string    `json:"id"`
	UniqueKey    string    `json:"unique_key"`
	ContentHash  string    `json:"content_hash"`
	BusinessName string    `json:"business_name"`
	WebsiteURL   string    `json:"website_url"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	Category     string    `json:"category"`
	Score        int       `json:"score"`
	Sources      []string  `json:"sources"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasSource reports whether the lead was already produced by source.
func (l Lead) HasSource(source string) bool {
	for _, s := range l.Sources {
		if s == source {
			return true
		}
	}
	return false
}
