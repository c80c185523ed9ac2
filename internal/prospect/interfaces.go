package prospect

import (
	"context"
	"io"
	"time"
)

// ZoneStore persists zones and their lease flag.
type ZoneStore interface {
	// ListEligible returns unlocked zones never processed or processed before cutoff,
	// ordered by priority descending then ID.
	ListEligible(ctx context.Context, cutoff time.Time, limit int) ([]Zone, error)
	// TryLock sets is_locked and stamps last_processed_at only if the zone is unlocked.
	TryLock(ctx context.Context, id int64, at time.Time) (bool, error)
	// Unlock clears the lock and writes the outcome counters.
	Unlock(ctx context.Context, id int64, outcome ZoneOutcome) error
	// UnlockStale force-unlocks zones locked with last_processed_at before cutoff.
	UnlockStale(ctx context.Context, cutoff time.Time) (int, error)
	Get(ctx context.Context, id int64) (Zone, error)
	List(ctx context.Context) ([]Zone, error)
	// Create inserts a zone or returns the existing row for the same identity.
	Create(ctx context.Context, zone Zone) (Zone, error)
}

// AttemptStore appends scrape attempt logs.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, log ScrapeAttemptLog) error
	ListAttempts(ctx context.Context, zoneID int64, limit int) ([]ScrapeAttemptLog, error)
}

// LeadStore persists deduplicated leads keyed by unique key.
type LeadStore interface {
	GetByKey(ctx context.Context, uniqueKey string) (Lead, error)
	// Insert returns false when a lead with the same unique key already exists.
	Insert(ctx context.Context, lead Lead) (bool, error)
	Update(ctx context.Context, lead Lead) error
	Touch(ctx context.Context, uniqueKey string, seenAt time.Time, sources []string) error
}

// Discoverer finds businesses in one external directory.
type Discoverer interface {
	Name() string
	Discover(ctx context.Context, query, location string, maxResults int) ([]Business, error)
}

// Analyzer produces a scored assessment for a website.
type Analyzer interface {
	Analyze(ctx context.Context, rawURL string) (SiteAssessment, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
