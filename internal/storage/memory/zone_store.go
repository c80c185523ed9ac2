package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// ZoneStore keeps zones in a map. The conditional lock mirrors the
// single-statement UPDATE used by the Postgres store.
type ZoneStore struct {
	mu     sync.Mutex
	zones  map[int64]prospect.Zone
	nextID int64
}

// NewZoneStore constructs an empty ZoneStore.
func NewZoneStore() *ZoneStore {
	return &ZoneStore{zones: make(map[int64]prospect.Zone)}
}

// Create inserts zone or returns the existing zone with the same identity.
func (s *ZoneStore) Create(_ context.Context, zone prospect.Zone) (prospect.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range s.zones {
		if z.Source == zone.Source && z.Category == zone.Category && z.LocationName == zone.LocationName {
			return cloneZone(z), nil
		}
	}
	if zone.ID == 0 {
		s.nextID++
		zone.ID = s.nextID
	} else if zone.ID > s.nextID {
		s.nextID = zone.ID
	}
	if zone.PriorityScore < 0 {
		zone.PriorityScore = 0
	}
	s.zones[zone.ID] = cloneZone(zone)
	return cloneZone(zone), nil
}

// ListEligible returns unlocked zones due for a visit, highest priority first.
func (s *ZoneStore) ListEligible(_ context.Context, cutoff time.Time, limit int) ([]prospect.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []prospect.Zone
	for _, z := range s.zones {
		if z.IsLocked {
			continue
		}
		if z.LastProcessedAt != nil && !z.LastProcessedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneZone(z))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TryLock locks the zone if it is currently unlocked.
func (s *ZoneStore) TryLock(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[id]
	if !ok {
		return false, prospect.ErrNotFound
	}
	if z.IsLocked {
		return false, nil
	}
	z.IsLocked = true
	z.LastProcessedAt = &at
	s.zones[id] = z
	return true, nil
}

// Unlock clears the lock and folds the run outcome into the zone statistics.
func (s *ZoneStore) Unlock(_ context.Context, id int64, outcome prospect.ZoneOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[id]
	if !ok {
		return prospect.ErrNotFound
	}
	z.IsLocked = false
	z.TimesProcessed++
	z.TotalLeadsFound += outcome.LeadsFound
	z.PriorityScore = outcome.PriorityScore
	s.zones[id] = z
	return nil
}

// UnlockStale force-unlocks zones locked before cutoff without touching statistics.
func (s *ZoneStore) UnlockStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, z := range s.zones {
		if !z.IsLocked || z.LastProcessedAt == nil || !z.LastProcessedAt.Before(cutoff) {
			continue
		}
		z.IsLocked = false
		s.zones[id] = z
		n++
	}
	return n, nil
}

// Get fetches a zone by ID.
func (s *ZoneStore) Get(_ context.Context, id int64) (prospect.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[id]
	if !ok {
		return prospect.Zone{}, prospect.ErrNotFound
	}
	return cloneZone(z), nil
}

// List returns all zones ordered by ID.
func (s *ZoneStore) List(_ context.Context) ([]prospect.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]prospect.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, cloneZone(z))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneZone(z prospect.Zone) prospect.Zone {
	if z.LastProcessedAt != nil {
		t := *z.LastProcessedAt
		z.LastProcessedAt = &t
	}
	return z
}

// AttemptStore appends attempt logs in memory.
type AttemptStore struct {
	mu   sync.RWMutex
	logs []prospect.ScrapeAttemptLog
}

// NewAttemptStore constructs an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

// RecordAttempt appends a log row.
func (s *AttemptStore) RecordAttempt(_ context.Context, log prospect.ScrapeAttemptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

// ListAttempts returns up to limit logs for zoneID (0 for all), newest first.
func (s *AttemptStore) ListAttempts(_ context.Context, zoneID int64, limit int) ([]prospect.ScrapeAttemptLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []prospect.ScrapeAttemptLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if zoneID != 0 && s.logs[i].ZoneID != zoneID {
			continue
		}
		out = append(out, s.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
