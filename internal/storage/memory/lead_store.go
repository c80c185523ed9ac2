package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// LeadStore keeps leads keyed by unique key.
type LeadStore struct {
	mu    sync.RWMutex
	leads map[string]prospect.Lead
}

// NewLeadStore constructs an empty LeadStore.
func NewLeadStore() *LeadStore {
	return &LeadStore{leads: make(map[string]prospect.Lead)}
}

// GetByKey returns the lead or prospect.ErrNotFound.
func (s *LeadStore) GetByKey(_ context.Context, key string) (prospect.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[key]
	if !ok {
		return prospect.Lead{}, prospect.ErrNotFound
	}
	return cloneLead(l), nil
}

// Insert stores lead unless its key already exists.
func (s *LeadStore) Insert(_ context.Context, lead prospect.Lead) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.leads[lead.UniqueKey]; exists {
		return false, nil
	}
	s.leads[lead.UniqueKey] = cloneLead(lead)
	return true, nil
}

// Update replaces the mutable fields of an existing lead.
func (s *LeadStore) Update(_ context.Context, lead prospect.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[lead.UniqueKey]
	if !ok {
		return prospect.ErrNotFound
	}
	lead.ID = existing.ID
	lead.CreatedAt = existing.CreatedAt
	s.leads[lead.UniqueKey] = cloneLead(lead)
	return nil
}

// Touch refreshes last_seen_at and the source set.
func (s *LeadStore) Touch(_ context.Context, key string, seenAt time.Time, sources []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[key]
	if !ok {
		return prospect.ErrNotFound
	}
	l.LastSeenAt = seenAt
	l.Sources = append([]string(nil), sources...)
	s.leads[key] = l
	return nil
}

// Len returns the number of stored leads.
func (s *LeadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}

func cloneLead(l prospect.Lead) prospect.Lead {
	l.Sources = append([]string(nil), l.Sources...)
	return l
}
