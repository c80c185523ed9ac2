// Package scheduler picks zones to crawl, leases them and adjusts their priority.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// Priority bounds and adjustments.
const (
	MaxPriority    = 1000
	leadBonus      = 5
	emptyPenalty   = 10
	failurePenalty = 25
)

// Config tunes eligibility and recovery.
type Config struct {
	// RevisitInterval is the minimum gap between two visits of a zone.
	RevisitInterval time.Duration
	// StuckThreshold is how long a lease may be held before recovery unlocks it.
	StuckThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.RevisitInterval <= 0 {
		c.RevisitInterval = 24 * time.Hour
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 2 * time.Hour
	}
	return c
}

// Scheduler coordinates zone leases through the zone store. It holds no
// in-process locks; mutual exclusion lives entirely in the store's conditional update.
type Scheduler struct {
	zones  prospect.ZoneStore
	clock  prospect.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Scheduler.
func New(zones prospect.ZoneStore, clock prospect.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		zones:  zones,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("scheduler"),
	}
}

// SelectZones returns up to limit eligible zones, highest priority first.
func (s *Scheduler) SelectZones(ctx context.Context, limit int) ([]prospect.Zone, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := s.clock.Now().Add(-s.cfg.RevisitInterval)
	zones, err := s.zones.ListEligible(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select zones: %w", err)
	}
	return zones, nil
}

// Lease tries to take the zone. False means another worker holds it.
func (s *Scheduler) Lease(ctx context.Context, zoneID int64) (bool, error) {
	ok, err := s.zones.TryLock(ctx, zoneID, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("lease zone %d: %w", zoneID, err)
	}
	if !ok {
		s.logger.Debug("zone lease contended", zap.Int64("zone_id", zoneID))
	}
	return ok, nil
}

// Release unlocks the zone, records the run and applies the priority adjustment.
func (s *Scheduler) Release(ctx context.Context, zoneID int64, leadsFound int, success bool) (prospect.Zone, error) {
	zone, err := s.zones.Get(ctx, zoneID)
	if err != nil {
		return prospect.Zone{}, fmt.Errorf("release zone %d: %w", zoneID, err)
	}
	next := Reprioritize(zone.PriorityScore, leadsFound, success)
	if err := s.zones.Unlock(ctx, zoneID, prospect.ZoneOutcome{PriorityScore: next, LeadsFound: leadsFound}); err != nil {
		return prospect.Zone{}, fmt.Errorf("release zone %d: %w", zoneID, err)
	}
	s.logger.Debug("zone released",
		zap.Int64("zone_id", zoneID),
		zap.Int("leads_found", leadsFound),
		zap.Bool("success", success),
		zap.Int("priority_from", zone.PriorityScore),
		zap.Int("priority_to", next),
	)
	zone.IsLocked = false
	zone.TimesProcessed++
	zone.TotalLeadsFound += leadsFound
	zone.PriorityScore = next
	return zone, nil
}

// RecoverStuck unlocks zones whose lease outlived the stuck threshold.
// Recovered zones keep their priority.
func (s *Scheduler) RecoverStuck(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.StuckThreshold)
	n, err := s.zones.UnlockStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck zones: %w", err)
	}
	if n > 0 {
		s.logger.Warn("recovered stuck zones", zap.Int("count", n), zap.Time("cutoff", cutoff))
		metrics.ObserveRecovered(n)
	}
	return n, nil
}

// Reprioritize computes the next priority of a zone after a run.
// Productive zones climb towards MaxPriority; a score already above it is left alone.
func Reprioritize(current, leadsFound int, success bool) int {
	switch {
	case !success:
		return max(current-failurePenalty, 0)
	case leadsFound <= 0:
		return max(current-emptyPenalty, 0)
	case current >= MaxPriority:
		return current
	default:
		return min(current+leadBonus*leadsFound, MaxPriority)
	}
}
