// Package orchestrator drives crawl cycles: recover stuck zones, select the
// next batch, run it and report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	"github.com/JakeFAU/prospect-crawler/internal/runner"
)

// ErrCycleRunning is returned by RunCycle while another cycle is in flight.
var ErrCycleRunning = errors.New("cycle already running")

// Scheduler is the zone selection surface used per cycle.
type Scheduler interface {
	RecoverStuck(ctx context.Context) (int, error)
	SelectZones(ctx context.Context, limit int) ([]prospect.Zone, error)
}

// BatchRunner executes selected zones.
type BatchRunner interface {
	RunBatch(ctx context.Context, zones []prospect.Zone, concurrency int) runner.BatchResult
}

// CycleStats summarizes one cycle. It is also the cycle.completed payload.
type CycleStats struct {
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration_ns"`
	Recovered      int           `json:"recovered"`
	Selected       int           `json:"selected"`
	Processed      int           `json:"processed"`
	Succeeded      int           `json:"succeeded"`
	Partial        int           `json:"partial"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Stragglers     int           `json:"stragglers"`
	NotStarted     int           `json:"not_started"`
	LeadsFound     int           `json:"leads_found"`
	LeadsNew       int           `json:"leads_new"`
	LeadsEnriched  int           `json:"leads_enriched"`
	BatchTimedOut  bool          `json:"batch_timed_out"`
	ZonesAttempted []int64       `json:"zones_attempted,omitempty"`
}

// Config tunes cycles.
type Config struct {
	// Concurrency is the number of zones run at once (1-10).
	Concurrency int
	// MaxZones is used by scheduled cycles.
	MaxZones int
	// Schedule is a cron spec or descriptor such as "@every 30m".
	Schedule string
	Topic    string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Concurrency > 10 {
		c.Concurrency = 10
	}
	if c.MaxZones <= 0 {
		c.MaxZones = 10
	}
	if c.Schedule == "" {
		c.Schedule = "@every 30m"
	}
	if c.Topic == "" {
		c.Topic = prospect.TopicCycleCompleted
	}
	return c
}

// Orchestrator runs cycles on demand or on a cron schedule.
type Orchestrator struct {
	scheduler Scheduler
	runner    BatchRunner
	pub       prospect.Publisher
	clock     prospect.Clock
	cfg       Config
	logger    *zap.Logger

	running atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
	last *CycleStats
}

// New constructs an Orchestrator. pub may be nil.
func New(s Scheduler, r BatchRunner, pub prospect.Publisher, clock prospect.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		scheduler: s,
		runner:    r,
		pub:       pub,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("orchestrator"),
	}
}

// RunCycle recovers stuck zones, selects up to maxZones eligible zones and
// runs them. Only one cycle runs at a time per Orchestrator.
func (o *Orchestrator) RunCycle(ctx context.Context, maxZones int) (CycleStats, error) {
	if !o.running.CompareAndSwap(false, true) {
		return CycleStats{}, ErrCycleRunning
	}
	defer o.running.Store(false)

	ctx, span := otel.Tracer("prospector/orchestrator").Start(ctx, "orchestrator.cycle")
	defer span.End()

	stats := CycleStats{StartedAt: o.clock.Now()}
	recovered, err := o.scheduler.RecoverStuck(ctx)
	if err != nil {
		// A failed sweep only delays recovery to the next cycle.
		o.logger.Warn("recover stuck zones failed", zap.Error(err))
	}
	stats.Recovered = recovered

	zones, err := o.scheduler.SelectZones(ctx, maxZones)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select zones")
		return stats, fmt.Errorf("select zones: %w", err)
	}
	stats.Selected = len(zones)
	if len(zones) == 0 {
		o.logger.Info("no eligible zones")
	} else {
		res := o.runner.RunBatch(ctx, zones, o.cfg.Concurrency)
		aggregate(&stats, res)
	}

	stats.FinishedAt = o.clock.Now()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	o.mu.Lock()
	last := stats
	o.last = &last
	o.mu.Unlock()

	span.SetAttributes(
		attribute.Int("cycle.selected", stats.Selected),
		attribute.Int("cycle.processed", stats.Processed),
		attribute.Int("cycle.failed", stats.Failed),
		attribute.Int("cycle.leads_new", stats.LeadsNew),
		attribute.Bool("cycle.batch_timed_out", stats.BatchTimedOut),
	)
	o.publish(ctx, stats)
	o.logger.Info("cycle complete",
		zap.Int("selected", stats.Selected),
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("recovered", stats.Recovered),
		zap.Int("leads_found", stats.LeadsFound),
		zap.Int("leads_new", stats.LeadsNew),
		zap.Int("leads_enriched", stats.LeadsEnriched),
		zap.Bool("batch_timed_out", stats.BatchTimedOut),
		zap.Duration("took", stats.Duration),
	)
	return stats, nil
}

func aggregate(stats *CycleStats, res runner.BatchResult) {
	for _, l := range res.Logs {
		switch l.Status {
		case prospect.AttemptSkipped:
			stats.Skipped++
			continue
		case prospect.AttemptSuccess:
			stats.Succeeded++
		case prospect.AttemptPartial:
			stats.Partial++
		case prospect.AttemptFailed:
			stats.Failed++
		}
		stats.Processed++
		stats.ZonesAttempted = append(stats.ZonesAttempted, l.ZoneID)
		stats.LeadsFound += l.LeadsFound
		stats.LeadsNew += l.LeadsNew
		stats.LeadsEnriched += l.LeadsEnriched
	}
	stats.Stragglers = len(res.Stragglers)
	stats.NotStarted = len(res.NotStarted)
	stats.BatchTimedOut = res.TimedOut
}

func (o *Orchestrator) publish(ctx context.Context, stats CycleStats) {
	if o.pub == nil {
		return
	}
	if _, err := o.pub.Publish(ctx, o.cfg.Topic, stats); err != nil {
		o.logger.Warn("publish cycle event failed", zap.Error(err))
	}
}

// Last returns the most recent completed cycle, if any.
func (o *Orchestrator) Last() (CycleStats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return CycleStats{}, false
	}
	return *o.last, true
}

// Running reports whether a cycle is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}
