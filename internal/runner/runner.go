// Package runner executes leased zones: discovery, per-business analysis,
// lead upserts, the attempt log and the lease release.
package runner

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer"
	"github.com/JakeFAU/prospect-crawler/internal/dedup"
	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// Leaser is the scheduler surface the runner needs.
type Leaser interface {
	Lease(ctx context.Context, zoneID int64) (bool, error)
	Release(ctx context.Context, zoneID int64, leadsFound int, success bool) (prospect.Zone, error)
}

// Sources resolves a zone's source name.
type Sources interface {
	Get(name string) (prospect.Discoverer, error)
}

// Upserter stores a business/assessment pair as a lead.
type Upserter interface {
	UpsertLead(ctx context.Context, b prospect.Business, a prospect.SiteAssessment, source string) (dedup.Outcome, error)
}

// Config tunes zone execution.
type Config struct {
	AnalysisConcurrency int
	BusinessTimeout     time.Duration
	BatchTimeout        time.Duration
	MaxResults          int
	DelayMin            time.Duration
	DelayMax            time.Duration
	// ReleaseTimeout bounds the attempt write and unlock after the zone ran.
	ReleaseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AnalysisConcurrency <= 0 {
		c.AnalysisConcurrency = 4
	}
	if c.BusinessTimeout <= 0 {
		c.BusinessTimeout = 45 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Minute
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 20
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 10 * time.Second
	}
	return c
}

// Runner runs zones.
type Runner struct {
	leaser   Leaser
	sources  Sources
	analyzer prospect.Analyzer
	upserter Upserter
	attempts prospect.AttemptStore
	ids      prospect.IDGenerator
	clock    prospect.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Runner.
func New(
	leaser Leaser,
	sources Sources,
	an prospect.Analyzer,
	upserter Upserter,
	attempts prospect.AttemptStore,
	ids prospect.IDGenerator,
	clock prospect.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		leaser:   leaser,
		sources:  sources,
		analyzer: an,
		upserter: upserter,
		attempts: attempts,
		ids:      ids,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("runner"),
	}
}

// RunZone executes one zone end to end. A zone leased by someone else yields
// a skipped log that is not persisted.
func (r *Runner) RunZone(ctx context.Context, zone prospect.Zone) (entry prospect.ScrapeAttemptLog) {
	ctx, span := otel.Tracer("prospector/runner").Start(ctx, "runner.zone",
		trace.WithAttributes(
			attribute.Int64("zone.id", zone.ID),
			attribute.String("zone.source", zone.Source),
			attribute.String("zone.category", zone.Category),
		))
	defer func() {
		span.SetAttributes(
			attribute.String("zone.status", string(entry.Status)),
			attribute.Int("zone.leads_found", entry.LeadsFound),
		)
		if entry.Status == prospect.AttemptFailed {
			span.SetStatus(codes.Error, entry.ErrorMessage)
		}
		span.End()
	}()

	logger := r.logger.With(zap.Int64("zone_id", zone.ID), zap.Stringer("zone", zone))
	entry = prospect.ScrapeAttemptLog{
		ZoneID:       zone.ID,
		Source:       zone.Source,
		Category:     zone.Category,
		LocationName: zone.LocationName,
		StartTime:    r.clock.Now(),
	}

	ok, err := r.leaser.Lease(ctx, zone.ID)
	if err != nil {
		logger.Error("lease failed", zap.Error(err))
		entry.Status = prospect.AttemptFailed
		entry.ErrorMessage = err.Error()
		entry.EndTime = r.clock.Now()
		metrics.ObserveZone(string(prospect.AttemptFailed))
		return entry
	}
	if !ok {
		logger.Info("zone already leased, skipping")
		entry.Status = prospect.AttemptSkipped
		entry.EndTime = entry.StartTime
		metrics.ObserveZone(string(prospect.AttemptSkipped))
		return entry
	}

	metrics.IncActiveZones()
	defer metrics.DecActiveZones()

	r.execute(ctx, zone, &entry, logger)
	entry.EndTime = r.clock.Now()
	r.finish(ctx, &entry, logger)
	return entry
}

func (r *Runner) execute(ctx context.Context, zone prospect.Zone, entry *prospect.ScrapeAttemptLog, logger *zap.Logger) {
	discoverer, err := r.sources.Get(zone.Source)
	if err != nil {
		fail(entry, err)
		return
	}
	if err := r.pause(ctx); err != nil {
		fail(entry, fmt.Errorf("before discovery: %w", err))
		return
	}
	businesses, err := discoverer.Discover(ctx, zone.Category, zone.LocationName, r.cfg.MaxResults)
	if err != nil {
		logger.Warn("discovery failed", zap.Error(err))
		fail(entry, fmt.Errorf("discover: %w", err))
		return
	}
	logger.Info("discovered businesses", zap.Int("count", len(businesses)))

	tally := r.processBusinesses(ctx, zone, businesses, logger)
	entry.LeadsFound = tally.found
	entry.LeadsNew = tally.created
	entry.LeadsEnriched = tally.enriched
	entry.Status = prospect.AttemptSuccess
	if tally.firstErr != nil {
		entry.Status = prospect.AttemptPartial
		entry.ErrorMessage = fmt.Sprintf("%d of %d upserts failed: %v", tally.failed, tally.failed+tally.found, tally.firstErr)
	}
}

type tally struct {
	mu       sync.Mutex
	found    int
	created  int
	enriched int
	failed   int
	firstErr error
}

func (t *tally) add(out dedup.Outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.failed++
		if t.firstErr == nil {
			t.firstErr = err
		}
		return
	}
	t.found++
	if out.Created {
		t.created++
	}
	if out.Enriched {
		t.enriched++
	}
}

// processBusinesses analyzes and upserts every business with a website,
// at most AnalysisConcurrency at a time.
func (r *Runner) processBusinesses(
	ctx context.Context,
	zone prospect.Zone,
	businesses []prospect.Business,
	logger *zap.Logger,
) *tally {
	t := &tally{}
	var g errgroup.Group
	g.SetLimit(r.cfg.AnalysisConcurrency)
	for _, b := range businesses {
		if b.Website == "" {
			logger.Debug("business has no website", zap.String("name", b.Name))
			continue
		}
		g.Go(func() error {
			assessment := r.analyze(ctx, b.Website, logger)
			t.add(r.upserter.UpsertLead(ctx, b, assessment, zone.Source))
			return nil
		})
	}
	_ = g.Wait()
	return t
}

// analyze never fails: errors and timeouts become a failed assessment.
func (r *Runner) analyze(ctx context.Context, website string, logger *zap.Logger) prospect.SiteAssessment {
	actx, cancel := context.WithTimeout(ctx, r.cfg.BusinessTimeout)
	defer cancel()

	type result struct {
		a   prospect.SiteAssessment
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := r.analyzer.Analyze(actx, website)
		done <- result{a, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			logger.Debug("analysis failed", zap.String("url", website), zap.Error(res.err))
			return analyzer.FailedAssessment(website, res.err.Error())
		}
		return res.a
	case <-actx.Done():
		logger.Debug("analysis timed out", zap.String("url", website))
		return analyzer.FailedAssessment(website, fmt.Sprintf("analysis timeout: %v", actx.Err()))
	}
}

// finish persists the attempt and releases the lease on a context that
// survives cancellation of ctx.
func (r *Runner) finish(ctx context.Context, entry *prospect.ScrapeAttemptLog, logger *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ReleaseTimeout)
	defer cancel()

	id, err := r.ids.NewID()
	if err != nil {
		logger.Error("attempt id", zap.Error(err))
	} else {
		entry.ID = id
		if err := r.attempts.RecordAttempt(rctx, *entry); err != nil {
			logger.Error("record attempt failed", zap.Error(err))
		}
	}

	zone, err := r.leaser.Release(rctx, entry.ZoneID, entry.LeadsFound, entry.Succeeded())
	if err != nil {
		logger.Error("release failed; recovery sweep will unlock the zone", zap.Error(err))
	} else {
		logger.Info("zone finished",
			zap.String("status", string(entry.Status)),
			zap.Int("leads_found", entry.LeadsFound),
			zap.Int("leads_new", entry.LeadsNew),
			zap.Int("leads_enriched", entry.LeadsEnriched),
			zap.Int("priority", zone.PriorityScore),
			zap.Duration("took", entry.EndTime.Sub(entry.StartTime)),
		)
	}
	metrics.ObserveZone(string(entry.Status))
}

// pause waits a random duration in [DelayMin, DelayMax] unless ctx ends first.
func (r *Runner) pause(ctx context.Context) error {
	wait := r.cfg.DelayMin
	if spread := r.cfg.DelayMax - r.cfg.DelayMin; spread > 0 {
		wait += rand.N(spread)
	}
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fail(entry *prospect.ScrapeAttemptLog, err error) {
	entry.Status = prospect.AttemptFailed
	entry.ErrorMessage = err.Error()
}
