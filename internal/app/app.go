// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer"
	"github.com/JakeFAU/prospect-crawler/internal/analyzer/render"
	"github.com/JakeFAU/prospect-crawler/internal/api"
	"github.com/JakeFAU/prospect-crawler/internal/clock/system"
	"github.com/JakeFAU/prospect-crawler/internal/config"
	"github.com/JakeFAU/prospect-crawler/internal/dedup"
	"github.com/JakeFAU/prospect-crawler/internal/hash/sha256"
	"github.com/JakeFAU/prospect-crawler/internal/id/uuid"
	"github.com/JakeFAU/prospect-crawler/internal/orchestrator"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	pspublisher "github.com/JakeFAU/prospect-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/prospect-crawler/internal/runner"
	"github.com/JakeFAU/prospect-crawler/internal/scheduler"
	"github.com/JakeFAU/prospect-crawler/internal/source"
	"github.com/JakeFAU/prospect-crawler/internal/source/directory"
	"github.com/JakeFAU/prospect-crawler/internal/source/maps"
	"github.com/JakeFAU/prospect-crawler/internal/source/static"
	"github.com/JakeFAU/prospect-crawler/internal/storage/gcs"
	"github.com/JakeFAU/prospect-crawler/internal/storage/local"
	"github.com/JakeFAU/prospect-crawler/internal/storage/memory"
	"github.com/JakeFAU/prospect-crawler/internal/storage/postgres"
	"github.com/JakeFAU/prospect-crawler/internal/telemetry"
)

// App holds the shared, long-lived services. It is built once at startup
// and handed to the CLI commands.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Analyzer     *analyzer.Service
	Zones        prospect.ZoneStore
	Attempts     prospect.AttemptStore
	Leads        prospect.LeadStore
	Sources      *source.Registry
	Scheduler    *scheduler.Scheduler
	Dedup        *dedup.Deduplicator
	Runner       *runner.Runner
	Orchestrator *orchestrator.Orchestrator

	closers []func()
}

// New builds every service from cfg. It fails fast if a configured backend
// cannot be reached; already-started services are closed on failure.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	logger.Info("initializing application services")
	clock := system.New()
	ids := uuid.New()

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		})
	}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	blobs, err := a.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}

	opts := analyzerOptions(cfg)
	if cfg.Analyzer.Archive && blobs != nil {
		opts.Archive = analyzer.NewArchive(blobs, cfg.Storage.Prefix, clock)
	}
	a.Analyzer, err = analyzer.New(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}
	a.closers = append(a.closers, a.Analyzer.Close)
	logger.Info("analyzer ready", zap.String("mode", a.Analyzer.Mode()))

	a.Sources, err = buildSources(cfg, a.Analyzer.Pool(), logger)
	if err != nil {
		return nil, err
	}

	dedupCfg := dedup.Config{Topic: cfg.PubSub.LeadTopic, Hasher: sha256.New()}
	if r := a.Analyzer.Resolver(); r != nil {
		dedupCfg.MX = r
	}
	a.Dedup = dedup.New(a.Leads, ids, clock, pub, dedupCfg, logger)

	a.Scheduler = scheduler.New(a.Zones, clock, scheduler.Config{
		RevisitInterval: cfg.RevisitInterval(),
		StuckThreshold:  cfg.StuckThreshold(),
	}, logger)

	a.Runner = runner.New(a.Scheduler, a.Sources, a.Analyzer, a.Dedup, a.Attempts, ids, clock, runner.Config{
		AnalysisConcurrency: cfg.Runner.AnalysisConcurrency,
		BusinessTimeout:     cfg.BusinessTimeout(),
		BatchTimeout:        cfg.BatchTimeout(),
		MaxResults:          cfg.Runner.MaxResults,
		DelayMin:            time.Duration(cfg.Runner.DelayMinMs) * time.Millisecond,
		DelayMax:            time.Duration(cfg.Runner.DelayMaxMs) * time.Millisecond,
	}, logger)

	a.Orchestrator = orchestrator.New(a.Scheduler, a.Runner, pub, clock, orchestrator.Config{
		Concurrency: cfg.Runner.Concurrency,
		MaxZones:    cfg.Orchestrator.MaxZones,
		Schedule:    cfg.Orchestrator.Schedule,
		Topic:       cfg.PubSub.CycleTopic,
	}, logger)

	logger.Info("application services initialized", zap.Strings("sources", a.Sources.Names()))
	return a, nil
}

// APIServer builds the HTTP API over the app's services.
func (a *App) APIServer() *api.Server {
	return api.NewServer(api.Deps{
		Analyzer: a.Analyzer,
		Cycles:   a.Orchestrator,
		Zones:    a.Zones,
		Attempts: a.Attempts,
		Leads:    a.Leads,
	}, a.Config, a.Logger)
}

// Close shuts services down in reverse start order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) initStores(ctx context.Context) error {
	if a.Config.DB.DSN == "" {
		a.Logger.Info("no database configured, using in-memory stores")
		a.Zones = memory.NewZoneStore()
		a.Attempts = memory.NewAttemptStore()
		a.Leads = memory.NewLeadStore()
		return nil
	}

	a.Logger.Info("connecting to postgres")
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:             a.Config.DB.DSN,
		MaxConns:        a.Config.DB.MaxConns,
		MinConns:        a.Config.DB.MinConns,
		MaxConnLifetime: time.Duration(a.Config.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if a.Config.DB.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	return a.postgresStores(pool)
}

func (a *App) postgresStores(pool *pgxpool.Pool) error {
	zones, err := postgres.NewZoneStore(pool)
	if err != nil {
		return err
	}
	attempts, err := postgres.NewAttemptStore(pool)
	if err != nil {
		return err
	}
	leads, err := postgres.NewLeadStore(pool)
	if err != nil {
		return err
	}
	a.Zones, a.Attempts, a.Leads = zones, attempts, leads
	return nil
}

func (a *App) blobStore(ctx context.Context) (prospect.BlobStore, error) {
	switch a.Config.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("close gcs client", zap.Error(err))
			}
		})
		a.Logger.Info("archiving assessments to gcs", zap.String("bucket", a.Config.Storage.GCSBucket))
		store, err := gcs.New(client, gcs.Config{Bucket: a.Config.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.Config.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		a.Logger.Info("archiving assessments to disk", zap.String("dir", a.Config.Storage.LocalDir))
		return store, nil
	case "memory", "":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.Config.Storage.Backend)
	}
}

// publisher returns nil when no Pub/Sub project is configured.
func (a *App) publisher(ctx context.Context) (prospect.Publisher, error) {
	if a.Config.PubSub.ProjectID == "" {
		a.Logger.Info("no pubsub project configured, events are not published")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pspublisher.New(client)
	a.closers = append(a.closers, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	a.Logger.Info("publishing events to pubsub",
		zap.String("project", a.Config.PubSub.ProjectID),
		zap.String("lead_topic", a.Config.PubSub.LeadTopic),
		zap.String("cycle_topic", a.Config.PubSub.CycleTopic),
	)
	return pub, nil
}

func analyzerOptions(cfg config.Config) analyzer.Options {
	ac := cfg.Analyzer
	budgets := analyzer.Budgets{
		Performance: time.Duration(ac.PerformanceBudgetSeconds) * time.Second,
		Facet:       time.Duration(ac.FacetBudgetSeconds) * time.Second,
	}
	opts := analyzer.Options{
		Mode: ac.Mode,
		Browser: analyzer.BrowserConfig{
			UserAgent:   ac.UserAgent,
			NavTimeout:  time.Duration(ac.NavTimeoutSeconds) * time.Second,
			Settle:      time.Duration(ac.SettleMs) * time.Millisecond,
			IdleTimeout: time.Duration(ac.IdleTimeoutMs) * time.Millisecond,
			Budgets:     budgets,
		},
		HTTP: analyzer.HTTPConfig{
			UserAgent: ac.UserAgent,
			Timeout:   time.Duration(ac.HTTP.TimeoutSeconds) * time.Second,
			Budgets:   budgets,
		},
		Render: render.Config{
			Size:      ac.Browser.PoolSize,
			ExecPath:  ac.Browser.ExecPath,
			Headless:  ac.Browser.Headless,
			UserAgent: ac.UserAgent,
		},
		PerDomainRPS:   ac.Browser.PerDomainRPS,
		PerDomainBurst: ac.Browser.PerDomainBurst,
	}
	if ac.DNS.Enabled {
		opts.DNSServers = ac.DNS.Servers
		opts.DNSTimeout = time.Duration(ac.DNS.TimeoutMs) * time.Millisecond
	}
	return opts
}

// buildSources registers every configured discoverer. The maps adapter needs
// the browser pool and is skipped without one.
func buildSources(cfg config.Config, pool *render.Pool, logger *zap.Logger) (*source.Registry, error) {
	reg := source.NewRegistry()
	if cfg.Sources.Maps.Enabled {
		if pool == nil {
			logger.Warn("maps source enabled but no browser pool is available; skipping")
		} else {
			reg.Register(maps.New(pool, maps.Config{
				BaseURL:      cfg.Sources.Maps.BaseURL,
				ScrollRounds: cfg.Sources.Maps.ScrollRounds,
				DelayMin:     time.Duration(cfg.Runner.DelayMinMs) * time.Millisecond,
				DelayMax:     time.Duration(cfg.Runner.DelayMaxMs) * time.Millisecond,
			}, logger))
		}
	}

	for _, name := range sortedKeys(cfg.Sources.Directories) {
		dc := cfg.Sources.Directories[name]
		d, err := directory.New(name, directory.Config{
			SearchURL:       dc.SearchURL,
			ItemSelector:    dc.ItemSelector,
			NameSelector:    dc.NameSelector,
			AddressSelector: dc.AddressSelector,
			CitySelector:    dc.CitySelector,
			PhoneSelector:   dc.PhoneSelector,
			EmailSelector:   dc.EmailSelector,
			WebsiteSelector: dc.WebsiteSelector,
			NextSelector:    dc.NextSelector,
			MaxPages:        dc.MaxPages,
			RespectRobots:   true,
			UserAgent:       cfg.Analyzer.UserAgent,
			Timeout:         time.Duration(cfg.Analyzer.HTTP.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		reg.Register(d)
	}

	for _, name := range sortedKeys(cfg.Sources.Static) {
		entries := cfg.Sources.Static[name]
		items := make([]prospect.Business, 0, len(entries))
		for _, e := range entries {
			items = append(items, prospect.Business{
				Name:     e.Name,
				Category: e.Category,
				City:     e.City,
				Address:  e.Address,
				Phone:    e.Phone,
				Email:    e.Email,
				Website:  e.Website,
			})
		}
		reg.Register(static.New(name, items))
	}
	return reg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
