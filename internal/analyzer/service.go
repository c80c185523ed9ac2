package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer/render"
	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// Analyzer modes accepted by New.
const (
	ModeAuto    = "auto"
	ModeBrowser = prospect.ModeBrowser
	ModeHTTP    = prospect.ModeHTTP
)

// Options configures New.
type Options struct {
	Mode           string
	Browser        BrowserConfig
	HTTP           HTTPConfig
	Render         render.Config
	PerDomainRPS   float64
	PerDomainBurst int
	// DNSServers enables the NXDOMAIN pre-flight when non-empty.
	DNSServers []string
	DNSTimeout time.Duration
	// Archive is optional.
	Archive *Archive
}

// Service is the prospect.Analyzer used by the runner and the API. It
// normalizes URLs, runs the DNS pre-flight, delegates to an engine and
// archives the result.
type Service struct {
	engine   prospect.Analyzer
	mode     string
	pool     *render.Pool
	resolver *Resolver
	archive  *Archive
	logger   *zap.Logger

	fallbackOnce  sync.Once
	buildFallback func() prospect.Analyzer
	fallback      prospect.Analyzer
}

// New builds a Service. In auto mode a browser provisioning failure falls back
// to the HTTP engine, at startup and whenever the pool later reports
// render.ErrUnavailable; in browser mode it is returned as an error.
func New(opts Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var resolver *Resolver
	if len(opts.DNSServers) > 0 {
		resolver = NewResolver(opts.DNSServers, opts.DNSTimeout)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeAuto
	}
	switch mode {
	case ModeHTTP:
		return NewService(NewHTTPAnalyzer(opts.HTTP, logger), ModeHTTP, resolver, opts.Archive, logger), nil
	case ModeBrowser, ModeAuto:
	default:
		return nil, fmt.Errorf("unknown analyzer mode %q", mode)
	}

	pool, err := render.New(opts.Render, logger.Named("render"))
	if err != nil {
		if mode == ModeAuto && errors.Is(err, render.ErrUnavailable) {
			logger.Warn("browser unavailable, using http analyzer", zap.Error(err))
			return NewService(NewHTTPAnalyzer(opts.HTTP, logger), ModeHTTP, resolver, opts.Archive, logger), nil
		}
		return nil, fmt.Errorf("start render pool: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: opts.PerDomainRPS, Burst: opts.PerDomainBurst})
	svc := NewService(NewBrowserAnalyzer(pool, limiter, opts.Browser, logger), ModeBrowser, resolver, opts.Archive, logger)
	svc.pool = pool
	if mode == ModeAuto {
		httpCfg := opts.HTTP
		svc.WithFallback(func() prospect.Analyzer { return NewHTTPAnalyzer(httpCfg, logger) })
	}
	return svc, nil
}

// NewService wraps an engine. resolver and archive may be nil.
func NewService(engine prospect.Analyzer, mode string, resolver *Resolver, archive *Archive, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:   engine,
		mode:     mode,
		resolver: resolver,
		archive:  archive,
		logger:   logger.Named("analyzer"),
	}
}

// WithFallback sets the engine used when the primary one reports
// render.ErrUnavailable. build runs at most once, on first use.
func (s *Service) WithFallback(build func() prospect.Analyzer) *Service {
	s.buildFallback = build
	return s
}

func (s *Service) fallbackEngine() prospect.Analyzer {
	s.fallbackOnce.Do(func() {
		if s.buildFallback != nil {
			s.fallback = s.buildFallback()
		}
	})
	return s.fallback
}

// Mode reports which engine is in use.
func (s *Service) Mode() string {
	return s.mode
}

// Resolver returns the DNS resolver, or nil when the pre-flight is disabled.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Pool returns the browser pool, or nil when the HTTP engine is in use.
func (s *Service) Pool() *render.Pool {
	return s.pool
}

// Close releases browsers held by the service.
func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Analyze implements prospect.Analyzer.
func (s *Service) Analyze(ctx context.Context, rawURL string) (prospect.SiteAssessment, error) {
	start := time.Now()
	target, err := NormalizeURL(rawURL)
	if err != nil {
		a := FailedAssessment(rawURL, err.Error())
		s.observe(a, start)
		return a, nil
	}

	if s.resolver != nil {
		exists, dnsErr := s.resolver.Exists(ctx, hostname(target))
		if dnsErr != nil {
			s.logger.Debug("dns pre-flight inconclusive", zap.String("url", target), zap.Error(dnsErr))
		}
		if !exists {
			a := FailedAssessment(target, "dns: no such host")
			a.AnalyzedWith = s.mode
			s.observe(a, start)
			s.save(ctx, a)
			return a, nil
		}
	}

	a, err := s.engine.Analyze(ctx, target)
	if err != nil && errors.Is(err, render.ErrUnavailable) && ctx.Err() == nil {
		if fb := s.fallbackEngine(); fb != nil {
			s.logger.Warn("browser unavailable, analyzing over http", zap.String("url", target), zap.Error(err))
			a, err = fb.Analyze(ctx, target)
			a.AnalyzedWith = ModeHTTP
		}
	}
	if err != nil {
		metrics.ObserveAnalysis(s.mode, "error", time.Since(start))
		return prospect.SiteAssessment{}, err
	}
	s.observe(a, start)
	s.save(ctx, a)
	return a, nil
}

func (s *Service) observe(a prospect.SiteAssessment, start time.Time) {
	outcome := "ok"
	switch {
	case !a.IsAccessible:
		outcome = "failed"
	case len(a.DegradedFacets) > 0:
		outcome = "degraded"
	}
	mode := s.mode
	if a.AnalyzedWith != "" {
		mode = a.AnalyzedWith
	}
	metrics.ObserveAnalysis(mode, outcome, time.Since(start))
	s.logger.Debug("analysis complete",
		zap.String("url", a.URL),
		zap.String("outcome", outcome),
		zap.Int("score", a.OverallScore),
		zap.Strings("degraded", a.DegradedFacets),
	)
}

func (s *Service) save(ctx context.Context, a prospect.SiteAssessment) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Save(ctx, a); err != nil {
		s.logger.Warn("archive assessment failed", zap.String("url", a.URL), zap.Error(err))
	}
}
