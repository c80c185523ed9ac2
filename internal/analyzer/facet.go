package analyzer

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// Facet names as reported in SiteAssessment.DegradedFacets.
const (
	FacetPerformance = "performance"
	FacetSEO         = "seo"
	FacetTracking    = "tracking"
	FacetCompliance  = "compliance"
	FacetLegal       = "legal"
	FacetSocial      = "social"
)

// Budgets bounds each facet independently.
type Budgets struct {
	Performance time.Duration
	Facet       time.Duration
}

func (b Budgets) withDefaults() Budgets {
	if b.Performance <= 0 {
		b.Performance = 8 * time.Second
	}
	if b.Facet <= 0 {
		b.Facet = 5 * time.Second
	}
	return b
}

type facetResult[T any] struct {
	value T
	err   error
}

// runFacet runs fn under budget. A timeout, error or panic yields fallback and a non-nil error.
func runFacet[T any](ctx context.Context, budget time.Duration, fallback T, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan facetResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- facetResult[T]{value: fallback, err: fmt.Errorf("facet panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- facetResult[T]{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return fallback, fmt.Errorf("facet budget: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fallback, res.err
		}
		return res.value, nil
	}
}

// pageInfo is what the engine learned while loading the page.
type pageInfo struct {
	URL        string
	FinalURL   string
	StatusCode int
	LoadTimeMs int64
	Mode       string
}

// assess runs the six facets concurrently against probe and scores the result.
func assess(ctx context.Context, probe Probe, page pageInfo, budgets Budgets, logger *zap.Logger) prospect.SiteAssessment {
	budgets = budgets.withDefaults()
	a := prospect.SiteAssessment{
		URL:          page.URL,
		FinalURL:     page.FinalURL,
		StatusCode:   page.StatusCode,
		IsAccessible: true,
		AnalyzedWith: page.Mode,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		degraded []string
	)
	note := func(facet string, err error) {
		if err == nil {
			return
		}
		logger.Debug("facet degraded", zap.String("facet", facet), zap.String("url", page.URL), zap.Error(err))
		metrics.ObserveFacetDegraded(facet)
		mu.Lock()
		degraded = append(degraded, facet)
		mu.Unlock()
	}

	wg.Add(6)
	go func() {
		defer wg.Done()
		var err error
		a.Performance, err = runFacet(ctx, budgets.Performance,
			prospect.PerformanceFacet{LoadTimeMs: page.LoadTimeMs},
			func(ctx context.Context) (prospect.PerformanceFacet, error) {
				return performanceFacet(ctx, probe, page.LoadTimeMs)
			})
		note(FacetPerformance, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		a.SEO, err = runFacet(ctx, budgets.Facet, prospect.SEOFacet{},
			func(ctx context.Context) (prospect.SEOFacet, error) { return seoFacet(ctx, probe) })
		note(FacetSEO, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		a.Tracking, err = runFacet(ctx, budgets.Facet, prospect.TrackingFacet{},
			func(ctx context.Context) (prospect.TrackingFacet, error) { return trackingFacet(ctx, probe) })
		note(FacetTracking, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		a.Compliance, err = runFacet(ctx, budgets.Facet, prospect.ComplianceFacet{},
			func(ctx context.Context) (prospect.ComplianceFacet, error) { return complianceFacet(ctx, probe) })
		note(FacetCompliance, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		a.Legal, err = runFacet(ctx, budgets.Facet, prospect.LegalFacet{},
			func(ctx context.Context) (prospect.LegalFacet, error) { return legalFacet(ctx, probe) })
		note(FacetLegal, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		a.Social, err = runFacet(ctx, budgets.Facet, prospect.SocialFacet{},
			func(ctx context.Context) (prospect.SocialFacet, error) { return socialFacet(ctx, probe) })
		note(FacetSocial, err)
	}()
	wg.Wait()

	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = page.URL
	}
	transport, err := runFacet(ctx, budgets.Facet, prospect.TransportFacet{HTTPS: isHTTPS(finalURL)},
		func(ctx context.Context) (prospect.TransportFacet, error) { return transportFacet(ctx, probe, finalURL) })
	if err != nil {
		logger.Debug("transport check fell back to scheme", zap.String("url", page.URL), zap.Error(err))
	}
	a.Transport = transport

	sort.Strings(degraded)
	a.DegradedFacets = degraded
	a.OverallScore = Score(a)
	return a
}

func isHTTPS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "https"
}
