// Package metrics exposes Prometheus collectors for the prospector service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	zonesProcessedTotal        *prometheus.CounterVec
	zonesRecoveredTotal        prometheus.Counter
	activeZones                prometheus.Gauge
	batchStragglersTotal       prometheus.Counter
	leadsTotal                 *prometheus.CounterVec
	analysesTotal              *prometheus.CounterVec
	analysisDurationSeconds    *prometheus.HistogramVec
	facetDegradedTotal         *prometheus.CounterVec
	renderWaitSeconds          *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		zonesProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_zones_processed_total",
				Help: "Zone executions, labeled by attempt status.",
			},
			[]string{"status"},
		)

		zonesRecoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prospector_zones_recovered_total",
				Help: "Stuck zones force-unlocked by the recovery sweep.",
			},
		)

		activeZones = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "prospector_active_zones",
				Help: "Zones currently leased by this process.",
			},
		)

		batchStragglersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prospector_batch_stragglers_total",
				Help: "Zones still running when a batch hit its ceiling.",
			},
		)

		leadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_leads_total",
				Help: "Lead upserts, labeled by outcome (new, enriched, unchanged, failed).",
			},
			[]string{"outcome"},
		)

		analysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_analyses_total",
				Help: "Website analyses, labeled by analyzer mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		analysisDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_analysis_duration_seconds",
				Help:    "Histogram of website analysis latencies, labeled by analyzer mode.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"mode"},
		)

		facetDegradedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_facet_degraded_total",
				Help: "Analysis facets that fell back to their default, labeled by facet.",
			},
			[]string{"facet"},
		)

		renderWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_render_wait_seconds",
				Help:    "Histogram of per-domain rate limit waits before rendering.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveZone counts one zone execution.
func ObserveZone(status string) {
	Init()
	zonesProcessedTotal.WithLabelValues(status).Inc()
}

// ObserveRecovered counts zones unlocked by the recovery sweep.
func ObserveRecovered(n int) {
	Init()
	if n > 0 {
		zonesRecoveredTotal.Add(float64(n))
	}
}

// IncActiveZones increments the leased zones gauge.
func IncActiveZones() {
	Init()
	activeZones.Inc()
}

// DecActiveZones decrements the leased zones gauge.
func DecActiveZones() {
	Init()
	activeZones.Dec()
}

// ObserveStragglers counts zones abandoned by a batch ceiling.
func ObserveStragglers(n int) {
	Init()
	if n > 0 {
		batchStragglersTotal.Add(float64(n))
	}
}

// ObserveLead counts one lead upsert outcome.
func ObserveLead(outcome string) {
	Init()
	leadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAnalysis records an analysis outcome and its latency.
func ObserveAnalysis(mode, outcome string, duration time.Duration) {
	Init()
	analysesTotal.WithLabelValues(mode, outcome).Inc()
	analysisDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveFacetDegraded counts a facet that fell back to its default.
func ObserveFacetDegraded(facet string) {
	Init()
	facetDegradedTotal.WithLabelValues(facet).Inc()
}

// ObserveRenderWait records the duration of a per-domain rate limit wait.
func ObserveRenderWait(domain string, duration time.Duration) {
	Init()
	renderWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
