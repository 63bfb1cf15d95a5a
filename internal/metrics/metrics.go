// Package metrics exposes Prometheus collectors for the summarizer.
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
	pagesTotal                 *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	cacheWritesTotal           *prometheus.CounterVec
	providerCallsTotal         *prometheus.CounterVec
	validationFailuresTotal    *prometheus.CounterVec
	breakerState               *prometheus.GaugeVec
	batchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper
// calls it, so explicit initialization is optional.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_pages_total",
				Help: "Pages processed, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_cache_lookups_total",
				Help: "Cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		cacheWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_cache_writes_total",
				Help: "Cache writes, labeled by result (ok, error).",
			},
			[]string{"result"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_provider_calls_total",
				Help: "Generation attempts, labeled by provider, operation and outcome.",
			},
			[]string{"provider", "operation", "outcome"},
		)

		validationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_validation_failures_total",
				Help: "Provider output validation failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "summarizer_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
			},
			[]string{"provider"},
		)

		batchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "summarizer_batch_duration_seconds",
				Help:    "Wall time per processed batch.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"site"},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "summarizer_rate_limit_delays_seconds",
				Help:    "Histogram of per-host fetch rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObservePage counts a page outcome (summarized, cached, failed, unsummarized).
func ObservePage(site, status string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveCacheLookup counts a gateway lookup result.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheWrite counts a gateway write result.
func ObserveCacheWrite(result string) {
	Init()
	cacheWritesTotal.WithLabelValues(result).Inc()
}

// ObserveProviderCall counts one generation attempt.
func ObserveProviderCall(provider, operation, outcome string) {
	Init()
	providerCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
}

// ObserveValidationFailure counts a rejected provider output.
func ObserveValidationFailure(kind string) {
	Init()
	validationFailuresTotal.WithLabelValues(kind).Inc()
}

// SetBreakerState records the numeric breaker state for a provider.
func SetBreakerState(provider string, state float64) {
	Init()
	breakerState.WithLabelValues(provider).Set(state)
}

// ObserveBatch records the wall time of one batch.
func ObserveBatch(site string, duration time.Duration) {
	Init()
	batchDurationSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
