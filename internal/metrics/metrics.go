// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Key cache outcomes.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheShared    = "shared_hit"
	CacheStale     = "stale_fallback"
	CacheCoalesced = "coalesced"
	CacheError     = "error"
)

var (
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	keyCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlgate_keycache_requests_total",
			Help: "Key validation cache lookups, labeled by result.",
		},
		[]string{"result"},
	)

	registryLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlgate_registry_lookups_total",
			Help: "Upstream key registry lookups, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	registryLookupSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawlgate_registry_lookup_duration_seconds",
			Help:    "Latency of upstream key registry lookups.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	authDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlgate_auth_decisions_total",
			Help: "Auth gate decisions, labeled by decision.",
		},
		[]string{"decision"},
	)

	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlgate_crawls_total",
			Help: "Crawl operations, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	crawlDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlgate_crawl_duration_seconds",
			Help:    "Crawl engine latency, labeled by operation.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation"},
	)

	crawlsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlgate_crawls_in_flight",
			Help: "Number of crawl operations currently holding a dispatcher slot.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlgate_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"scope"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveKeyCache records a key cache lookup result.
func ObserveKeyCache(result string) {
	keyCacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveRegistryLookup records an upstream registry call.
func ObserveRegistryLookup(outcome string, duration time.Duration) {
	registryLookupsTotal.WithLabelValues(outcome).Inc()
	registryLookupSeconds.Observe(duration.Seconds())
}

// ObserveAuthDecision records an auth gate decision.
func ObserveAuthDecision(decision string) {
	authDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveCrawl records a finished crawl operation.
func ObserveCrawl(operation, outcome string, duration time.Duration) {
	crawlsTotal.WithLabelValues(operation, outcome).Inc()
	crawlDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncCrawlsInFlight increments the in-flight crawl gauge.
func IncCrawlsInFlight() {
	crawlsInFlight.Inc()
}

// DecCrawlsInFlight decrements the in-flight crawl gauge.
func DecCrawlsInFlight() {
	crawlsInFlight.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(scope).Observe(duration.Seconds())
}
