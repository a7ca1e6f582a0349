// Package metrics exposes Prometheus collectors for discovery, fetching, and batch analysis.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded by ObserveFetch.
const (
	FetchSuccess = "success"
	FetchRetry   = "retry"
	FetchFailure = "failure"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogscan_fetch_attempts_total",
			Help: "Fetch attempts partitioned by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogscan_fetch_duration_seconds",
			Help:    "Wall time of a fetch including retries, labeled by final outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	strategyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogscan_discovery_strategy_total",
			Help: "Discovery strategy attempts partitioned by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	discoveredURLs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogscan_discovery_urls",
			Help:    "Number of classified content URLs found per successful discovery.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"source"},
	)

	batchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogscan_batch_items_total",
			Help: "Batch work items partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogscan_rate_limit_delays_seconds",
			Help:    "Histogram of per-host politeness wait durations.",
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
		},
		[]string{"method", "route"},
	)
)

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

// ObserveFetchAttempt records a single HTTP attempt made by the retrying fetcher.
func ObserveFetchAttempt(rawURL, outcome string) {
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveFetch records the total duration of a fetch, retries included.
func ObserveFetch(outcome string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveStrategy records the outcome of one discovery strategy.
func ObserveStrategy(strategy, outcome string) {
	strategyTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveDiscovered records how many content URLs a discovery produced.
func ObserveDiscovered(source string, count int) {
	discoveredURLs.WithLabelValues(source).Observe(float64(count))
}

// ObserveBatchItem increments the batch item counter for the given outcome.
func ObserveBatchItem(outcome string) {
	batchItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
