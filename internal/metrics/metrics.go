// Package metrics exposes Prometheus collectors for the catalog crawler.
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

// Page outcomes recorded by ObservePage.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerProductsUpsertedTotal  prometheus.Counter
	crawlerItemsSkippedTotal      prometheus.Counter
	crawlerCategoriesFoundTotal   prometheus.Counter
	crawlerCacheInvalidations     *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds prometheus.Histogram
	opsHTTPRequestsTotal          *prometheus.CounterVec
	opsHTTPRequestDuration        *prometheus.HistogramVec
	progressEventsDroppedTotal    prometheus.Counter
	progressSinkFailuresTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of listing pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by fetch mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)

		crawlerProductsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_products_upserted_total",
				Help: "Total number of product rows inserted or refreshed.",
			},
		)

		crawlerItemsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_items_skipped_total",
				Help: "Total number of product nodes that did not parse into a product.",
			},
		)

		crawlerCategoriesFoundTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_categories_discovered_total",
				Help: "Total number of subcategories discovered and resolved.",
			},
		)

		crawlerCacheInvalidations = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_cache_invalidations_total",
				Help: "Total number of cache invalidation signals, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of pacing delays between page fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		opsHTTPRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_ops_http_requests_total",
				Help: "Total number of ops API requests, labeled by method, route and status.",
			},
			[]string{"method", "route", "status"},
		)

		opsHTTPRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_ops_http_request_duration_seconds",
				Help:    "Histogram of ops API latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		progressEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_progress_events_dropped_total",
			Help: "Progress events discarded because the hub buffer was full.",
		})

		progressSinkFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_progress_sink_failures_total",
				Help: "Progress sink errors, labeled by sink.",
			},
			[]string{"sink"},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts a listing page by site and outcome.
func ObservePage(pageURL, outcome string) {
	Init()
	crawlerPagesTotal.WithLabelValues(SanitizeSite(pageURL), outcome).Inc()
}

// ObserveFetch records how long a fetch took.
func ObserveFetch(headless bool, duration time.Duration) {
	Init()
	mode := "http"
	if headless {
		mode = "headless"
	}
	crawlerFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// AddProductsUpserted adds n persisted product rows.
func AddProductsUpserted(n int64) {
	Init()
	if n > 0 {
		crawlerProductsUpsertedTotal.Add(float64(n))
	}
}

// AddItemsSkipped adds n product nodes that were not products.
func AddItemsSkipped(n int) {
	Init()
	if n > 0 {
		crawlerItemsSkippedTotal.Add(float64(n))
	}
}

// IncCategoriesDiscovered counts one resolved subcategory.
func IncCategoriesDiscovered() {
	Init()
	crawlerCategoriesFoundTotal.Inc()
}

// ObserveCacheInvalidation counts a cache invalidation attempt.
func ObserveCacheInvalidation(ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	crawlerCacheInvalidations.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one ops API request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	opsHTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	opsHTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncProgressDropped counts one progress event lost to backpressure.
func IncProgressDropped() {
	Init()
	progressEventsDroppedTotal.Inc()
}

// IncProgressSinkFailure counts a failed Consume or Close on a progress sink.
func IncProgressSinkFailure(sink string) {
	Init()
	progressSinkFailuresTotal.WithLabelValues(sink).Inc()
}
