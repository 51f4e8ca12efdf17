// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerDocumentsTotal      *prometheus.CounterVec
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerFieldFailuresTotal  *prometheus.CounterVec
	crawlerRunsTotal           *prometheus.CounterVec
	crawlerRunDurationSeconds  *prometheus.HistogramVec
	crawlerBatchSize           *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_documents_total",
				Help: "Listing items seen, labeled by source and outcome (accepted, skipped).",
			},
			[]string{"source", "outcome"},
		)

		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_listing_pages_total",
				Help: "Listing pages processed, labeled by source.",
			},
			[]string{"source"},
		)

		crawlerFieldFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_field_failures_total",
				Help: "Field extractions that fell back to a default, labeled by source and field.",
			},
			[]string{"source", "field"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Completed crawl runs, labeled by source and halt reason.",
			},
			[]string{"source", "reason"},
		)

		crawlerRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Histogram of crawl run durations, labeled by source.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"source"},
		)

		crawlerBatchSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_last_batch_size",
				Help: "Number of documents accepted by the most recent run, labeled by source.",
			},
			[]string{"source"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument counts one listing item by outcome.
func ObserveDocument(source, outcome string) {
	Init()
	crawlerDocumentsTotal.WithLabelValues(source, outcome).Inc()
}

// ObservePage counts one processed listing page.
func ObservePage(source string) {
	Init()
	crawlerPagesTotal.WithLabelValues(source).Inc()
}

// ObserveFieldFailure counts one field extraction that fell back to a default.
func ObserveFieldFailure(source, field string) {
	Init()
	crawlerFieldFailuresTotal.WithLabelValues(source, field).Inc()
}

// ObserveRun records the outcome of a finished run.
func ObserveRun(source, reason string, accepted int, duration time.Duration) {
	Init()
	crawlerRunsTotal.WithLabelValues(source, reason).Inc()
	crawlerRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	crawlerBatchSize.WithLabelValues(source).Set(float64(accepted))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
