// Package metrics exposes Prometheus collectors for the crawl run.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes tracked by the pages counter.
const (
	OutcomeFetched = "fetched"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
)

var (
	crawlerPagesTotal           *prometheus.CounterVec
	crawlerRecordsWrittenTotal  prometheus.Counter
	crawlerRetriesTotal         prometheus.Counter
	crawlerCooldownsTotal       prometheus.Counter
	crawlerActiveWorkers        prometheus.Gauge
	crawlerFetchDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRecordsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_records_written_total",
				Help: "Total number of records durably written to the destination.",
			},
		)

		crawlerRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of page fetch retries.",
			},
		)

		crawlerCooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_cooldowns_total",
				Help: "Total number of pool-wide rate limit cooldowns.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a page.",
			},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for the given outcome.
func ObservePage(outcome string) {
	crawlerPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecordWritten counts one durably written record.
func ObserveRecordWritten() {
	crawlerRecordsWrittenTotal.Inc()
}

// ObserveRetry counts one page retry.
func ObserveRetry() {
	crawlerRetriesTotal.Inc()
}

// ObserveCooldown counts one pool-wide cooldown.
func ObserveCooldown() {
	crawlerCooldownsTotal.Inc()
}

// ObserveFetchDuration records a fetch latency.
func ObserveFetchDuration(d time.Duration) {
	crawlerFetchDurationSeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}
