// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusSkipped  = "skipped"
	StatusTooLarge = "too_large"
)

var (
	pagesTotal              *prometheus.CounterVec
	downloadsTotal          *prometheus.CounterVec
	downloadBytesTotal      prometheus.Counter
	errorsTotal             *prometheus.CounterVec
	queueDepth              prometheus.Gauge
	downloadDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of pages fetched, labeled by status.",
			},
			[]string{"status"},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_downloads_total",
				Help: "Total number of artifact downloads, labeled by status.",
			},
			[]string{"status"},
		)

		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_download_bytes_total",
				Help: "Total bytes written to disk by successful downloads.",
			},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_errors_total",
				Help: "Total crawl errors, labeled by category.",
			},
			[]string{"category"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_queue_depth",
				Help: "Number of pages waiting in the crawl queue.",
			},
		)

		downloadDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_download_duration_seconds",
				Help:    "Histogram of download durations including retries.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for the given status.
func ObservePage(status string) {
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveDownload records one download outcome.
func ObserveDownload(status string, bytes int64, duration time.Duration) {
	downloadsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		downloadBytesTotal.Add(float64(bytes))
	}
	downloadDurationSeconds.Observe(duration.Seconds())
}

// ObserveError increments the error counter for a CategorizeError category.
func ObserveError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}

// SetQueueDepth reports the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
