// Package metrics bundles Prometheus collectors for the batch scraper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics registers all collectors on a dedicated registry. All methods
// are nil-safe so collaborators can run without metrics wired.
type Metrics struct {
	Registry *prometheus.Registry

	FetchesTotal    *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RetriesTotal    prometheus.Counter
	BytesTotal      prometheus.Counter
	PersistFailures prometheus.Counter
}

// New constructs and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Terminal fetch outcomes by task and status.",
		},
		[]string{"task", "status"},
	)
	attemptDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_attempt_duration_seconds",
			Help:    "Wall time of individual fetch attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"task"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Retry attempts scheduled after retryable failures.",
		},
	)
	bytesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_bytes_downloaded_total",
			Help: "Payload bytes received across all attempts.",
		},
	)
	persistFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_persist_failures_total",
			Help: "Successful fetches that failed to persist.",
		},
	)

	registry.MustRegister(fetches, attemptDuration, retries, bytesTotal, persistFailures)

	return &Metrics{
		Registry:        registry,
		FetchesTotal:    fetches,
		AttemptDuration: attemptDuration,
		RetriesTotal:    retries,
		BytesTotal:      bytesTotal,
		PersistFailures: persistFailures,
	}
}

// IncFetch records a terminal outcome for a task.
func (m *Metrics) IncFetch(task, status string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(task, status).Inc()
}

// ObserveAttempt records the duration of one attempt.
func (m *Metrics) ObserveAttempt(task string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptDuration.WithLabelValues(task).Observe(d.Seconds())
}

// IncRetries increments the retry counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// AddBytes records received payload bytes.
func (m *Metrics) AddBytes(n int64) {
	if m == nil {
		return
	}
	m.BytesTotal.Add(float64(n))
}

// IncPersistFailure increments the persistence failure counter.
func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}
