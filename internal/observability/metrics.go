// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid everywhere it is accepted; the Record helpers become no-ops.
type Metrics struct {
	// Cache metrics
	CacheHits         *prometheus.CounterVec
	CacheMisses       prometheus.Counter
	RemoteCacheErrors prometheus.Counter

	// Source metrics
	SourceFetches *prometheus.CounterVec
	RetryWaits    prometheus.Counter

	// Pipeline metrics
	AssetsProcessed *prometheus.CounterVec
	RowsAssembled   prometheus.Counter
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec

	// Database metrics
	PanelRowsInserted prometheus.Counter
	DBQueryErrors     *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all metrics registered on the
// default registry. Call it once per process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "crypto_dataset"
	}

	return &Metrics{
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by tier",
		}, []string{"tier"}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of full cache misses",
		}),
		RemoteCacheErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "remote_errors_total",
			Help:      "Total number of remote cache backend failures",
		}),

		SourceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sources",
			Name:      "fetches_total",
			Help:      "Total number of source fetches by source and outcome",
		}, []string{"source", "outcome"}),
		RetryWaits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sources",
			Name:      "retry_waits_total",
			Help:      "Total number of rate-limit cooldown waits",
		}),

		AssetsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "assets_processed_total",
			Help:      "Total number of assets processed by status",
		}, []string{"status"}),
		RowsAssembled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_assembled_total",
			Help:      "Total number of panel rows assembled",
		}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of runs by phase and status",
		}, []string{"phase", "status"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds by phase",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 3600, 10800},
		}, []string{"phase"}),

		PanelRowsInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "panel_rows_inserted_total",
			Help:      "Total number of panel rows inserted into the store",
		}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheHit increments the cache hit counter for a tier.
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss increments the full-miss counter.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// RecordRemoteCacheError increments the remote backend failure counter.
func (m *Metrics) RecordRemoteCacheError() {
	if m == nil {
		return
	}
	m.RemoteCacheErrors.Inc()
}

// RecordSourceFetch records one source fetch and its outcome.
func (m *Metrics) RecordSourceFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
}

// RecordRetryWait increments the cooldown wait counter.
func (m *Metrics) RecordRetryWait() {
	if m == nil {
		return
	}
	m.RetryWaits.Inc()
}

// RecordAssetProcessed records one asset's terminal status for a run.
func (m *Metrics) RecordAssetProcessed(status string) {
	if m == nil {
		return
	}
	m.AssetsProcessed.WithLabelValues(status).Inc()
}

// RecordRowsAssembled adds n to the assembled row counter.
func (m *Metrics) RecordRowsAssembled(n int) {
	if m == nil {
		return
	}
	m.RowsAssembled.Add(float64(n))
}

// RecordRun records a run's phase, status, and duration.
func (m *Metrics) RecordRun(phase, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(phase, status).Inc()
	m.RunDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordPanelRowsInserted adds n to the panel insert counter.
func (m *Metrics) RecordPanelRowsInserted(n int) {
	if m == nil {
		return
	}
	m.PanelRowsInserted.Add(float64(n))
}

// RecordDBError records a database query error.
func (m *Metrics) RecordDBError(database, operation string) {
	if m == nil {
		return
	}
	m.DBQueryErrors.WithLabelValues(database, operation).Inc()
}
