package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
)

// Metrics holds all custom Prometheus metrics for the hub
type Metrics struct {
	// Ingest metrics
	IngestRuns         *prometheus.CounterVec
	ManifestsProcessed *prometheus.CounterVec
	IngestDuration     prometheus.Histogram

	// Search metrics
	SearchRequests *prometheus.CounterVec
	SearchLatency  prometheus.Histogram

	// Install and gateway metrics
	Installs             *prometheus.CounterVec
	GatewayRegistrations *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(db *database.DB) *Metrics {
	metrics := &Metrics{
		// Ingest cycles by outcome (counter - only goes up)
		IngestRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixhub_ingest_runs_total",
			Help: "Total number of ingest runs by status",
		}, []string{"status"}), // "ok" or "error"

		ManifestsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixhub_manifests_processed_total",
			Help: "Total number of manifests processed by outcome",
		}, []string{"outcome"}), // accepted, rejected, skipped, error

		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrixhub_ingest_duration_seconds",
			Help:    "Full ingest cycle duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixhub_search_requests_total",
			Help: "Total number of search requests by mode",
		}, []string{"mode"}),

		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrixhub_search_duration_seconds",
			Help:    "Search request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		Installs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixhub_installs_total",
			Help: "Total number of install executions by status",
		}, []string{"status"}), // "ok" or "failed"

		GatewayRegistrations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixhub_gateway_registrations_total",
			Help: "Total number of gateway registration attempts by status",
		}, []string{"status"}),
	}

	// Catalog size is read straight from the database on scrape.
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "matrixhub_catalog_entities",
			Help: "Current number of entities in the catalog",
		},
		func() float64 {
			if db != nil {
				if n, err := db.CountEntities(""); err == nil {
					return float64(n)
				}
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordIngestRun records one completed ingest cycle
func (m *Metrics) RecordIngestRun(status string, seconds float64) {
	m.IngestRuns.WithLabelValues(status).Inc()
	m.IngestDuration.Observe(seconds)
}

// RecordManifests records per-manifest outcomes from an ingest result
func (m *Metrics) RecordManifests(accepted, rejected, skipped, errors int) {
	m.ManifestsProcessed.WithLabelValues("accepted").Add(float64(accepted))
	m.ManifestsProcessed.WithLabelValues("rejected").Add(float64(rejected))
	m.ManifestsProcessed.WithLabelValues("skipped").Add(float64(skipped))
	m.ManifestsProcessed.WithLabelValues("error").Add(float64(errors))
}

// RecordSearch records a search request
func (m *Metrics) RecordSearch(mode string, seconds float64) {
	m.SearchRequests.WithLabelValues(mode).Inc()
	m.SearchLatency.Observe(seconds)
}

// RecordInstall records an install execution
func (m *Metrics) RecordInstall(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.Installs.WithLabelValues(status).Inc()
}

// RecordGatewayRegistration records a registration attempt
func (m *Metrics) RecordGatewayRegistration(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.GatewayRegistrations.WithLabelValues(status).Inc()
}
