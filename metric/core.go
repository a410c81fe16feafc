// Package metric provides the Prometheus metrics registry and the core
// platform metrics for the ingestion and clustering pipeline.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not domain payload data)
type Metrics struct {
	// Ingestion metrics
	RecordsIngested  *prometheus.CounterVec
	IngestErrors     *prometheus.CounterVec
	SourcesActive    *prometheus.GaugeVec
	SourceThroughput *prometheus.GaugeVec
	PassStatus       prometheus.Gauge
	PassRecords      prometheus.Gauge

	// Matchpoint metrics
	MatchPointsInserted prometheus.Counter
	MatchPointsDeleted  prometheus.Counter
	ReconcileDuration   prometheus.Histogram

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// Pass status values for the PassStatus gauge.
const (
	PassIdle        = 0
	PassRunning     = 1
	PassTerminating = 2
)

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcb",
				Subsystem: "ingest",
				Name:      "records_total",
				Help:      "Total number of raw records ingested",
			},
			[]string{"source"},
		),

		IngestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcb",
				Subsystem: "ingest",
				Name:      "errors_total",
				Help:      "Total number of ingestion errors",
			},
			[]string{"source", "stage"},
		),

		SourcesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dcb",
				Subsystem: "ingest",
				Name:      "sources_active",
				Help:      "Number of concurrently subscribed sources per concurrency group",
			},
			[]string{"group"},
		),

		SourceThroughput: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dcb",
				Subsystem: "ingest",
				Name:      "source_records_per_minute",
				Help:      "Per-source ingestion throughput in records per minute",
			},
			[]string{"source"},
		),

		PassStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcb",
				Subsystem: "ingest",
				Name:      "pass_status",
				Help:      "Ingestion pass status (0=idle, 1=running, 2=terminating)",
			},
		),

		PassRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcb",
				Subsystem: "ingest",
				Name:      "pass_records",
				Help:      "Records observed by the current ingestion pass",
			},
		),

		MatchPointsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dcb",
				Subsystem: "match",
				Name:      "matchpoints_inserted_total",
				Help:      "Total number of matchpoint rows inserted",
			},
		),

		MatchPointsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dcb",
				Subsystem: "match",
				Name:      "matchpoints_deleted_total",
				Help:      "Total number of stale matchpoint rows deleted",
			},
		),

		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dcb",
				Subsystem: "match",
				Name:      "reconcile_duration_seconds",
				Help:      "Per-bib matchpoint reconciliation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcb",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dcb",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordIngested increments the per-source ingested record counter
func (c *Metrics) RecordIngested(source string) {
	c.RecordsIngested.WithLabelValues(source).Inc()
}

// RecordIngestError increments the per-source, per-stage error counter
func (c *Metrics) RecordIngestError(source, stage string) {
	c.IngestErrors.WithLabelValues(source, stage).Inc()
}

// RecordSourceStarted increments the active-source gauge for a group
func (c *Metrics) RecordSourceStarted(group string) {
	c.SourcesActive.WithLabelValues(group).Inc()
}

// RecordSourceStopped decrements the active-source gauge for a group
func (c *Metrics) RecordSourceStopped(group string) {
	c.SourcesActive.WithLabelValues(group).Dec()
}

// RecordSourceThroughput sets a source's records-per-minute gauge
func (c *Metrics) RecordSourceThroughput(source string, perMinute float64) {
	c.SourceThroughput.WithLabelValues(source).Set(perMinute)
}

// RecordPassStatus updates the ingestion pass status gauge
func (c *Metrics) RecordPassStatus(status int) {
	c.PassStatus.Set(float64(status))
}

// RecordPassRecords updates the records-observed gauge
func (c *Metrics) RecordPassRecords(n int64) {
	c.PassRecords.Set(float64(n))
}

// RecordMatchPointsInserted adds to the inserted matchpoint counter
func (c *Metrics) RecordMatchPointsInserted(n int) {
	c.MatchPointsInserted.Add(float64(n))
}

// RecordMatchPointsDeleted adds to the deleted matchpoint counter
func (c *Metrics) RecordMatchPointsDeleted(n int) {
	c.MatchPointsDeleted.Add(float64(n))
}

// RecordReconcileDuration records one reconciliation's duration
func (c *Metrics) RecordReconcileDuration(d time.Duration) {
	c.ReconcileDuration.Observe(d.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
