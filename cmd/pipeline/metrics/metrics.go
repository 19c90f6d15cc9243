// Package metrics provides Prometheus metrics instrumentation for the
// pipeline.
//
// It exposes operational metrics about row throughput, drop causes, batch
// outcomes, stage latency, and the final anomaly count. All metrics are
// exposed via the /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - meterflow_rows_total: Counter of rows by stage (melted, enriched, sampled, scored)
//   - meterflow_rows_dropped_total: Counter of dropped/excluded rows by cause
//   - meterflow_batches_total: Counter of batches by outcome (written, skipped)
//   - meterflow_stage_duration_seconds: Histogram of stage durations
//   - meterflow_anomalies_total: Counter of final anomaly labels
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RowsTotal        *prometheus.CounterVec
	RowsDroppedTotal *prometheus.CounterVec
	BatchesTotal     *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	AnomaliesTotal   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meterflow_rows_total",
			Help: "Total rows processed per pipeline stage",
		}, []string{"stage"}),

		RowsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meterflow_rows_dropped_total",
			Help: "Total rows dropped or excluded by cause",
		}, []string{"cause"}),

		BatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meterflow_batches_total",
			Help: "Total melt batches by outcome",
		}, []string{"outcome"}),

		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterflow_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),

		AnomaliesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meterflow_anomalies_total",
			Help: "Total readings labeled anomalous by the ensemble",
		}),
	}
}

func (m *Metrics) AddRows(stage string, n int) {
	m.RowsTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) AddDropped(cause string, n int) {
	m.RowsDroppedTotal.WithLabelValues(cause).Add(float64(n))
}

func (m *Metrics) RecordBatch(outcome string) {
	m.BatchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) AddAnomalies(n int) {
	m.AnomaliesTotal.Add(float64(n))
}
