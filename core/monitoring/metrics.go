// Package monitoring exposes Prometheus metrics and watches remote jobs
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vision_trainer"

// Metrics holds orchestrator collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsSubmitted  *prometheus.CounterVec
	RunsFinished   *prometheus.CounterVec
	TransferBytes  *prometheus.CounterVec
	TransferErrors *prometheus.CounterVec
	FinalMetric    prometheus.Gauge
	JobWaitSeconds *prometheus.HistogramVec
}

// NewMetrics registers collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_submitted_total",
				Help:      "Jobs submitted to the scheduler",
			},
			[]string{"kind", "provider"},
		),
		RunsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Jobs that reached a terminal state",
			},
			[]string{"kind", "state"},
		),
		TransferBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Bytes moved to or from object storage",
			},
			[]string{"op"},
		),
		TransferErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_errors_total",
				Help:      "Failed storage transfers",
			},
			[]string{"op"},
		),
		FinalMetric: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "final_metric",
				Help:      "Final metric of the last completed run",
			},
		),
		JobWaitSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_wait_seconds",
				Help:      "Time from submission to terminal state",
				Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
			},
			[]string{"kind"},
		),
	}
}

// ObserveTransfer records one transfer
func (m *Metrics) ObserveTransfer(op string, bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.TransferErrors.WithLabelValues(op).Inc()
		return
	}
	m.TransferBytes.WithLabelValues(op).Add(float64(bytes))
}

// RunSubmitted records a submission
func (m *Metrics) RunSubmitted(kind, provider string) {
	if m == nil {
		return
	}
	m.RunsSubmitted.WithLabelValues(kind, provider).Inc()
}

// RunFinished records a terminal state and how long the wait took
func (m *Metrics) RunFinished(kind, state string, waitSeconds float64) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(kind, state).Inc()
	m.JobWaitSeconds.WithLabelValues(kind).Observe(waitSeconds)
}

// SetFinalMetric records the last extracted metric
func (m *Metrics) SetFinalMetric(v float64) {
	if m == nil {
		return
	}
	m.FinalMetric.Set(v)
}
