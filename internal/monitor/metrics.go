package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codeexec"

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	PhaseDuration     *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge
	SubmissionFlags   *prometheus.CounterVec
	CleanupFailures   prometheus.Counter
	RequestsInFlight  prometheus.Gauge
	CodeSizeBytes     prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of executions by language and terminal status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "End-to-end duration of executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of compile and run phases in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"language", "phase"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Number of executions currently holding a slot.",
			},
		),

		SubmissionFlags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_flags_total",
				Help:      "Suspicious patterns found in submitted code.",
			},
			[]string{"pattern"},
		),

		CleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_failures_total",
				Help:      "Workspaces that could not be fully removed.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "output_size_bytes",
				Help:      "Size of execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.PhaseDuration,
		m.ActiveExecutions,
		m.SubmissionFlags,
		m.CleanupFailures,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a finished execution.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordPhase records the duration of a compile or run step.
func (m *Metrics) RecordPhase(language, phase string, durationSec float64) {
	m.PhaseDuration.WithLabelValues(language, phase).Observe(durationSec)
}

// RecordFlag records a suspicious pattern in submitted code.
func (m *Metrics) RecordFlag(pattern string) {
	m.SubmissionFlags.WithLabelValues(pattern).Inc()
}
