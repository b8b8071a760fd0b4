package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RefinementMetrics holds all Prometheus metrics of the refinement engine.
type RefinementMetrics struct {
	// Candidate metrics
	CandidatesTotal *prometheus.CounterVec

	// External tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Tree metrics
	TreeDecisionNodes *prometheus.GaugeVec
	TreeValue         *prometheus.GaugeVec

	// Splice metrics
	SplicesTotal   prometheus.Counter
	RollbacksTotal prometheus.Counter

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Circuit breaker metrics
	CircuitOpenTotal *prometheus.CounterVec
}

// NewRefinementMetrics registers the engine's metrics with reg (the
// default registerer when nil).
func NewRefinementMetrics(reg prometheus.Registerer) *RefinementMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &RefinementMetrics{
		CandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refine_candidates_total",
				Help: "Total number of refinement candidates by outcome",
			},
			[]string{"status", "reason"},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refine_tool_calls_total",
				Help: "Total number of external tool invocations",
			},
			[]string{"tool", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refine_tool_call_seconds",
				Help:    "External tool invocation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"tool"},
		),

		TreeDecisionNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "refine_tree_decision_nodes",
				Help: "Decision node count of the working tree by stage",
			},
			[]string{"stage"},
		),

		TreeValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "refine_tree_value",
				Help: "Expected value of the working tree by stage",
			},
			[]string{"stage"},
		),

		SplicesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "refine_splices_total",
				Help: "Total number of accepted sub-tree replacements",
			},
		),

		RollbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "refine_rollbacks_total",
				Help: "Total number of splices rolled back after re-verification",
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refine_runs_total",
				Help: "Total refinement runs by terminal state",
			},
			[]string{"state"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "refine_run_seconds",
				Help:    "Wall-clock duration of whole refinement runs",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		CircuitOpenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refine_circuit_open_total",
				Help: "Total number of circuit breaker opens per external tool",
			},
			[]string{"tool"},
		),
	}
}

// ObserveToolCall records one external tool invocation.
func (m *RefinementMetrics) ObserveToolCall(tool string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordCandidate records a candidate outcome.
func (m *RefinementMetrics) RecordCandidate(status, reason string) {
	m.CandidatesTotal.WithLabelValues(status, reason).Inc()
}
