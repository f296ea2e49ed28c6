// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluatorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluator_calls_total",
			Help: "Total number of evaluator role invocations",
		},
		[]string{"role"},
	)

	EvaluatorFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluator_fallbacks_total",
			Help: "Evaluator invocations that returned the fallback result",
		},
		[]string{"role"},
	)

	EvaluatorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "evaluator_call_duration_seconds",
			Help: "Duration of evaluator capability calls in seconds",
		},
		[]string{"role"},
	)

	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Completed orchestration runs by decision",
		},
		[]string{"decision"},
	)

	WorkflowVetoes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_compliance_vetoes_total",
			Help: "Runs terminated early by the compliance veto",
		},
	)

	DebateRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_debate_rounds",
			Help:    "Debate rounds executed per run",
			Buckets: []float64{0, 1, 2},
		},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "workflow_run_duration_seconds",
			Help: "Duration of a full orchestration run in seconds",
		},
	)
)
