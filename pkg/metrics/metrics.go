// Package metrics exposes the orchestrator's Prometheus instrumentation:
// tick activity, queue depth, review-gate outcomes, and agent run health,
// registered against a dedicated registry rather than the global default
// so multiple Engine instances in the same process (as in tests) don't
// collide on metric registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the orchestrator's metric collectors against their own
// prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	TicksTotal          prometheus.Counter
	TickDuration        prometheus.Histogram
	TasksByState        *prometheus.GaugeVec
	TaskTransitions     *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	QueueOperations     *prometheus.CounterVec
	ReviewDecisions     *prometheus.CounterVec
	AgentRunsTotal      *prometheus.CounterVec
	AgentRunDuration    *prometheus.HistogramVec
	VerifyOutcomes      *prometheus.CounterVec
	ModelHealth         *prometheus.GaugeVec
	DeltaReportsEmitted prometheus.Counter
}

// New constructs a Registry with every collector registered, panicking on
// a duplicate-registration error since that can only indicate a
// programming mistake (the registry is fresh for each New call).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "engine_ticks_total",
			Help:      "Total number of runtime engine ticks processed.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "othala",
			Name:      "engine_tick_duration_seconds",
			Help:      "Wall-clock duration of each runtime engine tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		TasksByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "othala",
			Name:      "tasks_by_state",
			Help:      "Current number of tasks in each lifecycle state.",
		}, []string{"state"}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "task_transitions_total",
			Help:      "Total task state transitions, labeled by origin and destination state.",
		}, []string{"from", "to"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "othala",
			Name:      "stack_queue_depth",
			Help:      "Current depth of the stack-queue master agent's operation queue, per repo.",
		}, []string{"repo_id"}),
		QueueOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "stack_queue_operations_total",
			Help:      "Total stack-queue operations processed, labeled by kind and result.",
		}, []string{"kind", "result"}),
		ReviewDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "review_decisions_total",
			Help:      "Total review-gate decisions, labeled by capacity outcome.",
		}, []string{"capacity"}),
		AgentRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "agent_runs_total",
			Help:      "Total agent runs, labeled by model and status.",
		}, []string{"model", "status"}),
		AgentRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "othala",
			Name:      "agent_run_duration_seconds",
			Help:      "Agent run duration, labeled by model.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		VerifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "verify_outcomes_total",
			Help:      "Total verify runs, labeled by tier and outcome.",
		}, []string{"tier", "outcome"}),
		ModelHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "othala",
			Name:      "model_health",
			Help:      "Model health state as a gauge: 1=healthy, 0.5=cooldown, 0=disabled.",
		}, []string{"model"}),
		DeltaReportsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "othala",
			Name:      "delta_reports_emitted_total",
			Help:      "Total non-suppressed operator delta reports emitted.",
		}),
	}
}

// Registry exposes the underlying prometheus.Registry for wiring an HTTP
// /metrics handler (promhttp.HandlerFor(reg, ...)).
func (r *Registry) Registry() *prometheus.Registry {
	return r.reg
}

// ModelHealthValue maps a health label to the gauge value ModelHealth
// expects.
func ModelHealthValue(healthy, cooldown bool) float64 {
	switch {
	case healthy:
		return 1
	case cooldown:
		return 0.5
	default:
		return 0
	}
}
