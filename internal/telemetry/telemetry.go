// Package telemetry exposes the scheduling loop's live state as Prometheus
// gauges and counters, recovered from nightwire/autonomous/loop.py's status
// snapshot (dropped by the distillation) and re-expressed the idiomatic Go
// way via prometheus/client_golang's promauto registration helpers.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gauges and counters the scheduling loop updates on every
// iteration and the executor updates on every task outcome.
type Metrics struct {
	QueueDepth           prometheus.Gauge
	ActiveWorkers        prometheus.Gauge
	TasksCompletedToday  prometheus.Gauge
	TasksFailedToday     prometheus.Gauge
	CooldownActive       prometheus.Gauge
	TasksCompletedTotal  prometheus.Counter
	TasksFailedTotal     prometheus.Counter
	TasksRequeuedTotal   prometheus.Counter
	QualityGateFailures  prometheus.Counter
	VerificationFailures prometheus.Counter
	AgentInvocations     *prometheus.CounterVec
	TaskDurationSeconds  prometheus.Histogram
}

// New registers and returns the metric set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registry across package-level test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_queue_depth",
			Help: "Number of tasks currently queued for execution.",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_active_workers",
			Help: "Number of worker slots currently occupied.",
		}),
		TasksCompletedToday: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_tasks_completed_today",
			Help: "Tasks completed since local midnight.",
		}),
		TasksFailedToday: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_tasks_failed_today",
			Help: "Tasks failed since local midnight.",
		}),
		CooldownActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_cooldown_active",
			Help: "1 while the rate-limit cooldown gate is active, else 0.",
		}),
		TasksCompletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_tasks_completed_total",
			Help: "Total tasks completed since process start.",
		}),
		TasksFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_tasks_failed_total",
			Help: "Total tasks failed since process start.",
		}),
		TasksRequeuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_tasks_requeued_total",
			Help: "Total tasks requeued for retry since process start.",
		}),
		QualityGateFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_quality_gate_failures_total",
			Help: "Total quality gate failures (including baseline-absorbed ones).",
		}),
		VerificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_verification_failures_total",
			Help: "Total independent-verification failures.",
		}),
		AgentInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_agent_invocations_total",
			Help: "Agent subprocess invocations by error classification.",
		}, []string{"category"}),
		TaskDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ralph_task_duration_seconds",
			Help:    "Wall-clock duration of a task's full executor pipeline.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}
