package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted tracks tasks submitted to the local queue.
	TasksSubmitted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Total number of tasks submitted to the executor queue",
		},
		[]string{"skill"},
	)

	// TasksCompleted tracks finished tasks by outcome.
	TasksCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Total number of tasks completed",
		},
		[]string{"skill", "outcome"}, // success, failed, timeout, cancelled
	)

	// TaskQueueDepth tracks current queue occupancy.
	TaskQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued for execution",
		},
	)

	// TaskExecutionDuration tracks execution wall time.
	TaskExecutionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "execution_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"skill"},
	)

	// RouteDecisions tracks router outcomes by skill.
	RouteDecisions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Total number of routing decisions made",
		},
		[]string{"skill", "outcome"}, // routed, no_capable_node
	)

	// RouteCandidates tracks how many candidate peers the router
	// considered per decision.
	RouteCandidates = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "candidates",
			Help:      "Number of candidate peers considered per routing decision",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
	)
)
