package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksEnqueued counts tasks admitted into the queue.
	tasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "scheduler",
			Name:      "tasks_enqueued_total",
			Help:      "Total number of tasks admitted into the dispatch queue",
		},
	)

	// tasksDeduplicated counts enqueue attempts rejected as duplicates.
	tasksDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "scheduler",
			Name:      "tasks_deduplicated_total",
			Help:      "Total number of enqueue attempts rejected by the fingerprint index",
		},
	)

	// tasksDispatched counts agent/task pairings handed to the executor.
	tasksDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "scheduler",
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched to agents",
		},
	)

	// tasksRequeued counts retry requeues.
	tasksRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "scheduler",
			Name:      "tasks_requeued_total",
			Help:      "Total number of tasks returned to the queue for retry",
		},
	)

	// tasksFinished counts terminal transitions by final status.
	// Labels: status (completed, failed, cancelled)
	tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "scheduler",
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	// queueDepth tracks the current number of queued pending tasks.
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchd",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Current number of pending tasks in the dispatch queue",
		},
	)
)
