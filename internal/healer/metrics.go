package healer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// remediationsApplied counts corrective actions by condition and action.
	// Labels: condition (orphaned_goal, orphaned_task, stuck_task),
	// action (redecompose, provision_agent, flag_needs_review, requeue, fail)
	remediationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "healer",
			Name:      "remediations_total",
			Help:      "Total number of remediations applied by condition and action",
		},
		[]string{"condition", "action"},
	)

	// sweepDuration tracks how long full health sweeps take.
	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orchd",
			Subsystem: "healer",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of health monitor sweeps in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
