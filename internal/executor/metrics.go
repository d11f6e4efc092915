package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attempts counts settled task attempts by outcome.
	// Labels: result (success, retry, failure, rejected_retry, rejected_final)
	attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "executor",
			Name:      "attempts_total",
			Help:      "Total number of task execution attempts by outcome",
		},
		[]string{"result"},
	)

	// attemptDuration tracks wall-clock attempt duration.
	attemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orchd",
			Subsystem: "executor",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of task execution attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// breakerOpens counts circuit breaker open transitions.
	// Labels: class
	breakerOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "executor",
			Name:      "breaker_opens_total",
			Help:      "Total number of circuit breaker open transitions by task class",
		},
		[]string{"class"},
	)

	// breakerState tracks current breaker state per workspace and class
	// (0=closed, 0.5=half_open, 1=open).
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchd",
			Subsystem: "executor",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0=closed, 0.5=half_open, 1=open)",
		},
		[]string{"workspace", "class"},
	)
)
