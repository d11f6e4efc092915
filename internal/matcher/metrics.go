package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// matches counts match attempts by outcome.
	// Labels: result (matched, needs_review)
	matches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "matcher",
			Name:      "matches_total",
			Help:      "Total number of deliverable match attempts by outcome",
		},
		[]string{"result"},
	)

	// matchConfidence tracks the similarity of accepted matches.
	matchConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orchd",
			Subsystem: "matcher",
			Name:      "match_confidence",
			Help:      "Similarity score of accepted goal-deliverable matches",
			Buckets:   prometheus.LinearBuckets(0.5, 0.05, 10),
		},
	)
)
