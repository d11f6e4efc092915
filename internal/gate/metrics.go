package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// decisions counts gate evaluations by outcome.
// Labels: result (accepted, rejected)
var decisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchd",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Total number of quality gate decisions by outcome",
	},
	[]string{"result"},
)
