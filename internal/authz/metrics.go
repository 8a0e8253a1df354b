package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avagate",
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Total number of route authorization decisions",
	},
	[]string{"decision"},
)

// RecordDecision records an authorization decision.
func RecordDecision(decision string) {
	decisionsTotal.WithLabelValues(decision).Inc()
}
