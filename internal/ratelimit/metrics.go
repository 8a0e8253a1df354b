package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts rate limit decisions.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of rate limit decisions",
		},
		[]string{"algorithm", "result"},
	)

	// KeysGauge tracks the number of live limiters.
	KeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "avagate",
			Subsystem: "ratelimit",
			Name:      "keys",
			Help:      "Number of limiters currently held by the registry",
		},
	)

	// SweptTotal counts limiters dropped because they were at rest.
	SweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "ratelimit",
			Name:      "swept_total",
			Help:      "Total number of idle limiters removed from the registry",
		},
	)
)

// RecordDecision records a rate limit decision.
func RecordDecision(algorithm Algorithm, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	DecisionsTotal.WithLabelValues(string(algorithm), result).Inc()
}
