package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "pipeline",
			Name:      "admissions_total",
			Help:      "Total number of admission decisions",
		},
		[]string{"result"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "pipeline",
			Name:      "rejections_total",
			Help:      "Total number of rejected requests by reason and stage",
		},
		[]string{"reason", "stage"},
	)

	admissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "avagate",
			Subsystem: "pipeline",
			Name:      "admission_duration_seconds",
			Help:      "Time spent deciding whether to admit a request",
			Buckets:   []float64{.00001, .000025, .00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "pipeline",
			Name:      "forward_outcomes_total",
			Help:      "Forwarding outcomes reported for admitted requests",
		},
		[]string{"destination", "result"},
	)

	reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "pipeline",
			Name:      "reloads_total",
			Help:      "Total number of configuration reloads",
		},
		[]string{"result"},
	)
)

// RecordAdmission records an admitted request.
func RecordAdmission(seconds float64) {
	admissionsTotal.WithLabelValues("admitted").Inc()
	admissionDuration.Observe(seconds)
}

// RecordRejection records a rejected request.
func RecordRejection(reason, stage string, seconds float64) {
	admissionsTotal.WithLabelValues("rejected").Inc()
	rejectionsTotal.WithLabelValues(reason, stage).Inc()
	admissionDuration.Observe(seconds)
}

// RecordOutcome records the forwarding outcome of an admitted request.
func RecordOutcome(destination string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	outcomesTotal.WithLabelValues(destination, result).Inc()
}

// RecordReload records a configuration reload attempt.
func RecordReload(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	reloadsTotal.WithLabelValues(result).Inc()
}
