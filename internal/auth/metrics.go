package auth

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token operations.
type Metrics struct {
	validationsTotal *prometheus.CounterVec
	issuedTotal      prometheus.Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the metrics registered with prometheus.DefaultRegisterer.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with registerer.
// A nil registerer leaves the metrics unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avagate",
				Subsystem: "auth",
				Name:      "validations_total",
				Help:      "Total number of token validations by result",
			},
			[]string{"result"},
		),
		issuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "avagate",
				Subsystem: "auth",
				Name:      "tokens_issued_total",
				Help:      "Total number of tokens issued",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.validationsTotal, m.issuedTotal)
	}
	return m
}

// RecordValidation records a validation result.
func (m *Metrics) RecordValidation(result string) {
	m.validationsTotal.WithLabelValues(result).Inc()
}

// RecordIssued records an issued token.
func (m *Metrics) RecordIssued() {
	m.issuedTotal.Inc()
}
