package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// proxyMetrics contains Prometheus metrics for proxy operations.
type proxyMetrics struct {
	errorsTotal      *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

var (
	proxyMetricsInstance *proxyMetrics
	proxyMetricsOnce     sync.Once
)

// initProxyMetrics initializes the singleton proxy metrics instance
// with the given Prometheus registerer. If registerer is nil, metrics are
// registered with the default registerer. Subsequent calls are no-ops.
func initProxyMetrics(registerer prometheus.Registerer) {
	proxyMetricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		factory := promauto.With(registerer)
		proxyMetricsInstance = &proxyMetrics{
			errorsTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "avagate",
					Subsystem: "proxy",
					Name:      "errors_total",
					Help:      "Total number of proxy errors by destination and type",
				},
				[]string{"destination", "error_type"},
			),
			upstreamDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "avagate",
					Subsystem: "proxy",
					Name:      "upstream_duration_seconds",
					Help:      "Duration of upstream requests",
					Buckets: []float64{
						.001, .005, .01, .025,
						.05, .1, .25, .5,
						1, 2.5, 5, 10,
					},
				},
				[]string{"destination"},
			),
		}
	})
}

// getProxyMetrics returns the singleton proxy metrics instance.
func getProxyMetrics() *proxyMetrics {
	initProxyMetrics(nil)
	return proxyMetricsInstance
}
