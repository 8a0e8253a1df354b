package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for middleware
// operations.
type MiddlewareMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	rejectionsWritten *prometheus.CounterVec

	panicsRecovered prometheus.Counter
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics
// instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = newMiddlewareMetrics()
	})
	return middlewareMetrics
}

func newMiddlewareMetrics() *MiddlewareMetrics {
	return &MiddlewareMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avagate",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "avagate",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds, including the upstream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		inFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "avagate",
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests being served",
			},
		),
		rejectionsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avagate",
				Subsystem: "http",
				Name:      "rejections_total",
				Help:      "Total number of rejection responses by reason",
			},
			[]string{"reason"},
		),
		panicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "avagate",
				Subsystem: "http",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered",
			},
		),
	}
}

// Metrics returns a middleware that records request counts and latency.
// Requests are labelled with the route chosen by Admission.
func Metrics() func(http.Handler) http.Handler {
	m := GetMiddlewareMetrics()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			info, r := withRequestInfo(r)
			rw := wrapResponseWriter(w)

			next.ServeHTTP(rw, r)

			route := info.routeLabel()
			m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
