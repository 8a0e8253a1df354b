package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "router",
			Name:      "resolutions_total",
			Help:      "Total number of route resolutions by result",
		},
		[]string{"result"},
	)

	routesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "avagate",
			Subsystem: "router",
			Name:      "routes",
			Help:      "Number of routes in the active table",
		},
	)

	reloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "avagate",
			Subsystem: "router",
			Name:      "reloads_total",
			Help:      "Total number of route table reloads",
		},
	)
)

// RecordResolution records a resolution result: matched, default or not_found.
func RecordResolution(result string) {
	resolutionsTotal.WithLabelValues(result).Inc()
}

// RecordReload records a table reload.
func RecordReload(routes int) {
	reloadsTotal.Inc()
	routesGauge.Set(float64(routes))
}
