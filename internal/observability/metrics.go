package observability

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var buildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "avagate",
		Name:      "build_info",
		Help:      "Build information of the running gateway",
	},
	[]string{"version", "build_time", "go_version"},
)

// RecordBuildInfo publishes the build information gauge.
func RecordBuildInfo(version, buildTime string) {
	buildInfo.WithLabelValues(version, buildTime, runtime.Version()).Set(1)
}

// MetricsHandler returns an HTTP handler serving the metrics of gatherer.
// A nil gatherer serves the default registry.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
