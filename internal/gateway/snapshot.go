package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avagate/internal/circuitbreaker"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
)

// Snapshot is a read-only view of the pipeline state.
type Snapshot struct {
	TakenAt         time.Time                       `json:"takenAt"`
	RouteGeneration uint64                          `json:"routeGeneration"`
	Routes          int                             `json:"routes"`
	Breakers        map[string]circuitbreaker.Stats `json:"breakers"`
	Limiters        map[string]ratelimit.Snapshot   `json:"limiters"`
}

// Snapshot returns breaker states and limiter budgets as seen now.
func (p *Pipeline) Snapshot() Snapshot {
	now := p.clock()
	snap := Snapshot{
		TakenAt:         now,
		RouteGeneration: p.router.Generation(),
		Routes:          p.router.Len(),
		Limiters:        p.limiters.Snapshots(now),
	}
	if p.breakers != nil {
		snap.Breakers = p.breakers.Stats()
	} else {
		snap.Breakers = map[string]circuitbreaker.Stats{}
	}
	return snap
}

// SnapshotCollector exports pipeline snapshots on every scrape. Limiters are
// aggregated per algorithm because their keys are unbounded.
type SnapshotCollector struct {
	pipeline *Pipeline

	breakerState    *prometheus.Desc
	breakerFailures *prometheus.Desc
	limiters        *prometheus.Desc
	limitersAtLimit *prometheus.Desc
	routes          *prometheus.Desc
}

// NewSnapshotCollector creates a collector over p.
func NewSnapshotCollector(p *Pipeline) *SnapshotCollector {
	return &SnapshotCollector{
		pipeline: p,
		breakerState: prometheus.NewDesc(
			"avagate_snapshot_breaker_state",
			"Circuit breaker state per destination (0=closed, 1=open, 2=half-open)",
			[]string{"destination"}, nil,
		),
		breakerFailures: prometheus.NewDesc(
			"avagate_snapshot_breaker_failures",
			"Consecutive failures counted by the breaker per destination",
			[]string{"destination"}, nil,
		),
		limiters: prometheus.NewDesc(
			"avagate_snapshot_limiters",
			"Number of live rate limiters per algorithm",
			[]string{"algorithm"}, nil,
		),
		limitersAtLimit: prometheus.NewDesc(
			"avagate_snapshot_limiters_exhausted",
			"Number of rate limiters with no budget left per algorithm",
			[]string{"algorithm"}, nil,
		),
		routes: prometheus.NewDesc(
			"avagate_snapshot_routes",
			"Number of routes in the active table",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.breakerState
	ch <- c.breakerFailures
	ch <- c.limiters
	ch <- c.limitersAtLimit
	ch <- c.routes
}

// Collect implements prometheus.Collector.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.pipeline.Snapshot()

	for dest, stats := range snap.Breakers {
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, float64(stats.State), dest)
		ch <- prometheus.MustNewConstMetric(c.breakerFailures, prometheus.GaugeValue, float64(stats.Failures), dest)
	}

	counts := map[ratelimit.Algorithm]int{
		ratelimit.AlgorithmTokenBucket:   0,
		ratelimit.AlgorithmSlidingWindow: 0,
	}
	exhausted := map[ratelimit.Algorithm]int{
		ratelimit.AlgorithmTokenBucket:   0,
		ratelimit.AlgorithmSlidingWindow: 0,
	}
	for _, s := range snap.Limiters {
		counts[s.Algorithm]++
		if s.Available == 0 {
			exhausted[s.Algorithm]++
		}
	}
	for algo, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.limiters, prometheus.GaugeValue, float64(n), string(algo))
		ch <- prometheus.MustNewConstMetric(c.limitersAtLimit, prometheus.GaugeValue, float64(exhausted[algo]), string(algo))
	}

	ch <- prometheus.MustNewConstMetric(c.routes, prometheus.GaugeValue, float64(snap.Routes))
}

var _ prometheus.Collector = (*SnapshotCollector)(nil)
