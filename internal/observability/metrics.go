// Package observability bundles the Prometheus metrics for the ledger,
// route engine, broadcaster, and trigger queue, and exposes a /metrics
// handler. All recording methods are nil-safe so components can run
// without a collector in tests.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the service's Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	DeltasApplied      prometheus.Counter
	RouteDurations     prometheus.Histogram
	RouteCacheResults  *prometheus.CounterVec
	BroadcastDurations prometheus.Histogram
	BroadcastDropped   prometheus.Counter
	JobsEnqueued       *prometheus.CounterVec
	JobsFailed         prometheus.Counter
	ContestedCount     prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		DeltasApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontline_deltas_applied_total",
			Help: "Total influence deltas committed to the ledger.",
		}),
		RouteDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "frontline_route_duration_seconds",
			Help: "Route computation latency in seconds.",
			// Buckets bracket the 16.67ms frame budget and the 100ms cutoff.
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.01667, 0.025, 0.05, 0.1, 0.25},
		}),
		RouteCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontline_route_cache_total",
			Help: "Route cache lookups by result (hit, miss, stale).",
		}, []string{"result"}),
		BroadcastDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontline_broadcast_publish_seconds",
			Help:    "Broadcast publish latency in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontline_broadcast_dropped_total",
			Help: "Messages dropped because a subscriber's buffer was full.",
		}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontline_jobs_enqueued_total",
			Help: "Procedural jobs enqueued, by priority tier.",
		}, []string{"tier"}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontline_jobs_failed_total",
			Help: "Procedural jobs that exhausted retries.",
		}),
		ContestedCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontline_contested_territories",
			Help: "Current number of contested territories.",
		}),
	}

	collectors := []prometheus.Collector{
		c.DeltasApplied, c.RouteDurations, c.RouteCacheResults,
		c.BroadcastDurations, c.BroadcastDropped,
		c.JobsEnqueued, c.JobsFailed, c.ContestedCount,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, err
		}
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveDelta records one committed ledger write.
func (c *Collector) ObserveDelta() {
	if c != nil {
		c.DeltasApplied.Inc()
	}
}

// ObserveRoute records one route computation's duration.
func (c *Collector) ObserveRoute(d time.Duration) {
	if c != nil {
		c.RouteDurations.Observe(d.Seconds())
	}
}

// ObserveRouteCache records a cache lookup result: "hit", "miss", "stale".
func (c *Collector) ObserveRouteCache(result string) {
	if c != nil {
		c.RouteCacheResults.WithLabelValues(result).Inc()
	}
}

// ObserveBroadcast records one publish fan-out's duration.
func (c *Collector) ObserveBroadcast(d time.Duration) {
	if c != nil {
		c.BroadcastDurations.Observe(d.Seconds())
	}
}

// ObserveBroadcastDrop records a message dropped to a slow subscriber.
func (c *Collector) ObserveBroadcastDrop() {
	if c != nil {
		c.BroadcastDropped.Inc()
	}
}

// ObserveJobEnqueued records one enqueued job by tier ("high", "standard").
func (c *Collector) ObserveJobEnqueued(tier string) {
	if c != nil {
		c.JobsEnqueued.WithLabelValues(tier).Inc()
	}
}

// ObserveJobFailed records a job reaching terminal failure.
func (c *Collector) ObserveJobFailed() {
	if c != nil {
		c.JobsFailed.Inc()
	}
}

// SetContested updates the contested-territory gauge.
func (c *Collector) SetContested(n int) {
	if c != nil {
		c.ContestedCount.Set(float64(n))
	}
}
