package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the counters emitted by the cache, deduplicator,
// executor and sessions.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheStale()
	FlightStarted()
	FlightJoined()
	InFlight(n int)
	Retry(op, kind string)
	DimensionFailed(dimension, kind string)
	StaleDiscarded()
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Nop returns a Recorder that drops everything.
func Nop() Recorder {
	return nopRecorder{}
}

// OrNop returns r, or a no-op recorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop()
	}
	return r
}

type nopRecorder struct{}

func (nopRecorder) CacheHit()                                         {}
func (nopRecorder) CacheMiss()                                        {}
func (nopRecorder) CacheStale()                                       {}
func (nopRecorder) FlightStarted()                                    {}
func (nopRecorder) FlightJoined()                                     {}
func (nopRecorder) InFlight(int)                                      {}
func (nopRecorder) Retry(string, string)                              {}
func (nopRecorder) DimensionFailed(string, string)                    {}
func (nopRecorder) StaleDiscarded()                                   {}
func (nopRecorder) ObserveRequest(string, string, int, time.Duration) {}

// Collector is the prometheus backed Recorder. Each Collector owns its
// registry so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups     *prometheus.CounterVec
	flights          *prometheus.CounterVec
	inFlight         prometheus.Gauge
	retries          *prometheus.CounterVec
	dimensionFailure *prometheus.CounterVec
	staleDiscards    prometheus.Counter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewCollector creates and registers every market trends metric under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result (hit, miss, stale)",
			},
			[]string{"result"},
		),
		flights: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_total",
				Help:      "Upstream fetch flights by outcome (started, joined)",
			},
			[]string{"outcome"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "flights_in_progress",
				Help:      "Number of upstream fetch flights currently running",
			},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_retries_total",
				Help:      "Retried upstream queries by operation and error kind",
			},
			[]string{"op", "kind"},
		),
		dimensionFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dimension_failures_total",
				Help:      "Dimensions that failed after retries",
			},
			[]string{"dimension", "kind"},
		),
		staleDiscards: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_stale_results_total",
				Help:      "Results discarded because the session parameters changed",
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	c.registry.MustRegister(
		c.cacheLookups,
		c.flights,
		c.inFlight,
		c.retries,
		c.dimensionFailure,
		c.staleDiscards,
		c.requests,
		c.requestDuration,
	)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) CacheHit()   { c.cacheLookups.WithLabelValues("hit").Inc() }
func (c *Collector) CacheMiss()  { c.cacheLookups.WithLabelValues("miss").Inc() }
func (c *Collector) CacheStale() { c.cacheLookups.WithLabelValues("stale").Inc() }

func (c *Collector) FlightStarted() { c.flights.WithLabelValues("started").Inc() }
func (c *Collector) FlightJoined()  { c.flights.WithLabelValues("joined").Inc() }

func (c *Collector) InFlight(n int) { c.inFlight.Set(float64(n)) }

func (c *Collector) Retry(op, kind string) {
	c.retries.WithLabelValues(op, kind).Inc()
}

func (c *Collector) DimensionFailed(dimension, kind string) {
	c.dimensionFailure.WithLabelValues(dimension, kind).Inc()
}

func (c *Collector) StaleDiscarded() { c.staleDiscards.Inc() }

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	c.requests.WithLabelValues(method, route, code).Inc()
	c.requestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}
