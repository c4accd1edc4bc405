package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for the cache node.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	CircuitBreakerState *prometheus.GaugeVec
	RateLimitedTotal    prometheus.Counter

	RefreshesTotal      *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	CoalescedWaitsTotal prometheus.Counter
	WaiterQueueDepth    prometheus.Gauge

	GossipSendsTotal *prometheus.CounterVec
	RegisterAgeSeconds prometheus.Gauge
}

// New creates and registers a new Metrics instance using a dedicated
// registry rather than the global default, so multiple instances in tests
// don't collide on metric registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubestatus_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "path", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tubestatus_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tubestatus_circuit_breaker_state",
			Help: "Upstream gateway circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"upstream"}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubestatus_rate_limited_total",
			Help: "Total number of rate-limited requests.",
		}),

		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubestatus_refreshes_total",
			Help: "Total number of completed upstream refresh attempts, by outcome.",
		}, []string{"outcome"}),

		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tubestatus_refresh_duration_seconds",
			Help:    "Duration of a complete upstream refresh (gateway round trip).",
			Buckets: prometheus.DefBuckets,
		}),

		CoalescedWaitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubestatus_coalesced_waits_total",
			Help: "Total number of reads that attached to an already-in-flight refresh instead of starting a new one.",
		}),

		WaiterQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tubestatus_waiter_queue_depth",
			Help: "Current number of reads queued behind an in-flight refresh.",
		}),

		GossipSendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubestatus_gossip_sends_total",
			Help: "Total number of gossip sends to peers, by outcome.",
		}, []string{"outcome"}),

		RegisterAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tubestatus_register_age_seconds",
			Help: "Age of the locally-converged register value in seconds.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CircuitBreakerState,
		m.RateLimitedTotal,
		m.RefreshesTotal,
		m.RefreshDuration,
		m.CoalescedWaitsTotal,
		m.WaiterQueueDepth,
		m.GossipSendsTotal,
		m.RegisterAgeSeconds,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
// using the metrics instance's dedicated registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
