// Package metrics exports adapter lifecycle events as Prometheus series.
//
// A Collector is an event listener: register it on a ResilientBridge (or on a
// single adapter) and it turns every emitted event into counter, gauge and
// histogram updates labelled by adapter name.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

const namespace = "resilient_bridge"

// Circuit state gauge values.
const (
	circuitClosed   = 0
	circuitHalfOpen = 1
	circuitOpen     = 2
)

type Collector struct {
	requests       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	retryDelay     *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	cacheClears    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec
	circuitChanges *prometheus.CounterVec
	subscriptions  *prometheus.GaugeVec
	loadersCreated *prometheus.CounterVec
}

var _ resilientbridge.Listener = (*Collector)(nil)

// NewCollector registers the bridge series on reg. A nil reg uses the default
// Prometheus registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Logical requests completed, by adapter and outcome",
		}, []string{"adapter", "outcome"}),

		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts that were retried after a remote failure",
		}, []string{"adapter"}),

		retryDelay: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff applied before a retry",
			Buckets:   prometheus.ExponentialBuckets(0.125, 2, 10), // 125ms to ~64s
		}, []string{"adapter"}),

		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Requests served from the response cache",
		}, []string{"adapter"}),

		cacheClears: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "clears_total",
			Help:      "Times the response cache was cleared",
		}, []string{"adapter"}),

		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rate_limiter",
			Name:      "waits_total",
			Help:      "Attempts delayed because the rate window was full",
		}, []string{"adapter"}),

		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"adapter"}),

		circuitChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Breaker state transitions, by target state",
		}, []string{"adapter", "state"}),

		subscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "subscriptions_active",
			Help:      "Open GraphQL subscriptions",
		}, []string{"adapter"}),

		loadersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataloader",
			Name:      "created_total",
			Help:      "Batching loaders created",
		}, []string{"adapter"}),
	}
}

// OnEvent implements resilientbridge.Listener.
func (c *Collector) OnEvent(e resilientbridge.Event) {
	a := e.Adapter
	switch e.Type {
	case resilientbridge.EventRequestSuccess:
		c.requests.WithLabelValues(a, "success").Inc()
	case resilientbridge.EventRequestError:
		c.requests.WithLabelValues(a, "error").Inc()
	case resilientbridge.EventRequestRetry:
		c.retries.WithLabelValues(a).Inc()
		c.retryDelay.WithLabelValues(a).Observe(e.Delay.Seconds())
	case resilientbridge.EventCacheHit:
		c.cacheHits.WithLabelValues(a).Inc()
	case resilientbridge.EventCacheCleared:
		c.cacheClears.WithLabelValues(a).Inc()
	case resilientbridge.EventRateLimitExceeded:
		c.rateLimited.WithLabelValues(a).Inc()
	case resilientbridge.EventCircuitOpen:
		c.circuit(a, circuitOpen, "open")
	case resilientbridge.EventCircuitHalfOpen:
		c.circuit(a, circuitHalfOpen, "half_open")
	case resilientbridge.EventCircuitClosed:
		c.circuit(a, circuitClosed, "closed")
	case resilientbridge.EventSubscriptionCreated:
		c.subscriptions.WithLabelValues(a).Inc()
	case resilientbridge.EventSubscriptionUnsubscribe:
		c.subscriptions.WithLabelValues(a).Dec()
	case resilientbridge.EventDataLoaderCreated:
		c.loadersCreated.WithLabelValues(a).Inc()
	}
}

func (c *Collector) circuit(adapter string, value float64, state string) {
	c.circuitState.WithLabelValues(adapter).Set(value)
	c.circuitChanges.WithLabelValues(adapter, state).Inc()
}
