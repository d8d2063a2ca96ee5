package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

func TestCollector_CountsRequestsAndRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	for _, e := range []resilientbridge.Event{
		{Type: resilientbridge.EventRequestRetry, Adapter: "github", Delay: time.Second},
		{Type: resilientbridge.EventRequestRetry, Adapter: "github", Delay: 2 * time.Second},
		{Type: resilientbridge.EventRequestSuccess, Adapter: "github"},
		{Type: resilientbridge.EventRequestError, Adapter: "openai"},
		{Type: resilientbridge.EventCacheHit, Adapter: "github"},
	} {
		c.OnEvent(e)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.retries.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("github", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("openai", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("github")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.retryDelay))
}

func TestCollector_TracksCircuitAndSubscriptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.OnEvent(resilientbridge.Event{Type: resilientbridge.EventCircuitOpen, Adapter: "svc"})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.circuitState.WithLabelValues("svc")))
	c.OnEvent(resilientbridge.Event{Type: resilientbridge.EventCircuitHalfOpen, Adapter: "svc"})
	c.OnEvent(resilientbridge.Event{Type: resilientbridge.EventCircuitClosed, Adapter: "svc"})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.circuitState.WithLabelValues("svc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.circuitChanges.WithLabelValues("svc", "half_open")))

	c.OnEvent(resilientbridge.Event{Type: resilientbridge.EventSubscriptionCreated, Adapter: "gql"})
	c.OnEvent(resilientbridge.Event{Type: resilientbridge.EventSubscriptionCreated, Adapter: "gql"})
	c.OnEvent(resilientbridge.Event{Type: resilientbridge.EventSubscriptionUnsubscribe, Adapter: "gql"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subscriptions.WithLabelValues("gql")))

	expected := `
# HELP resilient_bridge_circuit_breaker_state Breaker state: 0 closed, 1 half-open, 2 open
# TYPE resilient_bridge_circuit_breaker_state gauge
resilient_bridge_circuit_breaker_state{adapter="svc"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "resilient_bridge_circuit_breaker_state"))
}

func TestCollector_StampsAdapterFromEmitter(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	em := resilientbridge.NewEmitter("svc", nil)
	em.Subscribe(c)
	em.Emit(resilientbridge.Event{Type: resilientbridge.EventRateLimitExceeded})
	em.Emit(resilientbridge.Event{Type: resilientbridge.EventDataLoaderCreated})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimited.WithLabelValues("svc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadersCreated.WithLabelValues("svc")))
}
