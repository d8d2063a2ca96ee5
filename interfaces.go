package resilientbridge

import "context"

// Adapter defines the interface all adapters must implement.
type Adapter interface {
	// Name identifies the adapter in events, logs and metrics.
	Name() string

	// Request runs one logical call through the cache, interceptors, rate
	// limiter, circuit breaker and retry executor.
	Request(ctx context.Context, req *RequestConfig) (*Response, error)

	// Listen registers a lifecycle event listener.
	Listen(l Listener) (cancel func())

	// CircuitStats reports the breaker snapshot. Adapters without a breaker
	// return a zero value in StateClosed.
	CircuitStats() CircuitStats

	// Close releases subscriptions and background work.
	Close() error
}
