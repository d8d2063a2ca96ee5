// base.go
// -------
// Base holds the state every adapter owns privately: its cache, rate window,
// circuit breaker, retry executor, interceptor pipeline and event emitter.
// RESTAdapter and GraphQLAdapter embed it and differ only in how a logical
// call is turned into an HTTP request.
//
// Request flow for one call:
//   cache lookup -> request interceptors -> executor (rate limiter, breaker,
//   transport, retries) -> response interceptors -> cache store
//
// Identical cacheable calls that are in flight at the same time share one
// upstream round trip.

package adapters

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

const instrumentationName = "github.com/SynergyMesh-master/KeyStonOps-sub004/adapters"

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("adapter is closed")

type Base struct {
	name   string
	cfg    resilientbridge.Config
	logger *slog.Logger
	clock  clock.Clock

	emitter      *resilientbridge.Emitter
	cache        *resilientbridge.Cache
	limiter      *resilientbridge.RateLimiter
	breaker      *resilientbridge.CircuitBreaker
	executor     *resilientbridge.RequestExecutor
	interceptors resilientbridge.Interceptors
	transport    resilientbridge.Transport
	credential   resilientbridge.Credential

	tracer        trace.Tracer
	meterProvider metric.MeterProvider

	inflight singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight
	closed   atomic.Bool

	upstreamMu sync.Mutex
	upstream   UpstreamRateLimit
}

func newBase(kind string, cfg resilientbridge.Config, opts []Option) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	name := cfg.Name
	if name == "" {
		name = kind
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("adapter", name))
	clk := clock.OrReal(o.clock)

	emitter := resilientbridge.NewEmitter(name, logger)
	for _, l := range o.listeners {
		emitter.Subscribe(l)
	}

	b := &Base{
		name:    name,
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		emitter: emitter,
		flights: make(map[string]*flight),
	}
	if cfg.Cache.Enabled {
		b.cache = resilientbridge.NewCache(cfg.Cache.MaxSize, clk, emitter)
	}
	if cfg.RateLimit.Enabled {
		b.limiter = resilientbridge.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, clk, emitter)
	}
	if cfg.CircuitBreaker.Enabled {
		b.breaker = resilientbridge.NewCircuitBreaker(resilientbridge.CircuitBreakerSettings{
			Threshold:     cfg.CircuitBreaker.Threshold,
			FailureWindow: cfg.CircuitBreaker.Timeout,
			ResetTimeout:  cfg.CircuitBreaker.ResetTimeout,
		}, clk, emitter)
	}
	b.executor = resilientbridge.NewRequestExecutor(resilientbridge.RetryPolicy{
		Retries:            cfg.Retry.Retries,
		BaseDelay:          cfg.Retry.BaseDelay,
		MaxDelay:           cfg.Retry.MaxDelay,
		Jitter:             cfg.Retry.Jitter,
		RetryNonIdempotent: cfg.Retry.NonIdempotent,
		Timeout:            cfg.Timeout,
	}, b.limiter, b.breaker, clk, emitter, logger)

	b.credential = o.credential
	if b.credential == nil {
		cred, err := cfg.Auth.Credential()
		if err != nil {
			return nil, err
		}
		b.credential = cred
	}

	b.transport = o.transport
	if b.transport == nil {
		client := o.httpClient
		if client == nil {
			client = &http.Client{}
		}
		b.transport = &resilientbridge.HTTPTransport{
			Client:      client,
			BaseURL:     cfg.BaseURL,
			Credential:  b.credential,
			Serializers: o.serializers,
		}
	}

	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	b.tracer = tp.Tracer(instrumentationName)
	b.meterProvider = o.meterProvider
	if b.meterProvider == nil {
		b.meterProvider = otel.GetMeterProvider()
	}
	return b, nil
}

// Name returns the adapter name used in events and logs.
func (b *Base) Name() string { return b.name }

// Config returns the configuration the adapter was built with.
func (b *Base) Config() resilientbridge.Config { return b.cfg }

// Listen registers a lifecycle event listener.
func (b *Base) Listen(l resilientbridge.Listener) (cancel func()) {
	return b.emitter.Subscribe(l)
}

// Interceptors exposes the pipeline for registration.
func (b *Base) Interceptors() *resilientbridge.Interceptors { return &b.interceptors }

func (b *Base) CircuitStats() resilientbridge.CircuitStats {
	if b.breaker == nil {
		return resilientbridge.CircuitStats{State: resilientbridge.StateClosed}
	}
	return b.breaker.Stats()
}

// ResetCircuit forces the breaker closed.
func (b *Base) ResetCircuit() {
	if b.breaker != nil {
		b.breaker.Reset()
	}
}

func (b *Base) CacheStats() resilientbridge.CacheStats {
	if b.cache == nil {
		return resilientbridge.CacheStats{}
	}
	return b.cache.Stats()
}

// ClearCache drops every cached response.
func (b *Base) ClearCache() {
	if b.cache != nil {
		b.cache.Clear()
	}
}

func (b *Base) RateLimit() resilientbridge.RateLimitSnapshot {
	if b.limiter == nil {
		return resilientbridge.RateLimitSnapshot{}
	}
	return b.limiter.Snapshot()
}

// UpstreamRateLimit returns the quota last advertised by the remote service
// in its response headers.
func (b *Base) UpstreamRateLimit() UpstreamRateLimit {
	b.upstreamMu.Lock()
	defer b.upstreamMu.Unlock()
	return b.upstream
}

// Close rejects further calls. It is safe to call more than once.
func (b *Base) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.logger.Debug("adapter closed")
	}
	return nil
}

// prepare clones req and fills in the adapter defaults so that interceptors
// and transports see the effective headers.
func (b *Base) prepare(req *resilientbridge.RequestConfig) *resilientbridge.RequestConfig {
	r := req.Clone()
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	for k, v := range b.cfg.Headers {
		if r.Header(k) == "" {
			r.SetHeader(k, v)
		}
	}
	return r
}

// send runs req through the full pipeline. An empty cacheKey bypasses the
// cache and request coalescing.
func (b *Base) send(ctx context.Context, req *resilientbridge.RequestConfig, cacheKey string) (*resilientbridge.Response, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := b.tracer.Start(ctx, "bridge.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bridge.adapter", b.name),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL),
			attribute.Bool("bridge.cacheable", cacheKey != ""),
		))
	defer span.End()

	if cacheKey != "" {
		if resp, ok := b.cache.Get(cacheKey); ok {
			span.SetAttributes(attribute.Bool("bridge.cache_hit", true))
			b.emitter.Emit(resilientbridge.Event{Type: resilientbridge.EventCacheHit, Request: req, Response: resp})
			return resp, nil
		}
	}

	var resp *resilientbridge.Response
	var err error
	if cacheKey == "" {
		resp, err = b.roundTrip(ctx, req)
	} else {
		resp, err = b.coalesce(ctx, req, cacheKey)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.fail(req, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	b.observeUpstream(resp)
	b.emitter.Emit(resilientbridge.Event{Type: resilientbridge.EventRequestSuccess, Request: req, Response: resp})
	return resp, nil
}

// flight is the context shared by the callers of one coalesced call. It is
// cancelled once every caller waiting on it has returned.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (b *Base) join(ctx context.Context, key string) *flight {
	b.flightMu.Lock()
	defer b.flightMu.Unlock()
	f, ok := b.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		b.flights[key] = f
	}
	f.waiters++
	return f
}

func (b *Base) leave(key string, f *flight) {
	b.flightMu.Lock()
	defer b.flightMu.Unlock()
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		if b.flights[key] == f {
			delete(b.flights, key)
		}
	}
}

// coalesce shares one round trip between concurrent callers of the same
// cacheable request. Each caller waits on its own ctx; the shared call only
// stops when all of them have gone.
func (b *Base) coalesce(ctx context.Context, req *resilientbridge.RequestConfig, key string) (*resilientbridge.Response, error) {
	type outcome struct {
		resp *resilientbridge.Response
		f    *flight
	}
	for {
		f := b.join(ctx, key)
		ch := b.inflight.DoChan(key, func() (any, error) {
			r, err := b.roundTrip(f.ctx, req)
			if err == nil {
				b.cache.Set(key, r, b.cfg.Cache.TTL)
			}
			return outcome{resp: r, f: f}, err
		})

		select {
		case <-ctx.Done():
			b.leave(key, f)
			return nil, ctx.Err()
		case res := <-ch:
			b.leave(key, f)
			out, _ := res.Val.(outcome)
			if res.Err != nil {
				// Joined a call whose own callers had all gone.
				if out.f != nil && out.f != f && out.f.ctx.Err() != nil && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			r := out.resp
			if res.Shared {
				r = r.Clone()
			}
			return r, nil
		}
	}
}

func (b *Base) roundTrip(ctx context.Context, req *resilientbridge.RequestConfig) (*resilientbridge.Response, error) {
	out, err := b.interceptors.ApplyRequest(ctx, req)
	var resp *resilientbridge.Response
	if err == nil {
		resp, err = b.executor.Execute(ctx, out, b.transport.RoundTrip)
	}
	resp, err = b.interceptors.ApplyResponse(ctx, resp, err)
	if err == nil && resp == nil {
		err = errors.New("response interceptor returned neither response nor error")
	}
	return resp, err
}

func (b *Base) fail(req *resilientbridge.RequestConfig, err error) {
	b.logger.Debug("request failed",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
		slog.String("error", err.Error()))
	b.emitter.Emit(resilientbridge.Event{Type: resilientbridge.EventRequestError, Request: req, Err: err})
}

func (b *Base) observeUpstream(resp *resilientbridge.Response) {
	info, ok := ParseRateLimitHeaders(resp, b.clock.Now())
	if !ok {
		return
	}
	b.upstreamMu.Lock()
	b.upstream = info
	b.upstreamMu.Unlock()
}
