package adapters

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

// Option configures an adapter at construction.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	clock          clock.Clock
	transport      resilientbridge.Transport
	httpClient     *http.Client
	credential     resilientbridge.Credential
	serializers    *resilientbridge.Serializers
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	listeners      []resilientbridge.Listener
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTransport replaces the HTTP transport entirely.
func WithTransport(t resilientbridge.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithHTTPClient sets the client used by the default HTTP transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithCredential overrides the credential built from the auth config section.
func WithCredential(c resilientbridge.Credential) Option {
	return func(o *options) { o.credential = c }
}

// WithSerializers sets the body serializer registry.
func WithSerializers(s *resilientbridge.Serializers) Option {
	return func(o *options) { o.serializers = s }
}

// WithTracerProvider records request spans through tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider is passed on to loaders created by NewLoader.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithListener subscribes l before the adapter emits anything.
func WithListener(l resilientbridge.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// RequestOption adjusts a single call.
type RequestOption func(*resilientbridge.RequestConfig)

// WithHeader sets one request header.
func WithHeader(name, value string) RequestOption {
	return func(r *resilientbridge.RequestConfig) { r.SetHeader(name, value) }
}

// WithQuery sets one query parameter.
func WithQuery(name, value string) RequestOption {
	return func(r *resilientbridge.RequestConfig) {
		if r.Query == nil {
			r.Query = make(map[string]string)
		}
		r.Query[name] = value
	}
}

func WithTimeout(d time.Duration) RequestOption {
	return func(r *resilientbridge.RequestConfig) { r.Timeout = d }
}

// WithRetries overrides the adapter retry count for this call.
func WithRetries(n int) RequestOption {
	return func(r *resilientbridge.RequestConfig) { r.Retries = resilientbridge.Int(n) }
}

// WithoutCache bypasses the response cache for this call.
func WithoutCache() RequestOption {
	return func(r *resilientbridge.RequestConfig) { r.Cache = resilientbridge.Bool(false) }
}

func WithContentType(ct string) RequestOption {
	return func(r *resilientbridge.RequestConfig) { r.ContentType = ct }
}

// WithValidateStatus replaces the 2xx success predicate.
func WithValidateStatus(fn func(int) bool) RequestOption {
	return func(r *resilientbridge.RequestConfig) { r.ValidateStatus = fn }
}

// WithIdempotencyKey marks a POST or PATCH as safe to retry.
func WithIdempotencyKey(key string) RequestOption {
	return WithHeader(resilientbridge.IdempotencyKeyHeader, key)
}
