// rest_adapter.go
// ---------------
// RESTAdapter sends plain HTTP calls relative to a configured base URL.
//
// Key Points:
// - Only GET responses are cached, keyed on method, path and sorted query.
//   Headers are not part of the key.
// - POST and PATCH are retried only with an Idempotency-Key header unless
//   retry.non_idempotent is set in the config.
// - Batch fans a slice of calls out with bounded concurrency and fails as a
//   whole on the first error.

package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

type RESTAdapter struct {
	*Base
}

var _ resilientbridge.Adapter = (*RESTAdapter)(nil)

// NewRESTAdapter validates cfg and builds an adapter with its own cache, rate
// window and circuit breaker.
func NewRESTAdapter(cfg resilientbridge.Config, opts ...Option) (*RESTAdapter, error) {
	base, err := newBase("rest", cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("rest adapter: %w", err)
	}
	return &RESTAdapter{Base: base}, nil
}

// Request performs one logical call. The returned error is one of the
// resilientbridge error types, possibly wrapped in a *RetryError.
func (a *RESTAdapter) Request(ctx context.Context, req *resilientbridge.RequestConfig) (*resilientbridge.Response, error) {
	if req == nil {
		return nil, errors.New("rest adapter: nil request")
	}
	r := a.prepare(req)
	key := ""
	if a.cache != nil && r.Method == http.MethodGet && r.CacheAllowed() {
		key = restCacheKey(r)
	}
	return a.send(ctx, r, key)
}

func (a *RESTAdapter) Get(ctx context.Context, path string, opts ...RequestOption) (*resilientbridge.Response, error) {
	return a.Request(ctx, build(http.MethodGet, path, nil, opts))
}

func (a *RESTAdapter) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*resilientbridge.Response, error) {
	return a.Request(ctx, build(http.MethodPost, path, body, opts))
}

func (a *RESTAdapter) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*resilientbridge.Response, error) {
	return a.Request(ctx, build(http.MethodPut, path, body, opts))
}

func (a *RESTAdapter) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*resilientbridge.Response, error) {
	return a.Request(ctx, build(http.MethodPatch, path, body, opts))
}

func (a *RESTAdapter) Delete(ctx context.Context, path string, opts ...RequestOption) (*resilientbridge.Response, error) {
	return a.Request(ctx, build(http.MethodDelete, path, nil, opts))
}

// Batch runs reqs concurrently, at most batching.concurrency at a time.
// Responses are returned in request order. The first failure cancels the
// remaining calls and is returned alone.
func (a *RESTAdapter) Batch(ctx context.Context, reqs []*resilientbridge.RequestConfig) ([]*resilientbridge.Response, error) {
	out := make([]*resilientbridge.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if n := a.cfg.Batching.Concurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := a.Request(gctx, req)
			if err != nil {
				return fmt.Errorf("batch request %d: %w", i, err)
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func build(method, path string, body any, opts []RequestOption) *resilientbridge.RequestConfig {
	r := &resilientbridge.RequestConfig{Method: method, URL: path, Body: body}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func restCacheKey(r *resilientbridge.RequestConfig) string {
	q := make(url.Values, len(r.Query))
	for k, v := range r.Query {
		q.Set(k, v)
	}
	// Encode sorts by key.
	return r.Method + " " + r.URL + "?" + q.Encode()
}
