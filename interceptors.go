package resilientbridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// RequestInterceptor transforms an outgoing request. Returning an error
// rejects the call before it is sent.
type RequestInterceptor func(ctx context.Context, req *RequestConfig) (*RequestConfig, error)

// ResponseInterceptor observes or transforms the outcome of a call. While the
// chain carries a response OnResponse runs and may turn it into an error;
// while it carries an error OnError runs and may recover it into a response.
// Nil hooks pass the value through, and so does a hook that returns neither
// a response nor an error.
type ResponseInterceptor struct {
	OnResponse func(ctx context.Context, resp *Response) (*Response, error)
	OnError    func(ctx context.Context, err error) (*Response, error)
}

// Interceptors holds the two ordered chains. Both run in registration order:
// responses are not unwound in reverse the way onion middleware would.
type Interceptors struct {
	mu       sync.RWMutex
	request  []RequestInterceptor
	response []ResponseInterceptor
}

// UseRequest appends a request stage.
func (p *Interceptors) UseRequest(i RequestInterceptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.request = append(p.request, i)
}

// UseResponse appends a response stage.
func (p *Interceptors) UseResponse(i ResponseInterceptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = append(p.response, i)
}

// ApplyRequest runs the request chain. Every stage receives its own clone, so
// a stage can never observe a later stage's writes.
func (p *Interceptors) ApplyRequest(ctx context.Context, req *RequestConfig) (*RequestConfig, error) {
	p.mu.RLock()
	chain := p.request
	p.mu.RUnlock()

	cur := req.Clone()
	for _, stage := range chain {
		next, err := stage(ctx, cur.Clone())
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}

// ApplyResponse runs the response chain over the outcome (resp, err).
func (p *Interceptors) ApplyResponse(ctx context.Context, resp *Response, err error) (*Response, error) {
	p.mu.RLock()
	chain := p.response
	p.mu.RUnlock()

	for _, stage := range chain {
		if err != nil {
			if stage.OnError != nil {
				if r, e := stage.OnError(ctx, err); r != nil || e != nil {
					resp, err = r, e
				}
			}
			continue
		}
		if stage.OnResponse != nil {
			if r, e := stage.OnResponse(ctx, resp); r != nil || e != nil {
				resp, err = r, e
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// RequestIDHeader is set by RequestIDInterceptor.
const RequestIDHeader = "X-Request-ID"

// RequestIDInterceptor tags each request with a random id unless the caller
// already supplied one.
func RequestIDInterceptor() RequestInterceptor {
	return func(_ context.Context, req *RequestConfig) (*RequestConfig, error) {
		if req.Header(RequestIDHeader) == "" {
			req.SetHeader(RequestIDHeader, uuid.NewString())
		}
		return req, nil
	}
}

// HeaderInterceptor sets static headers, overriding existing values.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(_ context.Context, req *RequestConfig) (*RequestConfig, error) {
		for k, v := range headers {
			req.SetHeader(k, v)
		}
		return req, nil
	}
}

// LoggingInterceptors returns a matched pair that logs each call and its
// outcome.
func LoggingInterceptors(logger *slog.Logger) (RequestInterceptor, ResponseInterceptor) {
	if logger == nil {
		logger = slog.Default()
	}
	reqStage := func(ctx context.Context, req *RequestConfig) (*RequestConfig, error) {
		logger.Debug("outbound request",
			slog.String("method", req.Method),
			slog.String("url", req.URL),
			slog.String("request_id", req.Header(RequestIDHeader)),
		)
		return req, nil
	}
	respStage := ResponseInterceptor{
		OnResponse: func(ctx context.Context, resp *Response) (*Response, error) {
			attrs := []any{slog.Int("status", resp.StatusCode)}
			if resp.Request != nil {
				attrs = append(attrs,
					slog.String("url", resp.Request.URL),
					slog.String("request_id", resp.Request.Header(RequestIDHeader)),
				)
			}
			logger.Debug("outbound response", attrs...)
			return resp, nil
		},
		OnError: func(ctx context.Context, err error) (*Response, error) {
			logger.Warn("outbound request failed", slog.String("error", err.Error()))
			return nil, err
		},
	}
	return reqStage, respStage
}
