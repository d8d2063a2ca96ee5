// Package mock provides test doubles for adapters: a scripted Transport that
// never touches the network and a gin Server that behaves like a small REST
// and GraphQL upstream.
package mock

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

// defaultWindowSecs is advertised in x-ratelimit-reset when WindowSecs is unset.
const defaultWindowSecs = 60

// Reply is one scripted transport outcome. A non-nil Err is returned as a
// *resilientbridge.TransportError.
type Reply struct {
	Status  int
	Body    string
	Headers map[string]string
	Err     error
	// Delay blocks the attempt, honoring its context.
	Delay time.Duration
}

// OK returns a 200 JSON reply.
func OK(body string) Reply { return Reply{Status: http.StatusOK, Body: body} }

// Status returns an empty reply with the given code.
func Status(code int) Reply { return Reply{Status: code} }

// Fail returns a network-level failure.
func Fail(err error) Reply { return Reply{Err: err} }

// Transport answers attempts from Replies in order, then with Default.
//
// RequestsUntilRateLimit and ShouldReturn429Always emulate a throttling
// upstream: once the threshold is crossed every attempt gets a 429 carrying
// RetryAfter when set. A positive MaxRequests makes responses advertise
// x-ratelimit-* headers; the quota resets after WindowSecs, or a minute when
// that is zero.
type Transport struct {
	Replies []Reply
	Default Reply

	RequestsUntilRateLimit int
	ShouldReturn429Always  bool
	RetryAfter             string

	MaxRequests int
	WindowSecs  int64

	mu       sync.Mutex
	requests []*resilientbridge.RequestConfig
}

func (m *Transport) RoundTrip(ctx context.Context, req *resilientbridge.RequestConfig) (*resilientbridge.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req.Clone())
	count := len(m.requests)
	reply := m.Default
	if count <= len(m.Replies) {
		reply = m.Replies[count-1]
	}
	throttled := m.ShouldReturn429Always || (m.RequestsUntilRateLimit > 0 && count > m.RequestsUntilRateLimit)
	m.mu.Unlock()

	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &resilientbridge.TransportError{Method: req.Method, URL: req.URL, Err: ctx.Err()}
		case <-t.C:
		}
	}

	headers := m.rateLimitHeaders(count)
	if throttled {
		if m.RetryAfter != "" {
			headers["retry-after"] = m.RetryAfter
		}
		return &resilientbridge.Response{
			StatusCode: http.StatusTooManyRequests,
			Headers:    headers,
			Data:       []byte(`{"error":"Rate limited"}`),
			Request:    req,
		}, nil
	}
	if reply.Err != nil {
		return nil, &resilientbridge.TransportError{Method: req.Method, URL: req.URL, Err: reply.Err}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	body := reply.Body
	if body == "" && status < 300 {
		body = `{"success":true}`
	}
	for k, v := range reply.Headers {
		headers[k] = v
	}
	if _, ok := headers["content-type"]; !ok {
		headers["content-type"] = resilientbridge.ContentTypeJSON
	}
	return &resilientbridge.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Headers:    headers,
		Data:       []byte(body),
		Request:    req,
	}, nil
}

func (m *Transport) rateLimitHeaders(count int) map[string]string {
	h := make(map[string]string)
	if m.MaxRequests <= 0 {
		return h
	}
	remaining := max(m.MaxRequests-count, 0)
	h["x-ratelimit-limit"] = strconv.Itoa(m.MaxRequests)
	h["x-ratelimit-remaining"] = strconv.Itoa(remaining)
	if remaining == 0 {
		window := m.WindowSecs
		if window <= 0 {
			window = defaultWindowSecs
		}
		h["x-ratelimit-reset"] = strconv.FormatInt(window, 10)
	}
	return h
}

// Calls returns the number of attempts received.
func (m *Transport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every attempt received, in order.
func (m *Transport) Requests() []*resilientbridge.RequestConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*resilientbridge.RequestConfig(nil), m.requests...)
}
