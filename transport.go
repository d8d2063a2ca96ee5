package resilientbridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Transport performs exactly one outbound attempt. It reports network
// failures as *TransportError and returns every HTTP status as a Response;
// status validation is the executor's job.
type Transport interface {
	RoundTrip(ctx context.Context, req *RequestConfig) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *RequestConfig) (*Response, error)

func (f TransportFunc) RoundTrip(ctx context.Context, req *RequestConfig) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport sends requests with net/http.
type HTTPTransport struct {
	Client      *http.Client
	BaseURL     string
	Headers     map[string]string
	Credential  Credential
	Serializers *Serializers

	// MaxBodyBytes caps how much of a response body is read. Zero means 32 MiB.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 32 << 20

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *RequestConfig) (*Response, error) {
	fullURL, err := t.resolve(req)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string, len(t.Headers)+len(req.Headers)+2)
	setHeader := func(k, v string) {
		for existing := range headers {
			if strings.EqualFold(existing, k) {
				delete(headers, existing)
			}
		}
		headers[k] = v
	}
	for k, v := range t.Headers {
		setHeader(k, v)
	}
	for k, v := range req.Headers {
		setHeader(k, v)
	}

	var body io.Reader
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = lookupHeader(headers, "Content-Type")
		}
		if contentType == "" {
			contentType = ContentTypeJSON
		}
		serializers := t.Serializers
		if serializers == nil {
			serializers = DefaultSerializers()
		}
		payload, err := serializers.Encode(contentType, req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		setHeader("Content-Type", contentType)
		body = bytes.NewReader(payload)
	}

	if t.Credential != nil {
		name, value, err := t.Credential.AuthHeader(ctx)
		if err != nil {
			return nil, &TransportError{Method: method, URL: fullURL, Err: fmt.Errorf("credential: %w", err)}
		}
		if name != "" && lookupHeader(headers, name) == "" {
			setHeader(name, value)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	limit := t.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &TransportError{Method: method, URL: fullURL, Err: fmt.Errorf("read body: %w", err)}
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			respHeaders[strings.ToLower(k)] = vals[0]
		}
	}

	return &Response{
		Data:       data,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    respHeaders,
		Request:    req,
	}, nil
}

// resolve joins the request URL onto BaseURL and appends query parameters.
func (t *HTTPTransport) resolve(req *RequestConfig) (string, error) {
	raw := req.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		base := strings.TrimRight(t.BaseURL, "/")
		if raw != "" {
			raw = base + "/" + strings.TrimLeft(raw, "/")
		} else {
			raw = base
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request url %q: %w", raw, err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
