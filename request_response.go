package resilientbridge

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
)

// RequestConfig describes one logical outbound call. Interceptors receive a
// fresh Clone at every stage, so a dispatched config is never mutated in place.
type RequestConfig struct {
	Method string
	// URL is a path relative to the adapter base URL, an absolute URL, or the
	// operation text for GraphQL adapters.
	URL string

	Body        any
	ContentType string
	Headers     map[string]string
	Query       map[string]string
	Variables   map[string]any

	// Timeout bounds each attempt. Zero means the adapter default.
	Timeout time.Duration
	// Retries overrides the adapter retry count when non-nil.
	Retries *int
	// Cache disables response caching for this call when set to false.
	Cache *bool
	// ValidateStatus decides whether a status code counts as success.
	// Nil means 2xx.
	ValidateStatus func(status int) bool
}

// Clone returns a deep copy of the config. Body and Variables values are
// copied shallowly; they are treated as read-only once dispatched.
func (r *RequestConfig) Clone() *RequestConfig {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = cloneStrings(r.Headers)
	c.Query = cloneStrings(r.Query)
	if r.Variables != nil {
		c.Variables = make(map[string]any, len(r.Variables))
		for k, v := range r.Variables {
			c.Variables[k] = v
		}
	}
	if r.Retries != nil {
		n := *r.Retries
		c.Retries = &n
	}
	if r.Cache != nil {
		b := *r.Cache
		c.Cache = &b
	}
	if b, ok := r.Body.([]byte); ok {
		c.Body = append([]byte(nil), b...)
	}
	return &c
}

// Header returns the value of a header using case-insensitive lookup.
func (r *RequestConfig) Header(name string) string {
	return lookupHeader(r.Headers, name)
}

// SetHeader sets a header, replacing any existing value regardless of case.
func (r *RequestConfig) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	for k := range r.Headers {
		if strings.EqualFold(k, name) {
			delete(r.Headers, k)
		}
	}
	r.Headers[http.CanonicalHeaderKey(name)] = value
}

func (r *RequestConfig) statusOK(status int) bool {
	if r.ValidateStatus != nil {
		return r.ValidateStatus(status)
	}
	return status >= 200 && status < 300
}

// CacheAllowed reports whether the call may be served from or stored in a cache.
func (r *RequestConfig) CacheAllowed() bool {
	return r.Cache == nil || *r.Cache
}

// Response is the normalized result of a call. Header keys are lower-case.
type Response struct {
	Data       []byte
	StatusCode int
	Status     string
	Headers    map[string]string
	Request    *RequestConfig
}

// Clone returns a deep copy, so cached responses are never aliased.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = append([]byte(nil), r.Data...)
	c.Headers = cloneStrings(r.Headers)
	c.Request = r.Request.Clone()
	return &c
}

// Header returns the value of a response header using case-insensitive lookup.
func (r *Response) Header(name string) string {
	return lookupHeader(r.Headers, name)
}

// Decode unmarshals the payload into v using the serializer registered for the
// response content type. An absent content type is decoded as JSON.
func (r *Response) Decode(v any) error {
	return r.DecodeWith(DefaultSerializers(), v)
}

// DecodeWith is Decode with an explicit serializer registry.
func (r *Response) DecodeWith(s *Serializers, v any) error {
	ct := r.Header("Content-Type")
	if ct == "" {
		ct = ContentTypeJSON
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	ser, ok := s.Lookup(mt)
	if !ok {
		return fmt.Errorf("decode response: no serializer for %q", mt)
	}
	return ser.Unmarshal(r.Data, v)
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func lookupHeader(h map[string]string, name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Int returns a pointer to n, for RequestConfig.Retries.
func Int(n int) *int { return &n }

// Bool returns a pointer to b, for RequestConfig.Cache.
func Bool(b bool) *bool { return &b }
