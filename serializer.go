package resilientbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeText = "text/plain"
	ContentTypeRaw  = "application/octet-stream"
)

// Serializer encodes request bodies and decodes response payloads for one
// content type.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Serializers maps declared media types to serializers. Selection is always by
// the content type the caller declared (or JSON when a body has none); the
// body value is never sniffed to pick an encoding.
type Serializers struct {
	mu     sync.RWMutex
	byType map[string]Serializer
}

// NewSerializers returns a registry with JSON, form, text and raw byte
// serializers installed.
func NewSerializers() *Serializers {
	s := &Serializers{byType: make(map[string]Serializer)}
	s.Register(ContentTypeJSON, jsonSerializer{})
	s.Register(ContentTypeForm, formSerializer{})
	s.Register(ContentTypeText, textSerializer{})
	s.Register(ContentTypeRaw, textSerializer{})
	return s
}

var (
	defaultSerializers     *Serializers
	defaultSerializersOnce sync.Once
)

// DefaultSerializers returns the shared registry used when none is configured.
func DefaultSerializers() *Serializers {
	defaultSerializersOnce.Do(func() {
		defaultSerializers = NewSerializers()
	})
	return defaultSerializers
}

// Register installs ser for mediaType, replacing any previous entry.
func (s *Serializers) Register(mediaType string, ser Serializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byType[strings.ToLower(mediaType)] = ser
}

// Lookup finds the serializer for mediaType. Any "+json" suffix type falls back
// to JSON.
func (s *Serializers) Lookup(mediaType string) (Serializer, bool) {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.byType[mediaType]; ok {
		return ser, true
	}
	if strings.HasSuffix(mediaType, "+json") {
		ser, ok := s.byType[ContentTypeJSON]
		return ser, ok
	}
	return nil, false
}

// Encode turns body into bytes for contentType. io.Reader and []byte bodies
// are sent as-is regardless of content type.
func (s *Serializers) Encode(contentType string, body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case io.Reader:
		return io.ReadAll(b)
	}

	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	ser, ok := s.Lookup(mediaType)
	if !ok {
		return nil, fmt.Errorf("no serializer registered for content type %q", contentType)
	}
	return ser.Marshal(body)
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonSerializer) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

type formSerializer struct{}

func (formSerializer) Marshal(v any) ([]byte, error) {
	switch f := v.(type) {
	case url.Values:
		return []byte(f.Encode()), nil
	case map[string]string:
		vals := url.Values{}
		for k, val := range f {
			vals.Set(k, val)
		}
		return []byte(vals.Encode()), nil
	case string:
		return []byte(f), nil
	default:
		return nil, fmt.Errorf("form body must be url.Values, map[string]string or string, got %T", v)
	}
}

func (formSerializer) Unmarshal(data []byte, v any) error {
	vals, err := url.ParseQuery(string(data))
	if err != nil {
		return err
	}
	switch out := v.(type) {
	case *url.Values:
		*out = vals
	case *map[string]string:
		m := make(map[string]string, len(vals))
		for k := range vals {
			m[k] = vals.Get(k)
		}
		*out = m
	default:
		return fmt.Errorf("form payload decodes into *url.Values or *map[string]string, got %T", v)
	}
	return nil
}

type textSerializer struct{}

func (textSerializer) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("text body must be a string, got %T", v)
	}
}

func (textSerializer) Unmarshal(data []byte, v any) error {
	switch out := v.(type) {
	case *string:
		*out = string(data)
	case *[]byte:
		*out = append([]byte(nil), data...)
	default:
		return fmt.Errorf("text payload decodes into *string or *[]byte, got %T", v)
	}
	return nil
}
