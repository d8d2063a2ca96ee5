// graphql_adapter.go
// ------------------
// GraphQLAdapter posts queries and mutations to a single endpoint and runs
// subscriptions over the graphql-transport-ws protocol.
//
// Key Points:
// - Every document is shape-checked (depth, complexity, aliases) before it
//   reaches the rate limiter or the network.
// - Queries are cached, keyed on the document text and its variables.
//   Mutations are never cached.
// - Queries are always retried with the configured count. Mutations follow the
//   non-idempotent rules of the executor.
// - A 200 response carrying an "errors" array is returned together with a
//   GraphQLErrors error.

package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/queryshape"
)

const (
	opQuery        = "query"
	opMutation     = "mutation"
	opSubscription = "subscription"
)

type GraphQLAdapter struct {
	*Base

	endpoint string
	limits   queryshape.Limits
	dialer   *websocket.Dialer

	mu   sync.Mutex
	subs map[string]*Subscription
}

var _ resilientbridge.Adapter = (*GraphQLAdapter)(nil)

func NewGraphQLAdapter(cfg resilientbridge.Config, opts ...Option) (*GraphQLAdapter, error) {
	base, err := newBase("graphql", cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("graphql adapter: %w", err)
	}
	endpoint := cfg.GraphQL.Endpoint
	if endpoint == "" {
		endpoint = "/graphql"
	}
	return &GraphQLAdapter{
		Base:     base,
		endpoint: endpoint,
		limits: queryshape.Limits{
			MaxDepth:      cfg.GraphQL.MaxDepth,
			MaxComplexity: cfg.GraphQL.MaxComplexity,
			MaxAliases:    cfg.GraphQL.MaxAliases,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Timeout,
			Subprotocols:     []string{wsSubprotocol},
		},
		subs: make(map[string]*Subscription),
	}, nil
}

// GraphQLError is one entry of a response "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLErrors is returned when the server answered with errors.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ge := range e {
		msgs[i] = ge.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// GraphQLResult is a decoded GraphQL response.
type GraphQLResult struct {
	Data       json.RawMessage `json:"data"`
	Errors     GraphQLErrors   `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`

	Response *resilientbridge.Response `json:"-"`
}

// Decode unmarshals the data member into v.
func (r *GraphQLResult) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("graphql: response has no data")
	}
	return json.Unmarshal(r.Data, v)
}

type graphqlPayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Request treats req.URL as the operation text and req.Variables as its
// variables. Subscriptions are rejected; use Subscribe.
func (a *GraphQLAdapter) Request(ctx context.Context, req *resilientbridge.RequestConfig) (*resilientbridge.Response, error) {
	if req == nil {
		return nil, errors.New("graphql adapter: nil request")
	}
	return a.do(ctx, req, "")
}

// Query runs a query operation and decodes the envelope.
func (a *GraphQLAdapter) Query(ctx context.Context, query string, vars map[string]any, opts ...RequestOption) (*GraphQLResult, error) {
	return a.execute(ctx, opQuery, query, vars, opts)
}

// Mutate runs a mutation operation and decodes the envelope.
func (a *GraphQLAdapter) Mutate(ctx context.Context, mutation string, vars map[string]any, opts ...RequestOption) (*GraphQLResult, error) {
	return a.execute(ctx, opMutation, mutation, vars, opts)
}

func (a *GraphQLAdapter) execute(ctx context.Context, kind, doc string, vars map[string]any, opts []RequestOption) (*GraphQLResult, error) {
	req := build(http.MethodPost, doc, nil, opts)
	req.Variables = vars
	resp, err := a.do(ctx, req, kind)
	if err != nil {
		return nil, err
	}
	result := &GraphQLResult{Response: resp}
	if err := resp.Decode(result); err != nil {
		return nil, fmt.Errorf("graphql: decode response: %w", err)
	}
	if len(result.Errors) > 0 {
		return result, result.Errors
	}
	return result, nil
}

// do validates the document, checks its kind against want (empty accepts
// queries and mutations) and sends it.
func (a *GraphQLAdapter) do(ctx context.Context, req *resilientbridge.RequestConfig, want string) (*resilientbridge.Response, error) {
	doc := req.URL
	shape, err := a.checkDocument(doc, want)
	if err != nil {
		a.fail(req, err)
		return nil, err
	}

	r := a.prepare(req)
	r.Method = http.MethodPost
	r.URL = a.endpoint
	r.ContentType = resilientbridge.ContentTypeJSON
	r.Body = graphqlPayload{Query: doc, Variables: req.Variables}

	key := ""
	if shape.Operation == opQuery {
		if r.Retries == nil {
			r.Retries = resilientbridge.Int(a.cfg.Retry.Retries)
		}
		if a.cache != nil && r.CacheAllowed() {
			key = graphqlCacheKey(doc, req.Variables)
		}
	}
	return a.send(ctx, r, key)
}

func (a *GraphQLAdapter) checkDocument(doc, want string) (queryshape.Shape, error) {
	shape, err := queryshape.Validate(doc, a.limits)
	if err != nil {
		return shape, err
	}
	switch {
	case want != "" && shape.Operation != want:
		return shape, &resilientbridge.ValidationError{
			Field:  "operation",
			Reason: fmt.Sprintf("expected a %s, got a %s", want, shape.Operation),
		}
	case want == "" && shape.Operation == opSubscription:
		return shape, &resilientbridge.ValidationError{
			Field:  "operation",
			Reason: "subscriptions must be started with Subscribe",
		}
	}
	return shape, nil
}

// Close ends every open subscription and rejects further calls.
func (a *GraphQLAdapter) Close() error {
	a.mu.Lock()
	subs := make([]*Subscription, 0, len(a.subs))
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return a.Base.Close()
}

// Subscriptions returns the number of open subscriptions.
func (a *GraphQLAdapter) Subscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

func graphqlCacheKey(doc string, vars map[string]any) string {
	if len(vars) == 0 {
		return "graphql " + doc
	}
	// encoding/json sorts map keys, so equal variables give equal keys.
	b, err := json.Marshal(vars)
	if err != nil {
		return ""
	}
	return "graphql " + doc + " " + string(b)
}
