package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/mock"
)

func nestedQuery(depth int) string {
	var b strings.Builder
	b.WriteString("query ")
	for i := 0; i < depth; i++ {
		b.WriteString("{ f ")
	}
	for i := 0; i < depth; i++ {
		b.WriteString("}")
	}
	return b.String()
}

func newGraphQL(t *testing.T, cfg resilientbridge.Config, opts ...Option) (*GraphQLAdapter, *recorder) {
	t.Helper()
	rec := &recorder{}
	a, err := NewGraphQLAdapter(cfg, append([]Option{WithClock(newFakeClock()), WithListener(rec)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, rec
}

func TestGraphQLAdapter_RejectsDeepQueryBeforeSending(t *testing.T) {
	tr := &mock.Transport{}
	a, rec := newGraphQL(t, testConfig("https://api.example.test"), WithTransport(tr))

	_, err := a.Query(context.Background(), nestedQuery(12), nil)
	var ve *resilientbridge.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "depth", ve.Field)
	assert.Equal(t, 10, ve.Limit)
	assert.Equal(t, 12, ve.Actual)
	assert.Zero(t, tr.Calls())
	assert.Equal(t, []resilientbridge.EventType{resilientbridge.EventRequestError}, rec.types())
	assert.Zero(t, a.RateLimit().InWindow, "rejected documents do not consume rate budget")
}

func TestGraphQLAdapter_QueryAndCache(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{Resolver: func(q string, vars map[string]any) (any, []mock.GraphQLError) {
		return map[string]any{"user": map[string]any{"id": vars["id"], "name": "Ada"}}, nil
	}})
	defer srv.Close()
	a, rec := newGraphQL(t, testConfig(srv.URL))
	ctx := context.Background()
	const q = `query User($id: ID!) { user(id: $id) { id name } }`

	res, err := a.Query(ctx, q, map[string]any{"id": "u1"})
	require.NoError(t, err)
	var out struct {
		User struct{ ID, Name string }
	}
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, "Ada", out.User.Name)

	var sent struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	require.NoError(t, json.Unmarshal(srv.LastBody("POST /graphql"), &sent))
	assert.Equal(t, q, sent.Query)
	assert.Equal(t, "u1", sent.Variables["id"])

	_, err = a.Query(ctx, q, map[string]any{"id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Hits("POST /graphql"))
	assert.Equal(t, 1, rec.count(resilientbridge.EventCacheHit))

	_, err = a.Query(ctx, q, map[string]any{"id": "u2"})
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Hits("POST /graphql"))
}

func TestGraphQLAdapter_MutationsAreNotCachedOrRetried(t *testing.T) {
	tr := &mock.Transport{
		Replies: []mock.Reply{mock.Status(http.StatusServiceUnavailable)},
		Default: mock.OK(`{"data":{"ok":true}}`),
	}
	a, _ := newGraphQL(t, testConfig("https://api.example.test"), WithTransport(tr))
	ctx := context.Background()
	const m = `mutation { touch }`

	_, err := a.Mutate(ctx, m, nil)
	var se *resilientbridge.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, tr.Calls())

	for i := 0; i < 2; i++ {
		_, err = a.Mutate(ctx, m, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, http.MethodPost, tr.Requests()[0].Method)
	assert.Equal(t, "/graphql", tr.Requests()[0].URL)
}

func TestGraphQLAdapter_QueriesAreRetried(t *testing.T) {
	tr := &mock.Transport{
		Replies: []mock.Reply{mock.Fail(errors.New("reset"))},
		Default: mock.OK(`{"data":{"n":1}}`),
	}
	a, rec := newGraphQL(t, testConfig("https://api.example.test"), WithTransport(tr))

	res, err := a.Query(context.Background(), `{ n }`, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(res.Data))
	assert.Equal(t, 2, tr.Calls())
	assert.Equal(t, 1, rec.count(resilientbridge.EventRequestRetry))
}

func TestGraphQLAdapter_ReturnsGraphQLErrors(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{Resolver: func(string, map[string]any) (any, []mock.GraphQLError) {
		return nil, []mock.GraphQLError{{Message: "not authorized"}}
	}})
	defer srv.Close()
	a, _ := newGraphQL(t, testConfig(srv.URL))

	res, err := a.Query(context.Background(), `{ secret }`, nil)
	var gerrs GraphQLErrors
	require.ErrorAs(t, err, &gerrs)
	assert.Equal(t, "graphql: not authorized", gerrs.Error())
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
}

func TestGraphQLAdapter_OperationKindIsEnforced(t *testing.T) {
	tr := &mock.Transport{Default: mock.OK(`{"data":{}}`)}
	a, _ := newGraphQL(t, testConfig("https://api.example.test"), WithTransport(tr))
	ctx := context.Background()

	_, err := a.Mutate(ctx, `query { a }`, nil)
	var ve *resilientbridge.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "operation", ve.Field)

	_, err = a.Request(ctx, &resilientbridge.RequestConfig{URL: `subscription { tick }`})
	require.ErrorAs(t, err, &ve)

	_, err = a.Query(ctx, `{ a(`, nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "query", ve.Field)

	resp, err := a.Request(ctx, &resilientbridge.RequestConfig{URL: `{ a }`})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, tr.Calls())
}

func TestGraphQLAdapter_SubscriptionStreamsUntilComplete(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{Ticks: 3})
	defer srv.Close()
	a, rec := newGraphQL(t, testConfig(srv.URL))

	sub, err := a.Subscribe(context.Background(), `subscription { tick }`, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)

	var ticks []int
	for ev := range sub.Events() {
		var data struct{ Tick int }
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		ticks = append(ticks, data.Tick)
	}
	assert.Equal(t, []int{1, 2, 3}, ticks)
	assert.NoError(t, sub.Err())

	<-sub.Done()
	assert.Zero(t, a.Subscriptions())
	created, ok := rec.last(resilientbridge.EventSubscriptionCreated)
	require.True(t, ok)
	assert.Equal(t, sub.ID, created.SubscriptionID)
	assert.Equal(t, 1, rec.count(resilientbridge.EventSubscriptionUnsubscribe))
}

func TestGraphQLAdapter_UnsubscribeAndClose(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()
	a, rec := newGraphQL(t, testConfig(srv.URL))

	ctx := context.Background()
	first, err := a.Subscribe(ctx, `subscription { tick }`, nil)
	require.NoError(t, err)
	second, err := a.Subscribe(ctx, `subscription { tick }`, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Subscriptions())

	select {
	case _, ok := <-first.Events():
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	first.Unsubscribe()
	first.Unsubscribe()
	for range first.Events() {
	}
	assert.NoError(t, first.Err())
	assert.Equal(t, 1, a.Subscriptions())

	require.NoError(t, a.Close())
	for range second.Events() {
	}
	assert.Zero(t, a.Subscriptions())
	assert.Equal(t, 2, rec.count(resilientbridge.EventSubscriptionUnsubscribe))

	_, err = a.Subscribe(ctx, `subscription { tick }`, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGraphQLAdapter_SubscriptionEndsWithContext(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()
	a, _ := newGraphQL(t, testConfig(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := a.Subscribe(ctx, `subscription { tick }`, nil)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription outlived its context")
	}
}

func TestGraphQLAdapter_SubscribeRejectsQueries(t *testing.T) {
	a, _ := newGraphQL(t, testConfig("https://api.example.test"))
	_, err := a.Subscribe(context.Background(), `query { a }`, nil)
	var ve *resilientbridge.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGraphQLAdapter_WebSocketURL(t *testing.T) {
	a, _ := newGraphQL(t, testConfig("https://api.example.test/v1/"))
	u, err := a.websocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.test/v1/graphql", u)

	cfg := testConfig("")
	cfg.GraphQL.Endpoint = "http://localhost:4000/query"
	b, _ := newGraphQL(t, cfg)
	u, err = b.websocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/query", u)

	cfg = testConfig("")
	cfg.GraphQL.WebSocketURL = "wss://stream.example.test/subs"
	c, _ := newGraphQL(t, cfg)
	u, err = c.websocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.example.test/subs", u)

	d, _ := newGraphQL(t, testConfig(""))
	_, err = d.websocketURL()
	assert.Error(t, err)
}
