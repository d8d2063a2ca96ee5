package mock

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// GraphQLError mirrors one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string `json:"message"`
}

// Resolver answers a GraphQL document. Returning errors produces a 200
// response with an "errors" member.
type Resolver func(query string, vars map[string]any) (data any, errs []GraphQLError)

// ServerConfig tunes the upstream behavior.
type ServerConfig struct {
	// FailFirst makes the first N calls to /flaky answer 503.
	FailFirst int
	// RetryAfter is sent with the 429 from /limited.
	RetryAfter string
	// Resolver answers POST /graphql. Nil echoes the query text.
	Resolver Resolver
	// Ticks is the number of "next" messages per subscription before
	// "complete". Zero streams until the client unsubscribes.
	Ticks int
	// TickInterval spaces "next" messages (default 5ms).
	TickInterval time.Duration
}

// Server is an httptest server fronting a gin engine:
//
//	GET    /items/:id   {"id": ..., "name": "item-<id>"}
//	POST   /items       echoes the JSON body with 201
//	DELETE /items/:id   204
//	GET    /flaky       503 for the first FailFirst calls, then 200
//	GET    /limited     always 429
//	GET    /headers     echoes request headers
//	POST   /graphql     GraphQL over HTTP
//	GET    /graphql     graphql-transport-ws subscriptions
type Server struct {
	*httptest.Server

	cfg ServerConfig

	mu       sync.Mutex
	hits     map[string]int
	lastBody map[string]json.RawMessage
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{"graphql-transport-ws"},
}

// NewServer starts a server. Call Close when done.
func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.TestMode)
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Millisecond
	}
	s := &Server{
		cfg:      cfg,
		hits:     make(map[string]int),
		lastBody: make(map[string]json.RawMessage),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.count)
	r.GET("/items/:id", s.getItem)
	r.POST("/items", s.createItem)
	r.DELETE("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/flaky", s.flaky)
	r.GET("/limited", s.limited)
	r.GET("/headers", s.echoHeaders)
	r.POST("/graphql", s.graphql)
	r.GET("/graphql", s.subscriptions)

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) count(c *gin.Context) {
	s.mu.Lock()
	s.hits[c.Request.Method+" "+c.FullPath()]++
	s.mu.Unlock()
	c.Next()
}

// Hits returns how many requests reached a route, e.g. Hits("GET /items/:id").
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// LastBody returns the last JSON body posted to route.
func (s *Server) LastBody(route string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBody[route]
}

func (s *Server) getItem(c *gin.Context) {
	c.Header("X-RateLimit-Limit", "5000")
	c.Header("X-RateLimit-Remaining", "4999")
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "name": "item-" + c.Param("id")})
}

func (s *Server) createItem(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, _ := json.Marshal(body)
	s.mu.Lock()
	s.lastBody["POST /items"] = raw
	s.mu.Unlock()
	c.JSON(http.StatusCreated, body)
}

func (s *Server) flaky(c *gin.Context) {
	if s.Hits("GET /flaky") <= s.cfg.FailFirst {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) limited(c *gin.Context) {
	if s.cfg.RetryAfter != "" {
		c.Header("Retry-After", s.cfg.RetryAfter)
	}
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limited"})
}

func (s *Server) echoHeaders(c *gin.Context) {
	out := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		out[k] = c.GetHeader(k)
	}
	c.JSON(http.StatusOK, out)
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func (s *Server) resolve(req graphqlRequest) gin.H {
	if s.cfg.Resolver == nil {
		return gin.H{"data": gin.H{"echo": req.Query}}
	}
	data, errs := s.cfg.Resolver(req.Query, req.Variables)
	out := gin.H{"data": data}
	if len(errs) > 0 {
		out["errors"] = errs
	}
	return out
}

func (s *Server) graphql(c *gin.Context) {
	var req graphqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []GraphQLError{{Message: err.Error()}}})
		return
	}
	raw, _ := json.Marshal(req)
	s.mu.Lock()
	s.lastBody["POST /graphql"] = raw
	s.mu.Unlock()
	c.JSON(http.StatusOK, s.resolve(req))
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// subscriptions speaks the server side of graphql-transport-ws for a single
// operation per connection.
func (s *Server) subscriptions(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("mock: websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var writeMu sync.Mutex
	send := func(m wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteJSON(m)
	}

	var init wsMessage
	if err := ws.ReadJSON(&init); err != nil || init.Type != "connection_init" {
		return
	}
	if err := send(wsMessage{Type: "connection_ack"}); err != nil {
		return
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			stopOnce.Do(func() { close(stop) })
			return
		}
		switch msg.Type {
		case "ping":
			_ = send(wsMessage{Type: "pong"})
		case "complete":
			stopOnce.Do(func() { close(stop) })
		case "subscribe":
			var req graphqlRequest
			_ = json.Unmarshal(msg.Payload, &req)
			go s.stream(msg.ID, req, send, stop)
		}
	}
}

func (s *Server) stream(id string, req graphqlRequest, send func(wsMessage) error, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for i := 1; s.cfg.Ticks == 0 || i <= s.cfg.Ticks; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		payload, _ := json.Marshal(gin.H{"data": gin.H{"tick": i, "query": req.Query}})
		if err := send(wsMessage{ID: id, Type: "next", Payload: payload}); err != nil {
			return
		}
	}
	_ = send(wsMessage{ID: id, Type: "complete"})
}

// ItemPath is a helper for building /items/:id paths.
func ItemPath(id int) string { return "/items/" + strconv.Itoa(id) }
