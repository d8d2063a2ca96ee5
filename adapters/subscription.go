package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

// graphql-transport-ws message types.
const (
	wsSubprotocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	defaultAckTimeout = 10 * time.Second
	writeTimeout      = 5 * time.Second
	subscriptionQueue = 16
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionEvent is one "next" payload.
type SubscriptionEvent struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors,omitempty"`
}

// Subscription is a live GraphQL subscription. Events is closed when the
// server completes the operation, the connection fails, the subscribing
// context ends or Unsubscribe is called.
type Subscription struct {
	ID string

	conn    *websocket.Conn
	events  chan SubscriptionEvent
	done    chan struct{}
	writeMu sync.Mutex

	stopOnce sync.Once
	stopping atomic.Bool
	errMu    sync.Mutex
	err      error

	onStop func(*Subscription)
}

func (s *Subscription) Events() <-chan SubscriptionEvent { return s.events }

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the reason the subscription ended, or nil when it completed
// normally or was unsubscribed.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Unsubscribe sends "complete" to the server and closes the connection.
// Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	s.stop(true)
}

func (s *Subscription) stop(notifyServer bool) {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if notifyServer {
			_ = s.write(wsMessage{ID: s.ID, Type: msgComplete})
		}
		_ = s.conn.Close()
		if s.onStop != nil {
			s.onStop(s)
		}
		close(s.done)
	})
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Subscription) write(msg wsMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// readLoop owns s.events and closes it on exit.
func (s *Subscription) readLoop() {
	remoteDone := false
	defer func() {
		close(s.events)
		s.stop(!remoteDone)
	}()

	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.stopping.Load() {
				remoteDone = true
				s.setErr(fmt.Errorf("subscription %s: %w", s.ID, err))
			}
			return
		}
		switch msg.Type {
		case msgNext:
			var ev SubscriptionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				s.setErr(fmt.Errorf("subscription %s: decode payload: %w", s.ID, err))
				return
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		case msgError:
			var errs GraphQLErrors
			if err := json.Unmarshal(msg.Payload, &errs); err != nil || len(errs) == 0 {
				errs = GraphQLErrors{{Message: string(msg.Payload)}}
			}
			remoteDone = true
			s.setErr(errs)
			return
		case msgComplete:
			remoteDone = true
			return
		case msgPing:
			if err := s.write(wsMessage{Type: msgPong}); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

// Subscribe validates a subscription document, opens a dedicated websocket,
// performs the connection_init handshake and starts streaming events. The
// subscription stops when ctx is done.
func (a *GraphQLAdapter) Subscribe(ctx context.Context, doc string, vars map[string]any) (*Subscription, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	req := &resilientbridge.RequestConfig{Method: http.MethodGet, URL: doc, Variables: vars}
	if _, err := a.checkDocument(doc, opSubscription); err != nil {
		a.fail(req, err)
		return nil, err
	}
	if a.limiter != nil {
		if err := a.limiter.Admit(ctx); err != nil {
			return nil, err
		}
	}

	wsURL, err := a.websocketURL()
	if err != nil {
		return nil, err
	}
	header, err := a.dialHeader(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := a.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		terr := &resilientbridge.TransportError{Method: http.MethodGet, URL: wsURL, Err: err}
		a.fail(req, terr)
		return nil, terr
	}

	sub := &Subscription{
		ID:     uuid.NewString(),
		conn:   conn,
		events: make(chan SubscriptionEvent, subscriptionQueue),
		done:   make(chan struct{}),
	}
	if err := a.handshake(ctx, sub, doc, vars); err != nil {
		_ = conn.Close()
		terr := &resilientbridge.TransportError{Method: http.MethodGet, URL: wsURL, Err: err}
		a.fail(req, terr)
		return nil, terr
	}

	sub.onStop = a.forget
	a.mu.Lock()
	a.subs[sub.ID] = sub
	a.mu.Unlock()

	a.logger.Debug("subscription started", slog.String("subscription_id", sub.ID))
	a.emitter.Emit(resilientbridge.Event{
		Type:           resilientbridge.EventSubscriptionCreated,
		Request:        req,
		SubscriptionID: sub.ID,
	})

	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (a *GraphQLAdapter) handshake(ctx context.Context, sub *Subscription, doc string, vars map[string]any) error {
	deadline := time.Now().Add(defaultAckTimeout)
	if a.cfg.Timeout > 0 {
		deadline = time.Now().Add(a.cfg.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := sub.write(wsMessage{Type: msgConnectionInit, Payload: json.RawMessage("{}")}); err != nil {
		return fmt.Errorf("connection_init: %w", err)
	}
	_ = sub.conn.SetReadDeadline(deadline)
	for {
		var msg wsMessage
		if err := sub.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("awaiting connection_ack: %w", err)
		}
		if msg.Type == msgConnectionAck {
			break
		}
		if msg.Type == msgPing {
			if err := sub.write(wsMessage{Type: msgPong}); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("unexpected %q before connection_ack", msg.Type)
	}
	_ = sub.conn.SetReadDeadline(time.Time{})

	payload, err := json.Marshal(graphqlPayload{Query: doc, Variables: vars})
	if err != nil {
		return err
	}
	return sub.write(wsMessage{ID: sub.ID, Type: msgSubscribe, Payload: payload})
}

func (a *GraphQLAdapter) forget(s *Subscription) {
	a.mu.Lock()
	_, ok := a.subs[s.ID]
	delete(a.subs, s.ID)
	a.mu.Unlock()
	if ok {
		a.logger.Debug("subscription stopped", slog.String("subscription_id", s.ID))
		a.emitter.Emit(resilientbridge.Event{Type: resilientbridge.EventSubscriptionUnsubscribe, SubscriptionID: s.ID})
	}
}

// websocketURL returns graphql.websocket_url, or the HTTP endpoint with its
// scheme switched to ws or wss.
func (a *GraphQLAdapter) websocketURL() (string, error) {
	if a.cfg.GraphQL.WebSocketURL != "" {
		return a.cfg.GraphQL.WebSocketURL, nil
	}
	raw := a.endpoint
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if a.cfg.BaseURL == "" {
			return "", errors.New("graphql adapter: no websocket url and no base url to derive it from")
		}
		raw = strings.TrimRight(a.cfg.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("graphql adapter: websocket url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (a *GraphQLAdapter) dialHeader(ctx context.Context) (http.Header, error) {
	h := make(http.Header, len(a.cfg.Headers)+1)
	for k, v := range a.cfg.Headers {
		h.Set(k, v)
	}
	if a.credential != nil {
		name, value, err := a.credential.AuthHeader(ctx)
		if err != nil {
			return nil, fmt.Errorf("graphql adapter: credential: %w", err)
		}
		if name != "" {
			h.Set(name, value)
		}
	}
	return h, nil
}
