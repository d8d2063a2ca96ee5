package resilientbridge

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names an adapter lifecycle notification.
type EventType string

const (
	EventRequestSuccess          EventType = "request:success"
	EventRequestRetry            EventType = "request:retry"
	EventRequestError            EventType = "request:error"
	EventCacheHit                EventType = "cache:hit"
	EventCacheCleared            EventType = "cache:cleared"
	EventRateLimitExceeded       EventType = "ratelimit:exceeded"
	EventCircuitOpen             EventType = "circuitbreaker:open"
	EventCircuitHalfOpen         EventType = "circuitbreaker:half-open"
	EventCircuitClosed           EventType = "circuitbreaker:closed"
	EventSubscriptionCreated     EventType = "subscription:created"
	EventSubscriptionUnsubscribe EventType = "subscription:unsubscribed"
	EventDataLoaderCreated       EventType = "dataloader:created"
)

// Event is a fire-and-forget notification. Only the fields relevant to Type
// are populated.
type Event struct {
	Type    EventType
	Time    time.Time
	Adapter string

	Request  *RequestConfig
	Response *Response
	Err      error

	// Attempt is zero-based; Delay is the backoff or rate-limit wait.
	Attempt int
	Delay   time.Duration

	SubscriptionID string
}

// Listener receives events. Listeners run synchronously on the emitting
// goroutine and must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Emitter fans events out to registered listeners. The zero value is ready to
// use; a nil *Emitter drops every event.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners []registration
	source    string
	logger    *slog.Logger
}

type registration struct {
	id int
	l  Listener
}

// NewEmitter returns an Emitter that stamps events with the adapter name
// source and logs listener panics to logger.
func NewEmitter(source string, logger *slog.Logger) *Emitter {
	return &Emitter{source: source, logger: logger}
}

// Subscribe registers l and returns a function that removes it.
func (e *Emitter) Subscribe(l Listener) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, registration{id: id, l: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, r := range e.listeners {
				if r.id == id {
					e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every listener once. A panicking listener is logged and
// does not affect the others or the caller.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Adapter == "" {
		ev.Adapter = e.source
	}

	e.mu.RLock()
	ls := e.listeners
	e.mu.RUnlock()

	for _, r := range ls {
		e.deliver(r.l, ev)
	}
}

func (e *Emitter) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger := e.logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("event listener panicked",
				slog.String("event", string(ev.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	l.OnEvent(ev)
}
