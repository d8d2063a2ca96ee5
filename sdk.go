// sdk.go
// ------
// The sdk.go file contains the ResilientBridge registry, the entry point for
// hosts that talk to several upstream services.
//
// Key functionalities include:
// - Registering named adapters with Register()
// - Routing calls via Request()
// - Fanning adapter events out to bridge-level listeners
// - Reporting circuit state per adapter and closing everything on shutdown
//
// Every adapter owns its own cache, rate window and circuit breaker; the
// bridge never shares that state across adapters.
package resilientbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type ResilientBridge struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	cancels   map[string]func()
	listeners *Emitter
	logger    *slog.Logger
}

// NewResilientBridge returns an empty registry. A nil logger uses
// slog.Default().
func NewResilientBridge(logger *slog.Logger) *ResilientBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientBridge{
		adapters:  make(map[string]Adapter),
		cancels:   make(map[string]func()),
		listeners: NewEmitter("", logger),
		logger:    logger,
	}
}

// Register associates an adapter with its name. Registering a name twice
// replaces the previous adapter, which is closed.
func (b *ResilientBridge) Register(a Adapter) {
	name := a.Name()
	cancel := a.Listen(ListenerFunc(b.listeners.Emit))

	b.mu.Lock()
	prev, hadPrev := b.adapters[name]
	prevCancel := b.cancels[name]
	b.adapters[name] = a
	b.cancels[name] = cancel
	b.mu.Unlock()

	if hadPrev {
		prevCancel()
		if err := prev.Close(); err != nil {
			b.logger.Warn("closing replaced adapter", slog.String("adapter", name), slog.String("error", err.Error()))
		}
	}
	b.logger.Debug("registered adapter", slog.String("adapter", name))
}

// Adapter returns the adapter registered under name.
func (b *ResilientBridge) Adapter(name string) (Adapter, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.adapters[name]
	return a, ok
}

// Names returns the registered adapter names in sorted order.
func (b *ResilientBridge) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.adapters))
	for n := range b.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Request sends req through the named adapter.
func (b *ResilientBridge) Request(ctx context.Context, adapterName string, req *RequestConfig) (*Response, error) {
	a, ok := b.Adapter(adapterName)
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", adapterName)
	}
	return a.Request(ctx, req)
}

// Subscribe registers a listener that receives events from every adapter,
// including ones registered later.
func (b *ResilientBridge) Subscribe(l Listener) (cancel func()) {
	return b.listeners.Subscribe(l)
}

// CircuitStats returns a breaker snapshot per adapter.
func (b *ResilientBridge) CircuitStats() map[string]CircuitStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]CircuitStats, len(b.adapters))
	for name, a := range b.adapters {
		out[name] = a.CircuitStats()
	}
	return out
}

// Close unregisters and closes every adapter.
func (b *ResilientBridge) Close() error {
	b.mu.Lock()
	adapters := b.adapters
	cancels := b.cancels
	b.adapters = make(map[string]Adapter)
	b.cancels = make(map[string]func())
	b.mu.Unlock()

	var errs []error
	for name, a := range adapters {
		cancels[name]()
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
