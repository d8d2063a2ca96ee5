package adapters

import (
	"sync"
	"time"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(baseURL string) resilientbridge.Config {
	cfg := resilientbridge.DefaultConfig()
	cfg.Name = "svc"
	cfg.BaseURL = baseURL
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	events []resilientbridge.Event
}

func (r *recorder) OnEvent(e resilientbridge.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []resilientbridge.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]resilientbridge.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t resilientbridge.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t resilientbridge.EventType) (resilientbridge.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return resilientbridge.Event{}, false
}

func newFakeClock() *clock.Fake { return clock.NewFake(epoch) }
