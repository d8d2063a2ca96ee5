package loader

import (
	"sync"
	"time"
)

// Scheduler runs a flush after the current unit of work. Loaders call
// Schedule at most once per open batch, while holding their lock, so fn must
// not run before Schedule returns.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

func (f SchedulerFunc) Schedule(fn func()) { f(fn) }

// TimerScheduler runs fn on its own goroutine after wait. Every Load issued
// within wait of the first one joins the same batch.
func TimerScheduler(wait time.Duration) Scheduler {
	return SchedulerFunc(func(fn func()) {
		time.AfterFunc(wait, fn)
	})
}

// ManualScheduler queues flushes until Tick is called. It suits tests and hosts
// that drive their own cooperative loop.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (m *ManualScheduler) Schedule(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, fn)
}

// Tick runs, on the calling goroutine, every flush scheduled before the call.
// Flushes scheduled while Tick runs wait for the next Tick. It returns the
// number of flushes run.
func (m *ManualScheduler) Tick() int {
	m.mu.Lock()
	due := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return len(due)
}

// Pending reports how many flushes are waiting for Tick.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
