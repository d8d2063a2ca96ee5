// rate_limiter.go
// ----------------
// This file defines the RateLimiter type, a sliding-window admission controller
// owned by a single adapter.
//
// Responsibilities:
// - Keeping the ordered admission timestamps that fall inside the window.
// - Pruning timestamps older than the window on every check.
// - Blocking the caller until the oldest timestamp leaves the window when the
//   window is full, then re-evaluating. Callers are never rejected.
package resilientbridge

import (
	"context"
	"sync"
	"time"

	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

type RateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	timestamps  []time.Time // ascending

	clock   clock.Clock
	emitter *Emitter
}

// RateLimitSnapshot reports the current occupancy of the window.
type RateLimitSnapshot struct {
	InWindow    int
	MaxRequests int
	Window      time.Duration
}

// NewRateLimiter admits at most maxRequests calls in any window-long interval.
func NewRateLimiter(maxRequests int, window time.Duration, clk clock.Clock, emitter *Emitter) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		clock:       clock.OrReal(clk),
		emitter:     emitter,
	}
}

// Admit returns once the call may proceed. It blocks while the window is full
// and only fails when ctx ends the wait.
func (r *RateLimiter) Admit(ctx context.Context) error {
	for {
		delay := r.tryAdmit()
		if delay <= 0 {
			return nil
		}
		r.emitter.Emit(Event{Type: EventRateLimitExceeded, Delay: delay, Time: r.clock.Now()})
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// tryAdmit records an admission and returns 0, or returns how long the caller
// must wait before trying again. Check and record happen under one lock.
func (r *RateLimiter) tryAdmit() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.prune(now)

	if len(r.timestamps) < r.maxRequests {
		r.timestamps = append(r.timestamps, now)
		return 0
	}

	delay := r.window - now.Sub(r.timestamps[0])
	if delay <= 0 {
		// The oldest entry sits exactly on the window edge.
		delay = time.Millisecond
	}
	return delay
}

// prune drops timestamps at or before now-window. Must be called with r.mu held.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.timestamps) && !r.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[i:]...)
	}
}

// Snapshot returns the window occupancy after pruning.
func (r *RateLimiter) Snapshot() RateLimitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.clock.Now())
	return RateLimitSnapshot{
		InWindow:    len(r.timestamps),
		MaxRequests: r.maxRequests,
		Window:      r.window,
	}
}
