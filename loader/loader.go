// Package loader implements request batching in the DataLoader style: single
// key lookups issued within one scheduling tick are collapsed into one call of
// a batch function, and the results are fanned back out to each caller.
package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

// DefaultMaxBatchSize bounds a batch when no size is configured.
const DefaultMaxBatchSize = 100

// Result is the outcome for one key.
type Result[V any] struct {
	Value V
	Err   error
}

// BatchFunc loads values for keys. It must return exactly one result per key,
// in key order. Returning an error fails every key of the batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]Result[V], error)

type config struct {
	maxBatchSize int
	cache        bool
	scheduler    Scheduler
	ctx          context.Context
	name         string
	meter        metric.MeterProvider
}

// Option configures a Loader.
type Option func(*config)

// WithMaxBatchSize caps the keys passed to one BatchFunc call.
func WithMaxBatchSize(n int) Option {
	return func(c *config) { c.maxBatchSize = n }
}

// WithCache turns per-key memoization on or off (default on).
func WithCache(enabled bool) Option {
	return func(c *config) { c.cache = enabled }
}

// WithScheduler sets how flushes are scheduled (default TimerScheduler(1ms)).
func WithScheduler(s Scheduler) Option {
	return func(c *config) { c.scheduler = s }
}

// WithContext sets the context handed to BatchFunc. A batch serves many
// callers, so no single caller's context is used.
func WithContext(ctx context.Context) Option {
	return func(c *config) { c.ctx = ctx }
}

// WithName labels the loader's metrics.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithMeterProvider records metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meter = mp }
}

// Stats counts work done by a Loader.
type Stats struct {
	Batches int64
	Keys    int64
	Errors  int64
}

// Loader batches and caches lookups of V by K.
//
// The queue is the single open batch: the first Load after a flush schedules
// one flush, and later Loads join the queue until it runs. A flush takes up
// to the max batch size from the front of the queue; leftovers schedule the
// next flush.
type Loader[K comparable, V any] struct {
	fetch BatchFunc[K, V]
	cfg   config

	mu        sync.Mutex
	queue     []*slot[K, V]
	scheduled bool
	cache     map[K]*slot[K, V]

	batches, keys, errors atomic.Int64

	batchSize  metric.Int64Histogram
	dispatches metric.Int64Counter
	failures   metric.Int64Counter
	attrs      metric.MeasurementOption
}

type slot[K comparable, V any] struct {
	key   K
	done  chan struct{}
	value V
	err   error
}

func (s *slot[K, V]) wait(ctx context.Context) (V, error) {
	select {
	case <-s.done:
		return s.value, s.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// New creates a Loader over fetch.
func New[K comparable, V any](fetch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	cfg := config{
		maxBatchSize: DefaultMaxBatchSize,
		cache:        true,
		ctx:          context.Background(),
		name:         "default",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxBatchSize <= 0 {
		cfg.maxBatchSize = DefaultMaxBatchSize
	}
	if cfg.scheduler == nil {
		cfg.scheduler = TimerScheduler(time.Millisecond)
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider()
	}

	l := &Loader[K, V]{
		fetch: fetch,
		cfg:   cfg,
		cache: make(map[K]*slot[K, V]),
		attrs: metric.WithAttributes(attribute.String("loader", cfg.name)),
	}
	l.initMetrics()
	return l
}

func (l *Loader[K, V]) initMetrics() {
	meter := l.cfg.meter.Meter("github.com/SynergyMesh-master/KeyStonOps-sub004/loader")
	// Instrument creation only fails on invalid names; a nil instrument is
	// never recorded to.
	l.batchSize, _ = meter.Int64Histogram(
		"loader_batch_size",
		metric.WithDescription("Number of keys per batch function call"),
	)
	l.dispatches, _ = meter.Int64Counter(
		"loader_dispatches_total",
		metric.WithDescription("Total number of batch function calls"),
	)
	l.failures, _ = meter.Int64Counter(
		"loader_batch_failures_total",
		metric.WithDescription("Batch function calls that failed every key"),
	)
}

// Load returns the value for key, waiting for the batch it joins.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	return l.enqueue(key).wait(ctx)
}

// LoadThunk enqueues key and returns a function that blocks for its result.
// Issuing several thunks before calling any of them puts the keys in one
// batch.
func (l *Loader[K, V]) LoadThunk(key K) func() (V, error) {
	s := l.enqueue(key)
	return func() (V, error) {
		return s.wait(context.Background())
	}
}

// LoadMany loads keys in one tick and returns a result per key, in order.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) []Result[V] {
	slots := make([]*slot[K, V], len(keys))
	for i, k := range keys {
		slots[i] = l.enqueue(k)
	}
	out := make([]Result[V], len(keys))
	for i, s := range slots {
		out[i].Value, out[i].Err = s.wait(ctx)
	}
	return out
}

// Prime stores value for key unless the key is already cached. It reports
// whether the value was stored.
func (l *Loader[K, V]) Prime(key K, value V) bool {
	if !l.cfg.cache {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; ok {
		return false
	}
	s := &slot[K, V]{key: key, done: make(chan struct{}), value: value}
	close(s.done)
	l.cache[key] = s
	return true
}

// Clear forgets key so the next Load fetches it again.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, key)
}

// ClearAll forgets every cached key.
func (l *Loader[K, V]) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[K]*slot[K, V])
}

func (l *Loader[K, V]) Stats() Stats {
	return Stats{
		Batches: l.batches.Load(),
		Keys:    l.keys.Load(),
		Errors:  l.errors.Load(),
	}
}

func (l *Loader[K, V]) enqueue(key K) *slot[K, V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.cache {
		if s, ok := l.cache[key]; ok {
			return s
		}
	}
	s := &slot[K, V]{key: key, done: make(chan struct{})}
	if l.cfg.cache {
		l.cache[key] = s
	}
	l.queue = append(l.queue, s)
	if !l.scheduled {
		l.scheduled = true
		l.cfg.scheduler.Schedule(l.flush)
	}
	return s
}

// flush dispatches the front of the queue as one batch.
func (l *Loader[K, V]) flush() {
	l.mu.Lock()
	n := min(len(l.queue), l.cfg.maxBatchSize)
	batch := make([]*slot[K, V], n)
	copy(batch, l.queue)
	l.queue = append(l.queue[:0], l.queue[n:]...)
	if len(l.queue) > 0 {
		l.cfg.scheduler.Schedule(l.flush)
	} else {
		l.scheduled = false
	}
	l.mu.Unlock()

	if n == 0 {
		return
	}
	l.dispatch(batch)
}

func (l *Loader[K, V]) dispatch(batch []*slot[K, V]) {
	ctx := l.cfg.ctx
	keys := make([]K, len(batch))
	for i, s := range batch {
		keys[i] = s.key
	}

	l.batches.Add(1)
	l.keys.Add(int64(len(keys)))
	l.dispatches.Add(ctx, 1, l.attrs)
	l.batchSize.Record(ctx, int64(len(keys)), l.attrs)

	results, err := l.call(ctx, keys)
	if err == nil && len(results) != len(keys) {
		err = fmt.Errorf("batch function returned %d results for %d keys", len(results), len(keys))
	}
	if err != nil {
		l.errors.Add(1)
		l.failures.Add(ctx, 1, l.attrs)
		berr := &resilientbridge.BatchError{Size: len(keys), Err: err}
		for _, s := range batch {
			s.err = berr
		}
	} else {
		for i, s := range batch {
			s.value, s.err = results[i].Value, results[i].Err
		}
	}

	l.mu.Lock()
	for _, s := range batch {
		if s.err != nil && l.cache[s.key] == s {
			delete(l.cache, s.key)
		}
	}
	l.mu.Unlock()

	for _, s := range batch {
		close(s.done)
	}
}

// call runs the batch function, turning a panic into a batch error so no
// waiting caller is stranded.
func (l *Loader[K, V]) call(ctx context.Context, keys []K) (results []Result[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch function panicked: %v", r)
		}
	}()
	return l.fetch(ctx, keys)
}
