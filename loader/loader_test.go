package loader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

// recordingFetch upper-cases keys and records every batch it receives.
type recordingFetch struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]error
}

func (f *recordingFetch) fetch(_ context.Context, keys []string) ([]Result[string], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), keys...))
	out := make([]Result[string], len(keys))
	for i, k := range keys {
		if err := f.fail[k]; err != nil {
			out[i].Err = err
			continue
		}
		out[i].Value = strings.ToUpper(k)
	}
	return out, nil
}

func (f *recordingFetch) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

func TestLoader_CollapsesOneTickIntoOneBatch(t *testing.T) {
	sched := &ManualScheduler{}
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(sched))

	a := l.LoadThunk("a")
	b := l.LoadThunk("b")
	c := l.LoadThunk("c")
	assert.Equal(t, 1, sched.Pending(), "one flush per open batch")

	require.Equal(t, 1, sched.Tick())

	v, err := a()
	require.NoError(t, err)
	assert.Equal(t, "A", v)
	v, _ = b()
	assert.Equal(t, "B", v)
	v, _ = c()
	assert.Equal(t, "C", v)

	assert.Equal(t, [][]string{{"a", "b", "c"}}, f.calls())
}

func TestLoader_MaxBatchSizeSplitsAcrossTicks(t *testing.T) {
	sched := &ManualScheduler{}
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(sched), WithMaxBatchSize(2))

	thunks := []func() (string, error){l.LoadThunk("a"), l.LoadThunk("b"), l.LoadThunk("c")}

	sched.Tick()
	assert.Equal(t, [][]string{{"a", "b"}}, f.calls())
	assert.Equal(t, 1, sched.Pending(), "leftover key waits for the next tick")

	sched.Tick()
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, f.calls())

	for i, want := range []string{"A", "B", "C"} {
		v, err := thunks[i]()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.Zero(t, sched.Pending())
	assert.Equal(t, Stats{Batches: 2, Keys: 3}, l.Stats())
}

func TestLoader_CachesResolvedAndPendingKeys(t *testing.T) {
	sched := &ManualScheduler{}
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(sched))

	first := l.LoadThunk("a")
	dup := l.LoadThunk("a")
	sched.Tick()
	v1, _ := first()
	v2, _ := dup()
	assert.Equal(t, "A", v1)
	assert.Equal(t, "A", v2)

	// Resolved value is served without a new batch.
	v, err := l.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", v)
	assert.Zero(t, sched.Pending())
	assert.Equal(t, [][]string{{"a"}}, f.calls())

	l.Clear("a")
	again := l.LoadThunk("a")
	sched.Tick()
	_, _ = again()
	assert.Len(t, f.calls(), 2)
}

func TestLoader_PrimeAndClearAll(t *testing.T) {
	sched := &ManualScheduler{}
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(sched))

	assert.True(t, l.Prime("x", "primed"))
	assert.False(t, l.Prime("x", "other"), "existing keys are not overwritten")

	v, err := l.Load(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "primed", v)

	l.ClearAll()
	th := l.LoadThunk("x")
	sched.Tick()
	v, _ = th()
	assert.Equal(t, "X", v)
}

func TestLoader_CacheDisabledSendsDuplicates(t *testing.T) {
	sched := &ManualScheduler{}
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(sched), WithCache(false))

	_ = l.LoadThunk("a")
	_ = l.LoadThunk("a")
	sched.Tick()
	assert.Equal(t, [][]string{{"a", "a"}}, f.calls())
	assert.False(t, l.Prime("a", "v"))
}

func TestLoader_BatchErrorFailsEveryKey(t *testing.T) {
	sched := &ManualScheduler{}
	boom := errors.New("upstream 500")
	calls := 0
	l := New(func(_ context.Context, keys []int) ([]Result[int], error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		out := make([]Result[int], len(keys))
		for i, k := range keys {
			out[i].Value = k * 10
		}
		return out, nil
	}, WithScheduler(sched))

	one, two := l.LoadThunk(1), l.LoadThunk(2)
	sched.Tick()

	for _, th := range []func() (int, error){one, two} {
		_, err := th()
		var be *resilientbridge.BatchError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, 2, be.Size)
		assert.ErrorIs(t, err, boom)
	}

	// Failed keys are not cached.
	retry := l.LoadThunk(1)
	sched.Tick()
	v, err := retry()
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.EqualValues(t, 1, l.Stats().Errors)
}

func TestLoader_ResultCountMismatch(t *testing.T) {
	sched := &ManualScheduler{}
	l := New(func(_ context.Context, keys []string) ([]Result[string], error) {
		return []Result[string]{{Value: "only one"}}, nil
	}, WithScheduler(sched))

	res := make(chan []Result[string], 1)
	go func() { res <- l.LoadMany(context.Background(), []string{"a", "b"}) }()

	require.Eventually(t, func() bool { return sched.Pending() == 1 }, time.Second, time.Millisecond)
	sched.Tick()

	for _, r := range <-res {
		var be *resilientbridge.BatchError
		assert.ErrorAs(t, r.Err, &be)
	}
}

func TestLoader_PerKeyErrorsAreIsolated(t *testing.T) {
	sched := &ManualScheduler{}
	missing := errors.New("not found")
	f := &recordingFetch{fail: map[string]error{"b": missing}}
	l := New(f.fetch, WithScheduler(sched))

	a, b := l.LoadThunk("a"), l.LoadThunk("b")
	sched.Tick()

	v, err := a()
	require.NoError(t, err)
	assert.Equal(t, "A", v)
	_, err = b()
	assert.ErrorIs(t, err, missing)

	// "a" stays cached, "b" is fetched again.
	_ = l.LoadThunk("a")
	_ = l.LoadThunk("b")
	sched.Tick()
	assert.Equal(t, [][]string{{"a", "b"}, {"b"}}, f.calls())
}

func TestLoader_PanickingBatchFunc(t *testing.T) {
	sched := &ManualScheduler{}
	l := New(func(context.Context, []string) ([]Result[string], error) {
		panic("bad fetch")
	}, WithScheduler(sched))

	th := l.LoadThunk("a")
	sched.Tick()
	_, err := th()
	var be *resilientbridge.BatchError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Error(), "bad fetch")
}

func TestLoader_LoadHonoursContext(t *testing.T) {
	l := New((&recordingFetch{}).fetch, WithScheduler(&ManualScheduler{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx, "never-flushed")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_TimerScheduler(t *testing.T) {
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(TimerScheduler(20*time.Millisecond)))

	results := l.LoadMany(context.Background(), []string{"x", "y", "z"})
	for i, want := range []string{"X", "Y", "Z"} {
		require.NoError(t, results[i].Err)
		assert.Equal(t, want, results[i].Value)
	}
	assert.Equal(t, [][]string{{"x", "y", "z"}}, f.calls())
}

func TestLoader_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	sched := &ManualScheduler{}
	f := &recordingFetch{}
	l := New(f.fetch, WithScheduler(sched), WithMeterProvider(mp), WithName("users"), WithMaxBatchSize(2))

	for _, k := range []string{"a", "b", "c"} {
		_ = l.LoadThunk(k)
	}
	sched.Tick()
	sched.Tick()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var dispatches int64
	var histCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "loader_dispatches_total" {
					for _, dp := range data.DataPoints {
						dispatches += dp.Value
					}
				}
			case metricdata.Histogram[int64]:
				if m.Name == "loader_batch_size" {
					for _, dp := range data.DataPoints {
						histCount += dp.Count
					}
				}
			}
		}
	}
	assert.EqualValues(t, 2, dispatches)
	assert.EqualValues(t, 2, histCount)
}
