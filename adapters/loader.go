package adapters

import (
	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/loader"
)

// NewLoader creates a batching loader configured from the adapter's batching
// section. fetch normally issues one call through the adapter for the whole
// key slice. With batching disabled every key is dispatched on its own.
// Options in opts override the adapter defaults.
func NewLoader[K comparable, V any](b *Base, fetch loader.BatchFunc[K, V], opts ...loader.Option) *loader.Loader[K, V] {
	cfg := b.cfg.Batching
	defaults := []loader.Option{
		loader.WithName(b.name),
		loader.WithMeterProvider(b.meterProvider),
	}
	if cfg.Enabled {
		defaults = append(defaults,
			loader.WithMaxBatchSize(cfg.MaxBatchSize),
			loader.WithScheduler(loader.TimerScheduler(cfg.Interval)))
	} else {
		defaults = append(defaults,
			loader.WithMaxBatchSize(1),
			loader.WithScheduler(loader.TimerScheduler(0)))
	}

	l := loader.New(fetch, append(defaults, opts...)...)
	b.emitter.Emit(resilientbridge.Event{Type: resilientbridge.EventDataLoaderCreated})
	return l
}
