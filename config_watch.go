package resilientbridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long WatchConfig waits for a burst of file
// events to settle before reloading.
const DefaultWatchDebounce = 100 * time.Millisecond

// WatchOptions tunes WatchConfig. The zero value is usable.
type WatchOptions struct {
	Logger   *slog.Logger
	Debounce time.Duration
	// OnError receives reload failures. The previous config stays active.
	OnError func(error)
}

// WatchConfig reloads the adapter config at path whenever it changes and
// hands each new version to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so editors that save
// by writing a temp file and renaming it over path are picked up. Events are
// debounced, and a reload whose bytes match the last applied version is
// skipped.
func WatchConfig(ctx context.Context, path string, opts WatchOptions, onChange func(*Config)) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	applied, _ := os.ReadFile(target)
	logger.Debug("config: watching", slog.String("path", target))

	reload := func() {
		data, err := os.ReadFile(target)
		if err != nil {
			// Mid-rename; the Create that follows triggers another pass.
			if os.IsNotExist(err) {
				return
			}
			report(logger, opts.OnError, target, err)
			return
		}
		if bytes.Equal(data, applied) {
			return
		}
		cfg, err := ParseConfig(data)
		if err != nil {
			report(logger, opts.OnError, target, err)
			return
		}
		applied = data
		logger.Info("config: reloaded", slog.String("path", target), slog.String("name", cfg.Name))
		onChange(cfg)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(logger, opts.OnError, target, err)
		}
	}
}

func report(logger *slog.Logger, onError func(error), path string, err error) {
	err = fmt.Errorf("config: reload %s: %w", path, err)
	logger.Warn("config: reload failed, keeping previous config", slog.String("error", err.Error()))
	if onError != nil {
		onError(err)
	}
}
