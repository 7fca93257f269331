package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last write
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called with the previous and the freshly loaded config.
type ChangeFunc func(old, cur *Config)

// Watcher reloads a config file when it changes on disk and notifies
// callbacks. An invalid file is logged and ignored; the last good config
// stays current.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ChangeFunc

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher for path. initial is the config already
// loaded from it.
func NewWatcher(path string, initial *Config, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		current:  initial,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnChange registers a callback. Callbacks run on the watcher goroutine in
// registration order.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the last successfully loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching. The file's directory is watched so editors that
// replace the file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(w.path), err)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	w.logger.Info("config watcher started", "path", w.path)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	callbacks := append([]ChangeFunc(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, fn := range callbacks {
		fn(old, cfg)
	}
}
