package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goclaw/simnet/pkg/logger"
)

// Watcher monitors the configuration file, plus any extra files such as a
// network manifest, and triggers callbacks once changes settle.
type Watcher struct {
	mu         sync.RWMutex
	watcher    *fsnotify.Watcher
	configPath string
	extra      []string
	overrides  map[string]interface{}
	callbacks  []func(*Config)
	debounce   time.Duration
	logger     logger.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	running    bool
}

// WatcherOption is a functional option for Watcher configuration.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the logger reload failures are reported to.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithExtraFiles watches additional files. A change to any of them reloads
// the configuration and fires the callbacks like a change to the config file.
func WithExtraFiles(paths ...string) WatcherOption {
	return func(w *Watcher) {
		for _, p := range paths {
			if p != "" {
				w.extra = append(w.extra, p)
			}
		}
	}
}

// WithOverrides reapplies overrides on every reload, the way command line
// flags are applied on the first load.
func WithOverrides(overrides map[string]interface{}) WatcherOption {
	return func(w *Watcher) {
		w.overrides = overrides
	}
}

// NewWatcher creates a new configuration file watcher. configPath may be
// empty when only extra files are watched.
func NewWatcher(configPath string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		logger:     logger.Global(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.configPath == "" && len(w.extra) == 0 {
		return nil, fmt.Errorf("config path is required for watching")
	}

	fswatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.watcher = fswatcher
	return w, nil
}

// Watch starts monitoring the watched files for changes.
// It blocks until the context is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	watched := make(map[string]struct{})
	for _, p := range w.Paths() {
		// Editors replace files on save, so watch the directory and filter.
		if err := w.watcher.Add(filepath.Dir(p)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		watched[filepath.Clean(p)] = struct{}{}
	}

	var (
		timer *time.Timer
		fire  = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := watched[filepath.Clean(event.Name)]; !ok {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.reloadConfig()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reloadConfig reloads the configuration from scratch and notifies callbacks.
func (w *Watcher) reloadConfig() {
	cfg, err := NewLoader().Load(w.configPath, w.overrides)
	if err != nil {
		w.logger.Error("failed to reload config", "path", w.configPath, "error", err)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.configPath)

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		go func(callback func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("config callback panic", "panic", r)
				}
			}()
			callback(cfg)
		}(cb)
	}
}

// OnChange registers a callback to be called when the configuration changes.
// Callbacks are called concurrently in separate goroutines.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Stop stops the watcher and releases resources. It is safe to call twice.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// ConfigPath returns the configuration file being watched.
func (w *Watcher) ConfigPath() string {
	return w.configPath
}

// Paths returns every watched file.
func (w *Watcher) Paths() []string {
	var paths []string
	if w.configPath != "" {
		paths = append(paths, w.configPath)
	}
	return append(paths, w.extra...)
}

// HotReloadableConfig contains configuration values that can be applied
// without restarting.
type HotReloadableConfig struct {
	LogLevel       string
	MetricsEnabled bool
	FailFast       bool
	Timeout        time.Duration
	TraceEnabled   bool
	StreamRate     float64
}

// ExtractHotReloadable extracts hot-reloadable values from Config.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	return HotReloadableConfig{
		LogLevel:       cfg.Log.Level,
		MetricsEnabled: cfg.Metrics.Enabled,
		FailFast:       cfg.Simulation.FailFast,
		Timeout:        cfg.Simulation.Timeout,
		TraceEnabled:   cfg.Trace.Enabled,
		StreamRate:     cfg.Trace.Stream.Rate,
	}
}

// Changed checks if hot-reloadable configuration has changed.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	return h != other
}
