package engine

import (
	"time"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/storage"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder for the engine.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithStorage sets the store runs are persisted to.
func WithStorage(store storage.Storage) Option {
	return func(e *Engine) {
		if store != nil {
			e.storage = store
		}
	}
}

// WithEventBroadcaster sets an event broadcaster for run and module state changes.
func WithEventBroadcaster(broadcaster EventBroadcaster) Option {
	return func(e *Engine) {
		if broadcaster != nil {
			e.events = broadcaster
		}
	}
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	id       string
	metadata map[string]string
	onFinish []func(*RunResult)
	failFast *bool
	timeout  *time.Duration
}

// WithRunID sets the run's ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.id = id }
}

// WithMetadata attaches metadata to the persisted run.
func WithMetadata(md map[string]string) RunOption {
	return func(o *runOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

// WithFailFast overrides Config.FailFast for one run.
func WithFailFast(enabled bool) RunOption {
	return func(o *runOptions) { o.failFast = &enabled }
}

// WithTimeout overrides Config.Timeout for one run. Zero removes the limit.
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) { o.timeout = &d }
}

// WithOnFinish registers fn to be called after every module has returned and
// before the final run state is persisted.
func WithOnFinish(fn func(*RunResult)) RunOption {
	return func(o *runOptions) {
		if fn != nil {
			o.onFinish = append(o.onFinish, fn)
		}
	}
}

func buildRunOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = NewRunID()
	}
	return o
}
