package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/signal"
	"github.com/goclaw/simnet/pkg/wiring"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// moduleRunner drives one unit's process and releases its ports afterwards.
type moduleRunner struct {
	unit    *wiring.Unit
	tracker *StateTracker
	metrics MetricsRecorder
	logger  logger.Logger
}

func newModuleRunner(unit *wiring.Unit, tracker *StateTracker, metrics MetricsRecorder, log logger.Logger) *moduleRunner {
	return &moduleRunner{
		unit:    unit,
		tracker: tracker,
		metrics: metrics,
		logger:  log.With("module", unit.Module),
	}
}

// Execute runs the process to completion. The returned state is terminal;
// the error is nil for completed modules.
func (r *moduleRunner) Execute(ctx context.Context) (ModuleState, error) {
	name := r.unit.Module
	ctx, span := runtimeTracer().Start(ctx, spanModuleRun,
		trace.WithAttributes(attribute.String("module.name", name)))
	defer span.End()

	r.tracker.SetState(name, ModuleStateRunning)
	r.metrics.IncActiveModules()
	start := time.Now()
	r.logger.DebugContext(ctx, "module started")

	procErr := r.call(ctx)

	// Releasing the ports is what closes downstream signals.
	if err := r.unit.Ports.Close(); err != nil {
		r.logger.WarnContext(ctx, "releasing ports", "error", err)
	}

	state, err := classify(ctx, name, procErr)
	r.tracker.SetFinished(name, state, err)
	r.metrics.DecActiveModules()
	r.metrics.RecordModuleRun(name, state.String(), time.Since(start))

	span.SetAttributes(attribute.String("module.state", state.String()))
	switch state {
	case ModuleStateFailed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pe *ModulePanicError
		if errors.As(err, &pe) {
			r.logger.ErrorContext(ctx, "module panicked", "panic", pe.Value, "stack", string(pe.Stack))
		} else {
			r.logger.ErrorContext(ctx, "module failed", "error", err)
		}
	case ModuleStateCancelled:
		r.logger.InfoContext(ctx, "module cancelled", "error", err)
	default:
		r.logger.DebugContext(ctx, "module finished", "duration", time.Since(start))
	}
	return state, err
}

func (r *moduleRunner) call(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ModulePanicError{Module: r.unit.Module, Value: p, Stack: debug.Stack()}
		}
	}()
	return r.unit.Process(ctx, r.unit.Ports)
}

// classify maps a process result to a terminal state. A process that returns
// the closed error of one of its inputs has shut down normally.
func classify(ctx context.Context, module string, err error) (ModuleState, error) {
	var pe *ModulePanicError
	switch {
	case err == nil, errors.Is(err, signal.ErrClosed):
		return ModuleStateCompleted, nil
	case errors.As(err, &pe):
		return ModuleStateFailed, err
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return ModuleStateCancelled, &ModuleError{Module: module, Cause: err}
	default:
		return ModuleStateFailed, &ModuleError{Module: module, Cause: err}
	}
}
