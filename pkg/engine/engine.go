// Package engine schedules built networks: one goroutine per module, joined
// when every module has returned.
//
// Runs terminate structurally. A module returns, its ports are released, the
// signals it wrote close, and downstream modules see the closure and return
// in turn. The engine never stops a module on its own unless the run is
// cancelled, times out, or fail-fast is enabled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/storage"
	"github.com/goclaw/simnet/pkg/storage/memory"
	"github.com/goclaw/simnet/pkg/wiring"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the configuration for the engine.
type Config struct {
	Name string
	// FailFast cancels the whole run when a module fails.
	FailFast bool
	// Timeout bounds a run; zero means no limit.
	Timeout time.Duration
}

// Engine runs networks and records their progress.
type Engine struct {
	cfg     Config
	logger  logger.Logger
	metrics MetricsRecorder
	storage storage.Storage
	events  EventBroadcaster

	execMu     sync.RWMutex
	executions map[string]*runExecution
	recent     map[string]*runExecution
	recentIDs  []string
	wg         sync.WaitGroup
	closed     bool
}

// submitted runs stay waitable for this many completions
const retainFinished = 64

// New creates an engine. Without WithStorage runs are kept in memory.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger.Global(),
		metrics:    nopMetrics{},
		events:     nopEvents{},
		executions: make(map[string]*runExecution),
		recent:     make(map[string]*runExecution),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.storage == nil {
		e.storage = memory.NewMemoryStorage()
	}
	if cfg.Name != "" {
		e.logger = e.logger.With("engine", cfg.Name)
	}
	return e
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// RunResult is the outcome of a run.
type RunResult struct {
	ID        string
	Name      string
	Status    string
	Modules   map[string]*ModuleResult
	Signals   []wiring.SignalInfo
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Run executes net and blocks until every module has returned. The returned
// error joins every module failure; the result is non-nil whenever the
// network was started. The result stays available to Wait like that of a
// submitted run, and Shutdown waits for Run to return.
func (e *Engine) Run(ctx context.Context, net *wiring.Network, opts ...RunOption) (*RunResult, error) {
	if net == nil {
		return nil, errors.New("run: nil network")
	}
	if !e.join() {
		return nil, ErrEngineShutdown
	}
	defer e.wg.Done()

	if !net.Acquire() {
		return nil, ErrNetworkConsumed
	}
	ro := buildRunOptions(opts)
	exec := e.newExecution(ctx, ro, net)
	e.registerExecution(exec)
	res, err := e.execute(exec, net, ro)
	e.finish(exec, res, err)
	return res, err
}

// Submit starts net in the background and returns its run ID. Progress is
// persisted to the engine's storage and broadcast as events.
func (e *Engine) Submit(ctx context.Context, net *wiring.Network, opts ...RunOption) (string, error) {
	if net == nil {
		return "", errors.New("submit: nil network")
	}
	if !e.join() {
		return "", ErrEngineShutdown
	}
	if !net.Acquire() {
		e.wg.Done()
		return "", ErrNetworkConsumed
	}
	ro := buildRunOptions(opts)
	exec := e.newExecution(context.WithoutCancel(ctx), ro, net)
	if err := e.persist(ctx, exec); err != nil {
		exec.cancel()
		e.wg.Done()
		net.Close()
		return "", fmt.Errorf("save run: %w", err)
	}
	e.events.BroadcastRunStateChanged(exec.runID, net.Name, "", RunStatusPending, exec.state.CreatedAt)
	e.registerExecution(exec)

	go func() {
		defer e.wg.Done()
		res, err := e.execute(exec, net, ro)
		e.finish(exec, res, err)
	}()
	return exec.runID, nil
}

// join adds a run to the shutdown wait group unless the engine is closed.
func (e *Engine) join() bool {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// finish publishes the outcome to waiters and moves exec to the recent set.
func (e *Engine) finish(exec *runExecution, res *RunResult, err error) {
	exec.mu.Lock()
	exec.result, exec.err = res, err
	exec.mu.Unlock()
	e.retireExecution(exec)
	close(exec.done)
}

// Wait blocks until the submitted run finishes and returns its result. It
// returns a *RunNotActiveError for runs that are unknown or were evicted.
func (e *Engine) Wait(ctx context.Context, runID string) (*RunResult, error) {
	exec, ok := e.getExecution(runID)
	if !ok {
		e.execMu.RLock()
		exec, ok = e.recent[runID]
		e.execMu.RUnlock()
	}
	if !ok {
		return nil, &RunNotActiveError{RunID: runID}
	}
	select {
	case <-exec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return exec.result, exec.err
}

// Cancel cancels an executing run. Its modules see the cancellation at their
// next suspension point.
func (e *Engine) Cancel(runID string) error {
	exec, ok := e.getExecution(runID)
	if !ok {
		return &RunNotActiveError{RunID: runID}
	}
	e.logger.Info("run cancelled by request", "run_id", runID)
	exec.cancel()
	return nil
}

// Active returns the IDs of executing runs.
func (e *Engine) Active() []string {
	e.execMu.RLock()
	defer e.execMu.RUnlock()
	ids := make([]string, 0, len(e.executions))
	for id := range e.executions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Accepting reports whether Submit still takes new runs.
func (e *Engine) Accepting() bool {
	e.execMu.RLock()
	defer e.execMu.RUnlock()
	return !e.closed
}

// Shutdown stops accepting submissions, cancels executing runs and waits for
// them to finish or for ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.execMu.Lock()
	e.closed = true
	for _, exec := range e.executions {
		exec.cancel()
	}
	e.execMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Storage returns the store runs are persisted to.
func (e *Engine) Storage() storage.Storage {
	return e.storage
}

// GetRun returns a persisted run.
func (e *Engine) GetRun(ctx context.Context, id string) (*storage.RunState, error) {
	return e.storage.GetRun(ctx, id)
}

// ListRuns lists persisted runs.
func (e *Engine) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunState, int, error) {
	return e.storage.ListRuns(ctx, filter)
}

// ListTrace lists the recorded signal trace of a run.
func (e *Engine) ListTrace(ctx context.Context, runID string, filter *storage.TraceFilter) ([]*storage.TraceEvent, error) {
	return e.storage.ListTrace(ctx, runID, filter)
}

func (e *Engine) newExecution(ctx context.Context, ro runOptions, net *wiring.Network) *runExecution {
	runCtx, cancel := context.WithCancel(ctx)
	modules := make(map[string]*storage.ModuleState, len(net.Units))
	for _, u := range net.Units {
		modules[u.Module] = &storage.ModuleState{Name: u.Module, Status: ModuleStatePending.String()}
	}
	return &runExecution{
		runID:  ro.id,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		state: &storage.RunState{
			ID:        ro.id,
			Name:      net.Name,
			Status:    RunStatusPending,
			Modules:   modules,
			Metadata:  ro.metadata,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (e *Engine) execute(exec *runExecution, net *wiring.Network, ro runOptions) (*RunResult, error) {
	log := e.logger.With("run_id", exec.runID, "network", net.Name)

	runCtx, cancel := exec.ctx, exec.cancel
	defer cancel()
	timeout, failFast := e.cfg.Timeout, e.cfg.FailFast
	if ro.timeout != nil {
		timeout = *ro.timeout
	}
	if ro.failFast != nil {
		failFast = *ro.failFast
	}
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}

	runCtx, span := runtimeTracer().Start(runCtx, spanSimulationRun, trace.WithAttributes(
		attribute.String("run.id", exec.runID),
		attribute.String("network.name", net.Name),
		attribute.Int("network.modules", len(net.Units)),
	))
	defer span.End()

	names := make([]string, len(net.Units))
	for i, u := range net.Units {
		names[i] = u.Module
	}
	tracker := newStateTracker()
	tracker.InitModules(names)
	tracker.SetOnStateChange(func(module string, _, newState ModuleState, result ModuleResult) {
		if err := e.transitionModule(exec, module, newState, result); err != nil {
			log.Error("failed to persist module transition", "module", module, "error", err)
		}
	})

	result := &RunResult{ID: exec.runID, Name: net.Name, StartedAt: time.Now().UTC()}
	if err := e.transitionRun(exec, RunStatusRunning, ""); err != nil {
		log.Error("failed to persist run start", "error", err)
	}
	log.InfoContext(runCtx, "run started", "modules", len(net.Units))

	sched := newScheduler(tracker, e.metrics, log, failFast)
	runErr := sched.Schedule(runCtx, cancel, net.Units)

	result.EndedAt = time.Now().UTC()
	result.Modules = tracker.Results()
	result.Signals = net.Signals()
	result.Status = runStatus(result.Modules)
	for _, fn := range ro.onFinish {
		fn(result)
	}

	exec.mu.Lock()
	exec.state.Signals = signalStates(result.Signals)
	exec.mu.Unlock()
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := e.transitionRun(exec, result.Status, errMsg); err != nil {
		log.Error("failed to persist run result", "error", err)
	}
	e.metrics.RecordSimulationRun(result.Status, result.Duration())

	span.SetAttributes(attribute.String("run.status", result.Status))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, result.Status)
		log.WarnContext(runCtx, "run finished with errors", "status", result.Status, "duration", result.Duration(), "error", runErr)
	} else {
		log.InfoContext(runCtx, "run finished", "status", result.Status, "duration", result.Duration())
	}
	return result, runErr
}

func runStatus(modules map[string]*ModuleResult) string {
	status := RunStatusCompleted
	for _, m := range modules {
		switch m.State {
		case ModuleStateFailed:
			return RunStatusFailed
		case ModuleStateCancelled:
			status = RunStatusCancelled
		}
	}
	return status
}

func signalStates(infos []wiring.SignalInfo) []storage.SignalState {
	out := make([]storage.SignalState, len(infos))
	for i, s := range infos {
		out[i] = storage.SignalState{
			Name:        s.Name,
			Type:        s.Type,
			Depth:       s.Stats.Depth,
			Writes:      s.Stats.Writes,
			Rejected:    s.Stats.Rejected,
			Lagged:      s.Stats.Lagged,
			Publishers:  s.Stats.Publishers,
			Subscribers: s.Stats.Subscribers,
			Closed:      s.Stats.Closed,
		}
	}
	return out
}

// persist saves the execution's current state. Callers must not hold exec.mu.
func (e *Engine) persist(ctx context.Context, exec *runExecution) error {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return e.storage.SaveRun(ctx, exec.state)
}

func (e *Engine) transitionRun(exec *runExecution, newStatus, errMsg string) error {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	oldStatus := exec.state.Status
	if err := validateRunTransition(oldStatus, newStatus); err != nil {
		return err
	}
	now := time.Now().UTC()
	exec.state.Status = newStatus
	switch {
	case newStatus == RunStatusRunning:
		exec.state.StartedAt = &now
	case isTerminalRunStatus(newStatus):
		exec.state.CompletedAt = &now
		exec.state.Error = errMsg
	}
	if err := e.storage.SaveRun(context.Background(), exec.state); err != nil {
		return err
	}
	if oldStatus != newStatus {
		e.events.BroadcastRunStateChanged(exec.runID, exec.state.Name, oldStatus, newStatus, now)
	}
	return nil
}

func (e *Engine) transitionModule(exec *runExecution, module string, newState ModuleState, result ModuleResult) error {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	ms, ok := exec.state.Modules[module]
	if !ok {
		ms = &storage.ModuleState{Name: module}
		exec.state.Modules[module] = ms
	}
	oldStatus := ms.Status
	ms.Status = newState.String()
	if !result.StartedAt.IsZero() {
		t := result.StartedAt.UTC()
		ms.StartedAt = &t
	}
	if newState.Terminal() {
		t := result.EndedAt.UTC()
		ms.CompletedAt = &t
		if result.Error != nil {
			ms.Error = result.Error.Error()
		}
	}
	if err := e.storage.SaveRun(context.Background(), exec.state); err != nil {
		return err
	}
	e.events.BroadcastModuleStateChanged(exec.runID, module, oldStatus, ms.Status, ms.Error, time.Now().UTC())
	return nil
}
