package engine

import (
	"sync"
	"time"
)

// ModuleState represents the execution state of a module.
type ModuleState int

const (
	ModuleStatePending ModuleState = iota
	ModuleStateRunning
	ModuleStateCompleted
	ModuleStateFailed
	ModuleStateCancelled
)

// String returns the string representation of ModuleState.
func (s ModuleState) String() string {
	switch s {
	case ModuleStatePending:
		return "pending"
	case ModuleStateRunning:
		return "running"
	case ModuleStateCompleted:
		return "completed"
	case ModuleStateFailed:
		return "failed"
	case ModuleStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s ModuleState) Terminal() bool {
	return s == ModuleStateCompleted || s == ModuleStateFailed || s == ModuleStateCancelled
}

// ModuleResult holds the execution result of a single module.
type ModuleResult struct {
	Module    string
	State     ModuleState
	Error     error
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns how long the module ran.
func (r *ModuleResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// StateChangeFunc is called after every module state change.
type StateChangeFunc func(module string, oldState, newState ModuleState, result ModuleResult)

// StateTracker tracks the state of all modules in a run.
type StateTracker struct {
	mu       sync.RWMutex
	results  map[string]*ModuleResult
	onChange StateChangeFunc
}

func newStateTracker() *StateTracker {
	return &StateTracker{
		results: make(map[string]*ModuleResult),
	}
}

// InitModules initialises all given modules to ModuleStatePending.
func (t *StateTracker) InitModules(modules []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range modules {
		t.results[m] = &ModuleResult{Module: m, State: ModuleStatePending}
	}
}

// SetOnStateChange installs fn as the state change callback. It is invoked
// outside the tracker's lock.
func (t *StateTracker) SetOnStateChange(fn StateChangeFunc) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// SetState updates the state of a module.
func (t *StateTracker) SetState(module string, state ModuleState) {
	t.set(module, state, nil)
}

// SetFinished marks a module terminal with the given error.
func (t *StateTracker) SetFinished(module string, state ModuleState, err error) {
	t.set(module, state, err)
}

func (t *StateTracker) set(module string, state ModuleState, err error) {
	t.mu.Lock()
	r, ok := t.results[module]
	if !ok {
		r = &ModuleResult{Module: module}
		t.results[module] = r
	}
	old := r.State
	r.State = state
	switch {
	case state == ModuleStateRunning:
		r.StartedAt = time.Now()
	case state.Terminal():
		r.EndedAt = time.Now()
		r.Error = err
	}
	snapshot := *r
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil && old != state {
		fn(module, old, state, snapshot)
	}
}

// GetResult returns a copy of the ModuleResult for the given module.
func (t *StateTracker) GetResult(module string) (*ModuleResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.results[module]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// Results returns a snapshot of all module results.
func (t *StateTracker) Results() map[string]*ModuleResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*ModuleResult, len(t.results))
	for k, v := range t.results {
		copied := *v
		out[k] = &copied
	}
	return out
}
