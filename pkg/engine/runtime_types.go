package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goclaw/simnet/pkg/storage"
)

// Run statuses as persisted and broadcast.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// MetricsRecorder records engine metrics.
type MetricsRecorder interface {
	RecordSimulationRun(status string, duration time.Duration)
	RecordModuleRun(module, status string, duration time.Duration)
	IncActiveModules()
	DecActiveModules()
}

type nopMetrics struct{}

func (nopMetrics) RecordSimulationRun(string, time.Duration)     {}
func (nopMetrics) RecordModuleRun(string, string, time.Duration) {}
func (nopMetrics) IncActiveModules()                             {}
func (nopMetrics) DecActiveModules()                             {}

// EventBroadcaster receives run and module state changes.
type EventBroadcaster interface {
	BroadcastRunStateChanged(runID, name, oldState, newState string, updatedAt time.Time)
	BroadcastModuleStateChanged(runID, module, oldState, newState, errorMessage string, updatedAt time.Time)
}

type nopEvents struct{}

func (nopEvents) BroadcastRunStateChanged(string, string, string, string, time.Time) {}

func (nopEvents) BroadcastModuleStateChanged(string, string, string, string, string, time.Time) {}

type runExecution struct {
	runID  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	state  *storage.RunState
	result *RunResult
	err    error
}

var allowedRunTransitions = map[string]map[string]struct{}{
	RunStatusPending: {
		RunStatusRunning:   {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
	RunStatusRunning: {
		RunStatusCompleted: {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
}

func isTerminalRunStatus(status string) bool {
	return status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled
}

func validateRunTransition(oldStatus, newStatus string) error {
	if oldStatus == "" && newStatus == RunStatusPending {
		return nil
	}
	if oldStatus == newStatus {
		return nil
	}
	if isTerminalRunStatus(oldStatus) {
		return fmt.Errorf("illegal run transition %q -> %q: terminal state is immutable", oldStatus, newStatus)
	}
	if _, ok := allowedRunTransitions[oldStatus][newStatus]; !ok {
		return fmt.Errorf("illegal run transition %q -> %q", oldStatus, newStatus)
	}
	return nil
}

// registerExecution makes exec visible to Cancel, Wait and Shutdown. A run
// registered after Shutdown began is cancelled at once.
func (e *Engine) registerExecution(exec *runExecution) {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	e.executions[exec.runID] = exec
	if e.closed {
		exec.cancel()
	}
}

func (e *Engine) getExecution(runID string) (*runExecution, bool) {
	e.execMu.RLock()
	defer e.execMu.RUnlock()
	exec, ok := e.executions[runID]
	return exec, ok
}

// retireExecution moves a finished run to the bounded recent set.
func (e *Engine) retireExecution(exec *runExecution) {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	delete(e.executions, exec.runID)
	e.recent[exec.runID] = exec
	e.recentIDs = append(e.recentIDs, exec.runID)
	for len(e.recentIDs) > retainFinished {
		delete(e.recent, e.recentIDs[0])
		e.recentIDs = e.recentIDs[1:]
	}
}
