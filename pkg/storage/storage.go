// Package storage provides persistent storage for simulation runs and their
// signal traces.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Storage defines the interface for persistent storage operations.
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *RunState) error
	GetRun(ctx context.Context, id string) (*RunState, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*RunState, int, error)
	DeleteRun(ctx context.Context, id string) error

	// Trace operations
	AppendTrace(ctx context.Context, events []*TraceEvent) error
	ListTrace(ctx context.Context, runID string, filter *TraceFilter) ([]*TraceEvent, error)

	// Lifecycle
	Close() error
}

// RunState represents the persisted state of a simulation run.
type RunState struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Status      string                  `json:"status"`
	Modules     map[string]*ModuleState `json:"modules"`
	Signals     []SignalState           `json:"signals,omitempty"`
	Metadata    map[string]string       `json:"metadata,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Clone returns a deep copy of r.
func (r *RunState) Clone() *RunState {
	if r == nil {
		return nil
	}
	c := *r
	if r.Modules != nil {
		c.Modules = make(map[string]*ModuleState, len(r.Modules))
		for k, v := range r.Modules {
			m := *v
			c.Modules[k] = &m
		}
	}
	if r.Signals != nil {
		c.Signals = append([]SignalState(nil), r.Signals...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ModuleState represents the persisted state of one module in a run.
type ModuleState struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SignalState is a snapshot of a signal's counters at the end of a run.
type SignalState struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Depth       int    `json:"depth"`
	Writes      uint64 `json:"writes"`
	Rejected    uint64 `json:"rejected"`
	Lagged      uint64 `json:"lagged"`
	Publishers  int    `json:"publishers"`
	Subscribers int    `json:"subscribers"`
	Closed      bool   `json:"closed"`
}

// TraceEvent is one accepted write on a signal.
type TraceEvent struct {
	RunID  string          `json:"run_id"`
	Index  uint64          `json:"index"`
	Signal string          `json:"signal"`
	Seq    uint64          `json:"seq"`
	Value  json.RawMessage `json:"value"`
	At     time.Time       `json:"at"`
}

// RunFilter defines filtering options for listing runs.
type RunFilter struct {
	Status []string `json:"status,omitempty"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// TraceFilter defines filtering options for listing trace events.
type TraceFilter struct {
	Signal string `json:"signal,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Matches reports whether run passes the status filter.
func (f *RunFilter) Matches(run *RunState) bool {
	if f == nil || len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if s == run.Status {
			return true
		}
	}
	return false
}

// Page returns the [start, end) bounds for a result set of size n.
func Page(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }
