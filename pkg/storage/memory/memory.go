// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goclaw/simnet/pkg/storage"
)

// MemoryStorage implements the Storage interface using in-memory maps.
type MemoryStorage struct {
	mu     sync.RWMutex
	runs   map[string]*storage.RunState
	traces map[string][]*storage.TraceEvent // runID -> events ordered by Index
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs:   make(map[string]*storage.RunState),
		traces: make(map[string][]*storage.TraceEvent),
	}
}

// SaveRun creates or replaces a run.
func (m *MemoryStorage) SaveRun(ctx context.Context, run *storage.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (m *MemoryStorage) GetRun(ctx context.Context, id string) (*storage.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[id]
	if !exists {
		return nil, &storage.NotFoundError{EntityType: "run", ID: id}
	}
	return run.Clone(), nil
}

// ListRuns lists runs ordered by creation time, with optional status
// filtering and pagination. The second result is the filtered total.
func (m *MemoryStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunState, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*storage.RunState
	for _, run := range m.runs {
		if filter.Matches(run) {
			filtered = append(filtered, run)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	total := len(filtered)
	if filter != nil {
		start, end := storage.Page(total, filter.Offset, filter.Limit)
		filtered = filtered[start:end]
	}

	result := make([]*storage.RunState, len(filtered))
	for i, run := range filtered {
		result[i] = run.Clone()
	}
	return result, total, nil
}

// DeleteRun deletes a run and its trace.
func (m *MemoryStorage) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[id]; !exists {
		return &storage.NotFoundError{EntityType: "run", ID: id}
	}
	delete(m.runs, id)
	delete(m.traces, id)
	return nil
}

// AppendTrace stores trace events. Events may belong to different runs.
func (m *MemoryStorage) AppendTrace(ctx context.Context, events []*storage.TraceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[string]bool)
	for _, ev := range events {
		copied := *ev
		copied.Value = append([]byte(nil), ev.Value...)
		list := m.traces[ev.RunID]
		if n := len(list); n > 0 && list[n-1].Index > ev.Index {
			touched[ev.RunID] = true
		}
		m.traces[ev.RunID] = append(list, &copied)
	}
	for runID := range touched {
		list := m.traces[runID]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	}
	return nil
}

// ListTrace returns the trace of a run in index order.
func (m *MemoryStorage) ListTrace(ctx context.Context, runID string, filter *storage.TraceFilter) ([]*storage.TraceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*storage.TraceEvent
	for _, ev := range m.traces[runID] {
		if filter != nil && filter.Signal != "" && ev.Signal != filter.Signal {
			continue
		}
		matched = append(matched, ev)
	}
	if filter != nil {
		start, end := storage.Page(len(matched), filter.Offset, filter.Limit)
		matched = matched[start:end]
	}

	result := make([]*storage.TraceEvent, len(matched))
	for i, ev := range matched {
		copied := *ev
		result[i] = &copied
	}
	return result, nil
}

// Close closes the storage (no-op for memory storage).
func (m *MemoryStorage) Close() error {
	return nil
}
