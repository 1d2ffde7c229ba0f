package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// StorageTestSuite defines a test suite that can be run against any Storage implementation.
type StorageTestSuite struct {
	NewStorage func(t *testing.T) Storage
}

// RunAllTests runs all storage tests against the provided storage implementation.
func (s *StorageTestSuite) RunAllTests(t *testing.T) {
	t.Run("RunCRUD", s.TestRunCRUD)
	t.Run("ListRunsWithFilter", s.TestListRunsWithFilter)
	t.Run("ListRunsWithPagination", s.TestListRunsWithPagination)
	t.Run("TraceAppendAndList", s.TestTraceAppendAndList)
	t.Run("DeleteRunCascade", s.TestDeleteRunCascade)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("RunNotFound", s.TestRunNotFound)
}

func testRun(id, status string, created time.Time) *RunState {
	return &RunState{
		ID:     id,
		Name:   "sorter",
		Status: status,
		Modules: map[string]*ModuleState{
			"gen": {Name: "gen", Status: "pending"},
			"ic":  {Name: "ic", Status: "pending"},
		},
		CreatedAt: created,
	}
}

// TestRunCRUD tests basic run CRUD operations.
func (s *StorageTestSuite) TestRunCRUD(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	run := testRun("run-1", "pending", time.Now())
	run.Metadata = map[string]string{"manifest": "sorter.yaml"}

	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	retrieved, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if retrieved.Name != "sorter" || retrieved.Status != "pending" {
		t.Errorf("unexpected run %+v", retrieved)
	}
	if len(retrieved.Modules) != 2 || retrieved.Modules["ic"].Status != "pending" {
		t.Errorf("modules not persisted: %+v", retrieved.Modules)
	}
	if retrieved.Metadata["manifest"] != "sorter.yaml" {
		t.Errorf("metadata not persisted: %+v", retrieved.Metadata)
	}

	// Mutating the returned copy must not leak into the store.
	retrieved.Modules["gen"].Status = "running"
	again, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if again.Modules["gen"].Status != "pending" {
		t.Error("returned run aliases stored state")
	}

	now := time.Now()
	retrieved.Status = "completed"
	retrieved.CompletedAt = &now
	retrieved.Signals = []SignalState{{Name: "pro_to_ic", Type: "Packet", Depth: 1, Writes: 4, Closed: true}}
	if err := store.SaveRun(ctx, retrieved); err != nil {
		t.Fatalf("SaveRun (update) failed: %v", err)
	}

	updated, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun (after update) failed: %v", err)
	}
	if updated.Status != "completed" || updated.CompletedAt == nil {
		t.Errorf("update not persisted: %+v", updated)
	}
	if len(updated.Signals) != 1 || updated.Signals[0].Writes != 4 {
		t.Errorf("signals not persisted: %+v", updated.Signals)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); err == nil {
		t.Error("expected error when getting deleted run")
	}
}

// TestListRunsWithFilter tests run listing with a status filter.
func (s *StorageTestSuite) TestListRunsWithFilter(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now()
	for i, status := range []string{"pending", "running", "completed", "failed"} {
		run := testRun(fmt.Sprintf("run-%d", i), status, base.Add(time.Duration(i)*time.Second))
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, total, err := store.ListRuns(ctx, &RunFilter{Status: []string{"completed", "failed"}})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 2 || len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d (total %d)", len(runs), total)
	}
	if runs[0].ID != "run-2" || runs[1].ID != "run-3" {
		t.Errorf("expected creation order, got %s, %s", runs[0].ID, runs[1].ID)
	}

	all, total, err := store.ListRuns(ctx, nil)
	if err != nil {
		t.Fatalf("ListRuns(nil) failed: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Errorf("expected 4 runs, got %d (total %d)", len(all), total)
	}
}

// TestListRunsWithPagination tests run listing with pagination.
func (s *StorageTestSuite) TestListRunsWithPagination(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 10; i++ {
		run := testRun(fmt.Sprintf("run-%02d", i), "completed", base.Add(time.Duration(i)*time.Millisecond))
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	filter := &RunFilter{Limit: 3}
	runs, total, err := store.ListRuns(ctx, filter)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 10 || len(runs) != 3 {
		t.Fatalf("expected 3 of 10 runs, got %d of %d", len(runs), total)
	}
	if runs[0].ID != "run-00" {
		t.Errorf("expected first page to start at run-00, got %s", runs[0].ID)
	}

	filter.Offset = 9
	runs, _, err = store.ListRuns(ctx, filter)
	if err != nil {
		t.Fatalf("ListRuns (last page) failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-09" {
		t.Errorf("expected last page [run-09], got %d runs", len(runs))
	}

	filter.Offset = 20
	runs, _, err = store.ListRuns(ctx, filter)
	if err != nil {
		t.Fatalf("ListRuns (past end) failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty page past end, got %d", len(runs))
	}
}

func traceEvents(runID string, from, to uint64) []*TraceEvent {
	var out []*TraceEvent
	for i := from; i < to; i++ {
		sig := "pro_to_ic"
		if i%2 == 1 {
			sig = "ic_to_pro"
		}
		out = append(out, &TraceEvent{
			RunID:  runID,
			Index:  i,
			Signal: sig,
			Seq:    i / 2,
			Value:  json.RawMessage(fmt.Sprintf(`{"id":%d}`, i)),
			At:     time.Now(),
		})
	}
	return out
}

// TestTraceAppendAndList tests trace persistence, ordering and filtering.
func (s *StorageTestSuite) TestTraceAppendAndList(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, testRun("run-t", "running", time.Now())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.AppendTrace(ctx, traceEvents("run-t", 4, 8)); err != nil {
		t.Fatalf("AppendTrace failed: %v", err)
	}
	if err := store.AppendTrace(ctx, traceEvents("run-t", 0, 4)); err != nil {
		t.Fatalf("AppendTrace failed: %v", err)
	}
	if err := store.AppendTrace(ctx, traceEvents("other", 0, 3)); err != nil {
		t.Fatalf("AppendTrace failed: %v", err)
	}

	events, err := store.ListTrace(ctx, "run-t", nil)
	if err != nil {
		t.Fatalf("ListTrace failed: %v", err)
	}
	if len(events) != 8 {
		t.Fatalf("expected 8 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Index != uint64(i) {
			t.Errorf("event %d has index %d", i, ev.Index)
		}
	}
	if string(events[5].Value) != `{"id":5}` {
		t.Errorf("unexpected value %s", events[5].Value)
	}

	filtered, err := store.ListTrace(ctx, "run-t", &TraceFilter{Signal: "ic_to_pro", Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListTrace (filtered) failed: %v", err)
	}
	if len(filtered) != 2 || filtered[0].Index != 3 || filtered[1].Index != 5 {
		t.Errorf("unexpected filtered trace %+v", filtered)
	}

	none, err := store.ListTrace(ctx, "missing", nil)
	if err != nil {
		t.Fatalf("ListTrace (missing) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty trace, got %d", len(none))
	}
}

// TestDeleteRunCascade tests that deleting a run also deletes its trace.
func (s *StorageTestSuite) TestDeleteRunCascade(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b"} {
		if err := store.SaveRun(ctx, testRun(id, "completed", time.Now())); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		if err := store.AppendTrace(ctx, traceEvents(id, 0, 5)); err != nil {
			t.Fatalf("AppendTrace failed: %v", err)
		}
	}

	if err := store.DeleteRun(ctx, "run-a"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	events, err := store.ListTrace(ctx, "run-a", nil)
	if err != nil {
		t.Fatalf("ListTrace failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected trace of deleted run to be gone, got %d events", len(events))
	}
	events, err = store.ListTrace(ctx, "run-b", nil)
	if err != nil {
		t.Fatalf("ListTrace failed: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("expected untouched trace of run-b, got %d events", len(events))
	}
}

// TestConcurrentAccess tests concurrent read/write operations.
func (s *StorageTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, testRun("run-c", "running", time.Now())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			retrieved, err := store.GetRun(ctx, "run-c")
			if err != nil {
				errs <- err
				return
			}
			retrieved.Metadata = map[string]string{"iteration": fmt.Sprint(idx)}
			if err := store.SaveRun(ctx, retrieved); err != nil {
				errs <- err
			}
		}(i)
		go func(idx int) {
			defer wg.Done()
			if err := store.AppendTrace(ctx, traceEvents("run-c", uint64(idx*10), uint64(idx*10+10))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	events, err := store.ListTrace(ctx, "run-c", nil)
	if err != nil {
		t.Fatalf("ListTrace failed: %v", err)
	}
	if len(events) != 100 {
		t.Errorf("expected 100 trace events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Index != uint64(i) {
			t.Fatalf("trace out of order at %d: index %d", i, ev.Index)
		}
	}
}

// TestRunNotFound tests NotFoundError for runs.
func (s *StorageTestSuite) TestRunNotFound(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing-run")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.EntityType != "run" || nf.ID != "missing-run" {
		t.Errorf("unexpected NotFoundError %+v", nf)
	}

	if err := store.DeleteRun(ctx, "missing-run"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError from DeleteRun, got %v", err)
	}
}
