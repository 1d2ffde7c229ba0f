package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/storage"
)

// TestBadgerStorageSuite runs the full storage test suite against BadgerStorage.
func TestBadgerStorageSuite(t *testing.T) {
	suite := &storage.StorageTestSuite{
		NewStorage: func(t *testing.T) storage.Storage {
			db, err := NewBadgerStorage(&Config{
				Path:              t.TempDir(),
				SyncWrites:        false,
				ValueLogFileSize:  1 << 20,
				NumVersionsToKeep: 1,
				Logger:            logger.NewNop(),
			})
			if err != nil {
				t.Fatalf("Failed to create BadgerStorage: %v", err)
			}
			return db
		},
	}

	suite.RunAllTests(t)
}

func TestBadgerStorageSuite_InMemory(t *testing.T) {
	suite := &storage.StorageTestSuite{
		NewStorage: func(t *testing.T) storage.Storage {
			db, err := NewBadgerStorage(&Config{InMemory: true, Logger: logger.NewNop()})
			if err != nil {
				t.Fatalf("Failed to create BadgerStorage: %v", err)
			}
			return db
		},
	}

	suite.RunAllTests(t)
}

func TestBadgerStorage_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := &Config{Path: dir, SyncWrites: true, Logger: logger.NewNop()}

	db, err := NewBadgerStorage(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	run := &storage.RunState{ID: "r1", Name: "sorter", Status: "completed", CreatedAt: time.Now()}
	if err := db.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = NewBadgerStorage(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, err := db.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun after reopen failed: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestBadgerStorage_Unavailable(t *testing.T) {
	dir := t.TempDir()
	first, err := NewBadgerStorage(&Config{Path: dir, Logger: logger.NewNop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer first.Close()

	// The directory lock is held by the first instance.
	_, err = NewBadgerStorage(&Config{Path: dir, Logger: logger.NewNop()})
	var unavailable *storage.StorageUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected StorageUnavailableError, got %v", err)
	}
}

func TestTraceKeyOrdering(t *testing.T) {
	a, b := string(traceKey("r", 9)), string(traceKey("r", 10))
	if a >= b {
		t.Errorf("trace keys must sort numerically: %q >= %q", a, b)
	}
}
