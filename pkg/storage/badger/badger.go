// Package badger provides a Badger-based implementation of the storage interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	// InMemory runs badger without touching disk; Path is ignored.
	InMemory bool
	Logger   logger.Logger
}

// BadgerStorage implements the Storage interface using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
}

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	l := config.Logger
	if l == nil {
		l = logger.Global()
	}
	opts.Logger = badgerLogger{l.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

// badgerLogger routes badger's printf-style logging into the structured logger.
type badgerLogger struct{ l logger.Logger }

func (b badgerLogger) Errorf(f string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
func (b badgerLogger) Warningf(f string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
func (b badgerLogger) Infof(f string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
func (b badgerLogger) Debugf(f string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)))
}

const (
	runPrefix   = "run:"
	tracePrefix = "trace:"
)

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// Trace keys sort by index within a run.
func traceKey(runID string, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", tracePrefix, runID, index))
}

func runTracePrefix(runID string) []byte {
	return []byte(tracePrefix + runID + ":")
}

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

// SaveRun creates or replaces a run.
func (b *BadgerStorage) SaveRun(ctx context.Context, run *storage.RunState) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	data, err := serialize(run)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
}

// GetRun retrieves a run by ID.
func (b *BadgerStorage) GetRun(ctx context.Context, id string) (*storage.RunState, error) {
	var run *storage.RunState
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = getRunInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func getRunInTxn(txn *badger.Txn, id string) (*storage.RunState, error) {
	item, err := txn.Get(runKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &storage.NotFoundError{EntityType: "run", ID: id}
		}
		return nil, err
	}
	var run storage.RunState
	if err := item.Value(func(val []byte) error { return deserialize(val, &run) }); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns lists runs ordered by creation time, with optional status
// filtering and pagination. The second result is the filtered total.
func (b *BadgerStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunState, int, error) {
	var runs []*storage.RunState

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var run storage.RunState
			if err := it.Item().Value(func(val []byte) error { return deserialize(val, &run) }); err != nil {
				return err
			}
			if filter.Matches(&run) {
				runs = append(runs, &run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	total := len(runs)
	if filter != nil {
		start, end := storage.Page(total, filter.Offset, filter.Limit)
		runs = runs[start:end]
	}
	return runs, total, nil
}

// DeleteRun deletes a run and its trace.
func (b *BadgerStorage) DeleteRun(ctx context.Context, id string) error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := getRunInTxn(txn, id); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runTracePrefix(id)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	if err := wb.Delete(runKey(id)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// AppendTrace stores trace events in a single write batch.
func (b *BadgerStorage) AppendTrace(ctx context.Context, events []*storage.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, ev := range events {
		data, err := serialize(ev)
		if err != nil {
			return err
		}
		if err := wb.Set(traceKey(ev.RunID, ev.Index), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// ListTrace returns the trace of a run in index order.
func (b *BadgerStorage) ListTrace(ctx context.Context, runID string, filter *storage.TraceFilter) ([]*storage.TraceEvent, error) {
	var events []*storage.TraceEvent
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runTracePrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev storage.TraceEvent
			if err := it.Item().Value(func(val []byte) error { return deserialize(val, &ev) }); err != nil {
				return err
			}
			if filter != nil && filter.Signal != "" && ev.Signal != filter.Signal {
				continue
			}
			events = append(events, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if filter != nil {
		start, end := storage.Page(len(events), filter.Offset, filter.Limit)
		events = events[start:end]
	}
	return events, nil
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	if !b.config.InMemory {
		_ = b.db.RunValueLogGC(0.5)
	}
	return b.db.Close()
}
