// Package trace records the values written to a network's signals and
// forwards them to sinks: persistent storage, redis streams or live
// subscribers.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/storage"
)

// Sink receives batches of trace events in recording order.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []*storage.TraceEvent) error
}

// Config tunes a Recorder.
type Config struct {
	// BufferSize bounds the intake queue; writes beyond it are dropped.
	BufferSize int
	// BatchSize is the largest batch handed to a sink.
	BatchSize int
	// FlushInterval flushes a partial batch.
	FlushInterval time.Duration
	// WriteTimeout bounds a single sink write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    4096,
		BatchSize:     256,
		FlushInterval: 100 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Recorder is a signal observer that records every accepted write of a run.
// Observe never blocks: when the intake queue is full the event is dropped
// and counted.
type Recorder struct {
	runID  string
	cfg    Config
	sinks  []Sink
	logger logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *storage.TraceEvent
	done   chan struct{}

	next     uint64
	recorded atomic.Uint64
	dropped  atomic.Uint64
	errs     []error
}

// NewRecorder starts a recorder for runID writing to sinks.
func NewRecorder(runID string, cfg Config, log logger.Logger, sinks ...Sink) *Recorder {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Global()
	}
	r := &Recorder{
		runID:  runID,
		cfg:    cfg,
		sinks:  sinks,
		logger: log.With("run_id", runID, "component", "trace"),
		queue:  make(chan *storage.TraceEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// RunID returns the run the recorder belongs to.
func (r *Recorder) RunID() string { return r.runID }

// Observe implements signal.Observer.
func (r *Recorder) Observe(signal string, seq uint64, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		r.drop("encode_failed")
		return
	}
	ev := &storage.TraceEvent{
		RunID:  r.runID,
		Signal: signal,
		Seq:    seq,
		Value:  data,
		At:     time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop("recorder_closed")
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.drop("buffer_full")
	}
}

func (r *Recorder) drop(reason string) {
	r.dropped.Add(1)
	metricsRecorder().RecordTraceDropped(reason)
}

// Recorded returns the number of events at least one sink accepted.
func (r *Recorder) Recorded() uint64 { return r.recorded.Load() }

// Dropped returns the number of events lost to a full buffer, encoding
// failures or writes after Close.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close stops intake, flushes every queued event and returns the sink errors
// seen over the recorder's lifetime.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	if n := r.Dropped(); n > 0 {
		r.logger.Warn("trace events dropped", "dropped", n)
	}
	return errors.Join(r.errs...)
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*storage.TraceEvent, 0, r.cfg.BatchSize)
	for {
		select {
		case ev, ok := <-r.queue:
			if !ok {
				r.flush(batch)
				return
			}
			ev.Index = r.next
			r.next++
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = make([]*storage.TraceEvent, 0, r.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]*storage.TraceEvent, 0, r.cfg.BatchSize)
			}
		}
	}
}

func (r *Recorder) flush(batch []*storage.TraceEvent) {
	if len(batch) == 0 {
		return
	}
	accepted := false
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
		start := time.Now()
		err := s.Write(ctx, batch)
		cancel()
		metricsRecorder().RecordTraceFlush(s.Name(), len(batch), time.Since(start), err)
		if err != nil {
			r.logger.Error("trace sink write failed", "sink", s.Name(), "events", len(batch), "error", err)
			r.errs = append(r.errs, err)
			continue
		}
		accepted = true
	}
	if accepted {
		r.recorded.Add(uint64(len(batch)))
	}
}

// StorageSink appends trace events to a run store.
type StorageSink struct {
	store storage.Storage
}

// NewStorageSink creates a sink writing to store.
func NewStorageSink(store storage.Storage) *StorageSink {
	return &StorageSink{store: store}
}

// Name implements Sink.
func (s *StorageSink) Name() string { return "storage" }

// Write implements Sink.
func (s *StorageSink) Write(ctx context.Context, events []*storage.TraceEvent) error {
	return s.store.AppendTrace(ctx, events)
}
