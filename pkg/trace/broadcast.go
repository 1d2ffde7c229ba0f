package trace

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/goclaw/simnet/pkg/storage"
	"golang.org/x/time/rate"
)

// Publisher delivers live signal changes, e.g. to websocket clients.
type Publisher interface {
	BroadcastSignalChanged(runID, signal string, seq uint64, value json.RawMessage, at time.Time)
}

// BroadcastSink forwards trace events to a Publisher at a bounded rate.
// Events over the limit are dropped and counted, never queued.
type BroadcastSink struct {
	pub     Publisher
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewBroadcastSink creates a sink allowing perSecond events with the given
// burst. A non-positive perSecond disables the limit.
func NewBroadcastSink(pub Publisher, perSecond float64, burst int) *BroadcastSink {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &BroadcastSink{pub: pub, limiter: rate.NewLimiter(limit, burst)}
}

// Name implements Sink.
func (s *BroadcastSink) Name() string { return "broadcast" }

// Write implements Sink.
func (s *BroadcastSink) Write(_ context.Context, events []*storage.TraceEvent) error {
	for _, ev := range events {
		if !s.limiter.Allow() {
			s.dropped.Add(1)
			metricsRecorder().RecordTraceDropped("rate_limited")
			continue
		}
		s.pub.BroadcastSignalChanged(ev.RunID, ev.Signal, ev.Seq, ev.Value, ev.At)
	}
	return nil
}

// Dropped returns the number of events discarded by the rate limit.
func (s *BroadcastSink) Dropped() uint64 { return s.dropped.Load() }
