package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goclaw/simnet/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultStreamPrefix prefixes the redis stream of every run.
const DefaultStreamPrefix = "simnet:trace:"

// RedisSink appends trace events to one redis stream per run.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

// NewRedisSink creates a redis stream sink. A positive maxLen trims each
// stream to approximately that many entries.
func NewRedisSink(client redis.UniversalClient, prefix string, maxLen int64) *RedisSink {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &RedisSink{client: client, prefix: prefix, maxLen: maxLen}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Stream returns the stream key of runID.
func (s *RedisSink) Stream(runID string) string { return s.prefix + runID }

// Write implements Sink. The batch is sent in a single pipeline.
func (s *RedisSink) Write(ctx context.Context, events []*storage.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, ev := range events {
		args := &redis.XAddArgs{
			Stream: s.Stream(ev.RunID),
			Values: map[string]any{
				"index":  ev.Index,
				"signal": ev.Signal,
				"seq":    ev.Seq,
				"value":  string(ev.Value),
				"at":     ev.At.Format(time.RFC3339Nano),
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis trace append: %w", err)
	}
	return nil
}

// Events reads back the recorded stream of runID, oldest first. count
// limits the result when positive.
func (s *RedisSink) Events(ctx context.Context, runID string, count int64) ([]*storage.TraceEvent, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, s.Stream(runID), "-", "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, s.Stream(runID), "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis trace range: %w", err)
	}
	out := make([]*storage.TraceEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeStreamEntry(runID, m.Values)
		if err != nil {
			return nil, &storage.SerializationError{Operation: "decode trace entry " + m.ID, Cause: err}
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeStreamEntry(runID string, values map[string]any) (*storage.TraceEvent, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	index, err := strconv.ParseUint(str("index"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	seq, err := strconv.ParseUint(str("seq"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("seq: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, str("at"))
	if err != nil {
		return nil, fmt.Errorf("at: %w", err)
	}
	value := str("value")
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("value: invalid json")
	}
	return &storage.TraceEvent{
		RunID:  runID,
		Index:  index,
		Signal: str("signal"),
		Seq:    seq,
		Value:  json.RawMessage(value),
		At:     at,
	}, nil
}
