// Package events fans run, module, and signal events out to in-process
// subscribers such as websocket clients.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeRunStateChanged    = "run.state_changed"
	TypeModuleStateChanged = "module.state_changed"
	TypeSignalChanged      = "signal.changed"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	dropped     atomic.Uint64
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Broadcast broadcasts a generic event to all subscribers. Slow subscribers
// miss events instead of stalling the sender.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sending under the read lock keeps Unsubscribe from closing a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// BroadcastRunStateChanged emits a run state change event.
func (b *Broadcaster) BroadcastRunStateChanged(runID, name, oldState, newState string, updatedAt time.Time) {
	b.Broadcast(Event{
		Type:  TypeRunStateChanged,
		RunID: runID,
		Payload: map[string]any{
			"name":       name,
			"old_state":  oldState,
			"new_state":  newState,
			"updated_at": updatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// BroadcastModuleStateChanged emits a module state change event.
func (b *Broadcaster) BroadcastModuleStateChanged(runID, module, oldState, newState, errorMessage string, updatedAt time.Time) {
	payload := map[string]any{
		"module":     module,
		"old_state":  oldState,
		"new_state":  newState,
		"updated_at": updatedAt.UTC().Format(time.RFC3339Nano),
	}
	if errorMessage != "" {
		payload["error"] = errorMessage
	}

	b.Broadcast(Event{
		Type:    TypeModuleStateChanged,
		RunID:   runID,
		Payload: payload,
	})
}

// BroadcastSignalChanged emits an accepted signal write.
func (b *Broadcaster) BroadcastSignalChanged(runID, signal string, seq uint64, value json.RawMessage, at time.Time) {
	b.Broadcast(Event{
		Type:      TypeSignalChanged,
		RunID:     runID,
		Timestamp: at.UTC(),
		Payload: map[string]any{
			"signal": signal,
			"seq":    seq,
			"value":  value,
		},
	})
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
