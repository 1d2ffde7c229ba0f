// Package models defines API request/response data structures.
package models

import (
	"encoding/json"
	"time"

	"github.com/goclaw/simnet/pkg/storage"
)

// SubmitRunRequest starts a simulation run.
type SubmitRunRequest struct {
	// Manifest is an inline network file using the sorter's module kinds.
	// Empty runs the built-in sorter network.
	Manifest string `json:"manifest,omitempty" validate:"max=1048576"`

	// Format is the manifest format.
	Format string `json:"format,omitempty" validate:"omitempty,oneof=yaml yml toml"`

	// Addresses is the coprocessor address of each generated packet.
	Addresses []uint32 `json:"addresses,omitempty" validate:"omitempty,max=100000"`

	// PayloadSize is the number of payload words per packet.
	PayloadSize int `json:"payload_size,omitempty" validate:"omitempty,min=1,max=65536"`

	// Seed makes payloads reproducible.
	Seed int64 `json:"seed,omitempty"`

	// Depth overrides the ring depth of every signal.
	Depth int `json:"depth,omitempty" validate:"omitempty,min=1,max=4096"`

	// FanIn allows several writers per signal.
	FanIn bool `json:"fan_in,omitempty"`

	// Trace records signal values; the server default applies when unset.
	Trace *bool `json:"trace,omitempty"`

	// FailFast cancels the run on its first module failure.
	FailFast *bool `json:"fail_fast,omitempty"`

	// Timeout bounds the run, as a Go duration such as "30s".
	Timeout string `json:"timeout,omitempty"`

	// Metadata holds optional key-value pairs persisted with the run.
	Metadata map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

// SubmitRunResponse acknowledges a submitted run.
type SubmitRunResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RunSummary is one entry of a run listing.
type RunSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ModuleCount int        `json:"module_count"`
	Error       string     `json:"error,omitempty"`
}

// NewRunSummary summarizes a persisted run.
func NewRunSummary(run *storage.RunState) RunSummary {
	return RunSummary{
		ID:          run.ID,
		Name:        run.Name,
		Status:      run.Status,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
		ModuleCount: len(run.Modules),
		Error:       run.Error,
	}
}

// RunListResponse is a page of runs.
type RunListResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// TraceEvent is one recorded signal write.
type TraceEvent struct {
	Index  uint64          `json:"index"`
	Signal string          `json:"signal"`
	Seq    uint64          `json:"seq"`
	Value  json.RawMessage `json:"value"`
	At     time.Time       `json:"at"`
}

// TraceResponse is a page of a run's signal trace.
type TraceResponse struct {
	RunID  string       `json:"run_id"`
	Events []TraceEvent `json:"events"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// NewTraceResponse converts stored events.
func NewTraceResponse(runID string, events []*storage.TraceEvent, limit, offset int) TraceResponse {
	out := TraceResponse{RunID: runID, Events: make([]TraceEvent, 0, len(events)), Limit: limit, Offset: offset}
	for _, ev := range events {
		out.Events = append(out.Events, TraceEvent{
			Index:  ev.Index,
			Signal: ev.Signal,
			Seq:    ev.Seq,
			Value:  ev.Value,
			At:     ev.At,
		})
	}
	return out
}
