package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goclaw/simnet/pkg/signal"
)

func TestModuleState_String(t *testing.T) {
	tests := []struct {
		state ModuleState
		want  string
	}{
		{ModuleStatePending, "pending"},
		{ModuleStateRunning, "running"},
		{ModuleStateCompleted, "completed"},
		{ModuleStateFailed, "failed"},
		{ModuleStateCancelled, "cancelled"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if ModuleStateRunning.Terminal() || !ModuleStateCancelled.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}

func TestStateTracker_Transitions(t *testing.T) {
	tracker := newStateTracker()
	tracker.InitModules([]string{"a", "b"})

	type change struct {
		module   string
		old, new ModuleState
	}
	var changes []change
	tracker.SetOnStateChange(func(module string, oldState, newState ModuleState, _ ModuleResult) {
		changes = append(changes, change{module, oldState, newState})
	})

	tracker.SetState("a", ModuleStateRunning)
	tracker.SetState("a", ModuleStateRunning)
	boom := errors.New("boom")
	tracker.SetFinished("a", ModuleStateFailed, boom)

	if len(changes) != 2 {
		t.Fatalf("expected 2 callbacks, got %+v", changes)
	}
	if changes[1] != (change{"a", ModuleStateRunning, ModuleStateFailed}) {
		t.Errorf("unexpected change %+v", changes[1])
	}

	r, ok := tracker.GetResult("a")
	if !ok || r.Error != boom || r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		t.Fatalf("unexpected result %+v", r)
	}
	r.State = ModuleStateCompleted
	if again, _ := tracker.GetResult("a"); again.State != ModuleStateFailed {
		t.Error("GetResult must return a copy")
	}
	if b, _ := tracker.GetResult("b"); b.State != ModuleStatePending {
		t.Errorf("b state = %v", b.State)
	}
	if _, ok := tracker.GetResult("missing"); ok {
		t.Error("expected missing module to be absent")
	}
	if len(tracker.Results()) != 2 {
		t.Errorf("Results() = %v", tracker.Results())
	}
}

func TestClassify(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		err   error
		state ModuleState
		wrap  bool
	}{
		{"nil", live, nil, ModuleStateCompleted, false},
		{"closed input", live, fmt.Errorf("read: %w", signal.ErrClosed), ModuleStateCompleted, false},
		{"cancelled", done, context.Canceled, ModuleStateCancelled, true},
		{"canceled without cancellation", live, context.Canceled, ModuleStateFailed, true},
		{"failure", live, errors.New("x"), ModuleStateFailed, true},
		{"panic", live, &ModulePanicError{Module: "m", Value: 1}, ModuleStateFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := classify(tt.ctx, "m", tt.err)
			if state != tt.state {
				t.Errorf("state = %v, want %v", state, tt.state)
			}
			var me *ModuleError
			if got := errors.As(err, &me); got != tt.wrap {
				t.Errorf("wrapped in ModuleError = %v, want %v (err %v)", got, tt.wrap, err)
			}
		})
	}
}

func TestValidateRunTransition(t *testing.T) {
	valid := [][2]string{
		{"", RunStatusPending},
		{RunStatusPending, RunStatusRunning},
		{RunStatusPending, RunStatusCancelled},
		{RunStatusRunning, RunStatusCompleted},
		{RunStatusRunning, RunStatusRunning},
	}
	for _, tr := range valid {
		if err := validateRunTransition(tr[0], tr[1]); err != nil {
			t.Errorf("%s -> %s: %v", tr[0], tr[1], err)
		}
	}
	invalid := [][2]string{
		{RunStatusPending, RunStatusCompleted},
		{RunStatusCompleted, RunStatusRunning},
		{RunStatusFailed, RunStatusCancelled},
	}
	for _, tr := range invalid {
		if err := validateRunTransition(tr[0], tr[1]); err == nil {
			t.Errorf("%s -> %s: expected error", tr[0], tr[1])
		}
	}
}

func TestRunStatus(t *testing.T) {
	mods := func(states ...ModuleState) map[string]*ModuleResult {
		out := make(map[string]*ModuleResult)
		for i, s := range states {
			out[fmt.Sprint(i)] = &ModuleResult{State: s}
		}
		return out
	}
	if got := runStatus(mods(ModuleStateCompleted, ModuleStateCompleted)); got != RunStatusCompleted {
		t.Errorf("got %s", got)
	}
	if got := runStatus(mods(ModuleStateCancelled, ModuleStateCompleted)); got != RunStatusCancelled {
		t.Errorf("got %s", got)
	}
	if got := runStatus(mods(ModuleStateCancelled, ModuleStateFailed)); got != RunStatusFailed {
		t.Errorf("got %s", got)
	}
}
