package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/port"
	"github.com/goclaw/simnet/pkg/storage/memory"
	"github.com/goclaw/simnet/pkg/wiring"
)

func testEngine(cfg Config, opts ...Option) *Engine {
	return New(cfg, append([]Option{WithLogger(logger.NewNop())}, opts...)...)
}

func source(values ...int) wiring.Process {
	return func(ctx context.Context, ps *wiring.PortSet) error {
		out := wiring.MustOut[int](ps, "out")
		for _, v := range values {
			if err := out.Write(v); err != nil {
				return err
			}
		}
		return nil
	}
}

func relay(ctx context.Context, ps *wiring.PortSet) error {
	in := wiring.MustIn[int](ps, "in")
	out := wiring.MustOut[int](ps, "out")
	for {
		v, err := in.BRead(ctx)
		if err != nil {
			return err
		}
		if err := out.Write(v * 10); err != nil {
			return err
		}
	}
}

type collector struct {
	mu  sync.Mutex
	got []int
}

func (c *collector) sink(ctx context.Context, ps *wiring.PortSet) error {
	in := wiring.MustIn[int](ps, "in")
	for {
		v, err := in.BRead(ctx)
		if errors.Is(err, port.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.got = append(c.got, v)
		c.mu.Unlock()
	}
}

func blocker(ctx context.Context, ps *wiring.PortSet) error {
	<-ctx.Done()
	return ctx.Err()
}

func chain(t *testing.T, src, mid, dst wiring.Process) *wiring.Network {
	t.Helper()
	b := wiring.NewBuilder("chain", nil, wiring.WithDepth(16), wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.AddModule("src", "out -> int", src))
	mustOK(t, b.AddModule("mid", "in <- int, out -> int", mid))
	mustOK(t, b.AddModule("dst", "in <- int", dst))
	mustOK(t, b.Connect("src.out -> a; mid.in <- a; mid.out -> b; dst.in <- b"))
	net, err := b.Build()
	mustOK(t, err)
	return net
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_ClosureCascade(t *testing.T) {
	store := memory.NewMemoryStorage()
	eng := testEngine(Config{Name: "test"}, WithStorage(store))
	c := &collector{}
	net := chain(t, source(1, 2, 3), relay, c.sink)

	res, err := eng.Run(context.Background(), net, WithRunID("run-1"), WithMetadata(map[string]string{"k": "v"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != RunStatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if want := []int{10, 20, 30}; !equalInts(c.got, want) {
		t.Errorf("sink got %v, want %v", c.got, want)
	}
	for name, m := range res.Modules {
		if m.State != ModuleStateCompleted {
			t.Errorf("module %s state = %v", name, m.State)
		}
	}
	for _, s := range res.Signals {
		if !s.Stats.Closed {
			t.Errorf("signal %s not closed after run", s.Name)
		}
	}

	saved, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if saved.Status != RunStatusCompleted || saved.StartedAt == nil || saved.CompletedAt == nil {
		t.Errorf("persisted run incomplete: %+v", saved)
	}
	if saved.Metadata["k"] != "v" {
		t.Errorf("metadata lost: %v", saved.Metadata)
	}
	if len(saved.Signals) != 2 || saved.Signals[0].Writes != 3 {
		t.Errorf("signals not persisted: %+v", saved.Signals)
	}
	if saved.Modules["mid"].Status != "completed" {
		t.Errorf("module state not persisted: %+v", saved.Modules["mid"])
	}
}

func TestRun_ModuleErrorCascades(t *testing.T) {
	eng := testEngine(Config{})
	boom := errors.New("boom")
	c := &collector{}
	failing := func(ctx context.Context, ps *wiring.PortSet) error {
		in := wiring.MustIn[int](ps, "in")
		if _, err := in.BRead(ctx); err != nil {
			return err
		}
		return boom
	}
	net := chain(t, source(1), failing, c.sink)

	res, err := eng.Run(context.Background(), net)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var me *ModuleError
	if !errors.As(err, &me) || me.Module != "mid" {
		t.Fatalf("expected ModuleError for mid, got %v", err)
	}
	if res.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.Modules["dst"].State != ModuleStateCompleted {
		t.Errorf("downstream should finish through closure, got %v", res.Modules["dst"].State)
	}
}

func TestRun_PanicRecovered(t *testing.T) {
	eng := testEngine(Config{})
	c := &collector{}
	panicking := func(ctx context.Context, ps *wiring.PortSet) error {
		panic("bad state")
	}
	net := chain(t, source(), panicking, c.sink)

	res, err := eng.Run(context.Background(), net)
	var pe *ModulePanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ModulePanicError, got %v", err)
	}
	if pe.Module != "mid" || pe.Value != "bad state" || len(pe.Stack) == 0 {
		t.Errorf("unexpected panic error %+v", pe)
	}
	if res.Modules["mid"].State != ModuleStateFailed {
		t.Errorf("mid state = %v", res.Modules["mid"].State)
	}
	if res.Modules["dst"].State != ModuleStateCompleted {
		t.Errorf("dst state = %v", res.Modules["dst"].State)
	}
}

func TestRun_FailFastCancelsOthers(t *testing.T) {
	eng := testEngine(Config{FailFast: true})
	boom := errors.New("boom")
	b := wiring.NewBuilder("ff", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.Add(wiring.Module{Name: "waiter", Process: blocker}))
	mustOK(t, b.Add(wiring.Module{Name: "failer", Process: func(context.Context, *wiring.PortSet) error { return boom }}))
	net, err := b.Build()
	mustOK(t, err)

	res, err := eng.Run(context.Background(), net)
	if !errors.Is(err, boom) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected boom and canceled, got %v", err)
	}
	if res.Status != RunStatusFailed {
		t.Errorf("status = %s", res.Status)
	}
	if res.Modules["waiter"].State != ModuleStateCancelled {
		t.Errorf("waiter state = %v", res.Modules["waiter"].State)
	}
}

func TestRun_Timeout(t *testing.T) {
	eng := testEngine(Config{Timeout: 20 * time.Millisecond})
	b := wiring.NewBuilder("slow", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.Add(wiring.Module{Name: "waiter", Process: blocker}))
	net, err := b.Build()
	mustOK(t, err)

	res, err := eng.Run(context.Background(), net)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res.Status != RunStatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
}

func TestRun_PerRunOverrides(t *testing.T) {
	eng := testEngine(Config{})
	boom := errors.New("boom")
	b := wiring.NewBuilder("override", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.Add(wiring.Module{Name: "waiter", Process: blocker}))
	mustOK(t, b.Add(wiring.Module{Name: "failer", Process: func(context.Context, *wiring.PortSet) error { return boom }}))
	net, err := b.Build()
	mustOK(t, err)

	res, err := eng.Run(context.Background(), net, WithFailFast(true), WithTimeout(5*time.Second))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if res.Modules["waiter"].State != ModuleStateCancelled {
		t.Errorf("waiter state = %v, want cancelled by fail-fast", res.Modules["waiter"].State)
	}
}

func TestRun_TimeoutOverrideDisables(t *testing.T) {
	eng := testEngine(Config{Timeout: time.Millisecond})
	c := &collector{}
	net := chain(t, source(1, 2), relay, c.sink)

	res, err := eng.Run(context.Background(), net, WithTimeout(0))
	mustOK(t, err)
	if res.Status != RunStatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
}

func TestRun_NetworkConsumed(t *testing.T) {
	eng := testEngine(Config{})
	c := &collector{}
	net := chain(t, source(1), relay, c.sink)
	if _, err := eng.Run(context.Background(), net); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := eng.Run(context.Background(), net); !errors.Is(err, ErrNetworkConsumed) {
		t.Fatalf("expected ErrNetworkConsumed, got %v", err)
	}
	if _, err := eng.Submit(context.Background(), net); !errors.Is(err, ErrNetworkConsumed) {
		t.Fatalf("expected ErrNetworkConsumed from Submit, got %v", err)
	}
}

func TestRun_OnFinish(t *testing.T) {
	eng := testEngine(Config{})
	c := &collector{}
	net := chain(t, source(1, 2), relay, c.sink)

	var finished *RunResult
	res, err := eng.Run(context.Background(), net, WithOnFinish(func(r *RunResult) { finished = r }))
	mustOK(t, err)
	if finished != res {
		t.Error("OnFinish did not receive the run result")
	}
}

type recordedEvent struct {
	run, module, old, new string
}

type mockEventBroadcaster struct {
	mu     sync.Mutex
	runs   []recordedEvent
	module []recordedEvent
}

func (m *mockEventBroadcaster) BroadcastRunStateChanged(runID, _ string, oldState, newState string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, recordedEvent{run: runID, old: oldState, new: newState})
}

func (m *mockEventBroadcaster) BroadcastModuleStateChanged(runID, module, oldState, newState, _ string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.module = append(m.module, recordedEvent{run: runID, module: module, old: oldState, new: newState})
}

func TestSubmit_CancelAndWait(t *testing.T) {
	events := &mockEventBroadcaster{}
	eng := testEngine(Config{}, WithEventBroadcaster(events))
	b := wiring.NewBuilder("bg", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.Add(wiring.Module{Name: "waiter", Process: blocker}))
	net, err := b.Build()
	mustOK(t, err)

	ctx := context.Background()
	id, err := eng.Submit(ctx, net)
	mustOK(t, err)

	run, err := eng.GetRun(ctx, id)
	mustOK(t, err)
	if isTerminalRunStatus(run.Status) {
		t.Fatalf("run finished before cancel: %s", run.Status)
	}

	mustOK(t, eng.Cancel(id))
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := eng.Wait(waitCtx, id)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if res.Status != RunStatusCancelled {
		t.Errorf("status = %s", res.Status)
	}

	run, err = eng.GetRun(ctx, id)
	mustOK(t, err)
	if run.Status != RunStatusCancelled || run.Modules["waiter"].Status != "cancelled" {
		t.Errorf("persisted run = %+v", run)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	want := []string{RunStatusPending, RunStatusRunning, RunStatusCancelled}
	if len(events.runs) != len(want) {
		t.Fatalf("run events = %+v", events.runs)
	}
	for i, ev := range events.runs {
		if ev.new != want[i] || ev.run != id {
			t.Errorf("run event %d = %+v, want new state %s", i, ev, want[i])
		}
	}
	if len(events.module) != 2 || events.module[1].new != "cancelled" {
		t.Errorf("module events = %+v", events.module)
	}

	var na *RunNotActiveError
	if err := eng.Cancel(id); !errors.As(err, &na) {
		t.Errorf("expected RunNotActiveError, got %v", err)
	}
}

func TestShutdown(t *testing.T) {
	eng := testEngine(Config{})
	b := wiring.NewBuilder("bg", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.Add(wiring.Module{Name: "waiter", Process: blocker}))
	net, err := b.Build()
	mustOK(t, err)

	if !eng.Accepting() {
		t.Fatal("new engine should accept runs")
	}
	id, err := eng.Submit(context.Background(), net)
	mustOK(t, err)
	if got := eng.Active(); len(got) != 1 || got[0] != id {
		t.Errorf("Active() = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mustOK(t, eng.Shutdown(ctx))
	if eng.Accepting() {
		t.Error("engine still accepting after shutdown")
	}
	if len(eng.Active()) != 0 {
		t.Errorf("runs still active after shutdown: %v", eng.Active())
	}

	b2 := wiring.NewBuilder("late", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b2.Add(wiring.Module{Name: "waiter", Process: blocker}))
	late, err := b2.Build()
	mustOK(t, err)
	if _, err := eng.Submit(context.Background(), late); !errors.Is(err, ErrEngineShutdown) {
		t.Errorf("expected ErrEngineShutdown, got %v", err)
	}
}

func TestRun_ResultAvailableToWait(t *testing.T) {
	eng := testEngine(Config{})
	c := &collector{}
	res, err := eng.Run(context.Background(), chain(t, source(1, 2), relay, c.sink), WithRunID("sync-run"))
	mustOK(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := eng.Wait(ctx, "sync-run")
	mustOK(t, err)
	if got != res {
		t.Fatalf("Wait() = %+v, want the result Run returned", got)
	}
	if got.Status != RunStatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if len(eng.Active()) != 0 {
		t.Errorf("finished run still active: %v", eng.Active())
	}
}

func TestShutdown_WaitsForRun(t *testing.T) {
	eng := testEngine(Config{})
	b := wiring.NewBuilder("sync", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b.Add(wiring.Module{Name: "waiter", Process: blocker}))
	net, err := b.Build()
	mustOK(t, err)

	type outcome struct {
		res *RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := eng.Run(context.Background(), net, WithRunID("blocking"))
		done <- outcome{res, err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(eng.Active()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run never became active")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mustOK(t, eng.Shutdown(ctx))

	// Shutdown returned, so Run must already have finished.
	select {
	case out := <-done:
		if out.res == nil || out.res.Status != RunStatusCancelled {
			t.Errorf("run result = %+v, err = %v", out.res, out.err)
		}
	default:
		t.Fatal("Shutdown returned before Run")
	}

	b2 := wiring.NewBuilder("late", nil, wiring.WithLogger(logger.NewNop()))
	mustOK(t, b2.Add(wiring.Module{Name: "waiter", Process: blocker}))
	late, err := b2.Build()
	mustOK(t, err)
	if _, err := eng.Run(context.Background(), late); !errors.Is(err, ErrEngineShutdown) {
		t.Errorf("expected ErrEngineShutdown, got %v", err)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
