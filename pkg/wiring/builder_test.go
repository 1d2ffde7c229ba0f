package wiring

import (
	"context"
	"errors"
	"testing"

	"github.com/goclaw/simnet/pkg/port"
	"github.com/goclaw/simnet/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nop(context.Context, *PortSet) error { return nil }

func pipeline(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	b := NewBuilder("pipe", nil, opts...)
	require.NoError(t, b.AddModule("src", "out -> int", nop))
	require.NoError(t, b.AddModule("dst", "in <- int", nop))
	require.NoError(t, b.Connect("src.out -> wire; dst.in <- wire;"))
	return b
}

func TestBuild_CreatesConnectedPorts(t *testing.T) {
	net, err := pipeline(t).Build()
	require.NoError(t, err)
	require.Len(t, net.Units, 2)
	assert.Equal(t, "src", net.Units[0].Module)
	assert.Equal(t, "dst", net.Units[1].Module)

	out, err := Out[int](net.Units[0].Ports, "out")
	require.NoError(t, err)
	in, err := In[int](net.Units[1].Ports, "in")
	require.NoError(t, err)

	require.NoError(t, out.Write(5))
	v, err := in.NBRead()
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	sigs := net.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "wire", sigs[0].Name)
	assert.Equal(t, "int", sigs[0].Type)
	assert.Equal(t, 1, sigs[0].Stats.Publishers, "builder must release its own publisher")
	assert.Equal(t, 1, sigs[0].Stats.Subscribers)
}

func TestBuild_WriterReleaseClosesReaders(t *testing.T) {
	net, err := pipeline(t).Build()
	require.NoError(t, err)

	require.NoError(t, net.Units[0].Ports.Close())
	in := MustIn[int](net.Units[1].Ports, "in")
	_, err = in.BRead(context.Background())
	assert.ErrorIs(t, err, port.ErrClosed)
}

func TestBuild_FanOut(t *testing.T) {
	b := NewBuilder("fan", nil)
	require.NoError(t, b.AddModule("src", "out -> string", nop))
	require.NoError(t, b.AddModule("a", "in <- string", nop))
	require.NoError(t, b.AddModule("b", "in <- string", nop))
	require.NoError(t, b.Connect("src.out -> s; a.in <- s; b.in <- s"))
	net, err := b.Build()
	require.NoError(t, err)

	require.NoError(t, MustOut[string](net.Units[0].Ports, "out").Write("hi"))
	for _, u := range net.Units[1:] {
		v, err := MustIn[string](u.Ports, "in").NBRead()
		require.NoError(t, err)
		assert.Equal(t, "hi", v)
	}
}

func TestBuild_ValidationErrors(t *testing.T) {
	b := NewBuilder("bad", nil)
	require.NoError(t, b.AddModule("m", "in <- int, out -> int, x <- Mystery, left <- int", nop))
	require.NoError(t, b.AddModule("n", "out -> string, twice -> int", nop))
	b.Bind(
		Binding{Module: "ghost", Port: "p", Dir: Read, Signal: "s0"},
		Binding{Module: "m", Port: "nope", Dir: Read, Signal: "s0"},
		Binding{Module: "m", Port: "out", Dir: Read, Signal: "s1"},
		Binding{Module: "m", Port: "x", Dir: Read, Signal: "s2"},
		Binding{Module: "m", Port: "in", Dir: Read, Signal: "mixed"},
		Binding{Module: "n", Port: "out", Dir: Write, Signal: "mixed"},
		Binding{Module: "m", Port: "out", Dir: Write, Signal: "dup"},
		Binding{Module: "n", Port: "twice", Dir: Write, Signal: "dup"},
		Binding{Module: "n", Port: "twice", Dir: Write, Signal: "again"},
	)

	_, err := b.Build()
	require.Error(t, err)
	var be *BuildError
	require.True(t, errors.As(err, &be))

	var (
		bindingErr *BindingError
		unbound    *UnboundPortError
		unknown    *UnknownTypeError
		mismatch   *TypeMismatchError
		fanIn      *FanInError
	)
	assert.True(t, errors.As(err, &bindingErr))
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Mystery", unknown.Type)
	assert.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "mixed", mismatch.Signal)
	assert.True(t, errors.As(err, &fanIn))
	assert.Equal(t, "dup", fanIn.Signal)

	// ghost module, unknown port, wrong direction, port bound twice
	count := 0
	var unboundPorts []string
	for _, e := range be.Errs {
		if errors.As(e, &bindingErr) {
			count++
		}
		if errors.As(e, &unbound) {
			unboundPorts = append(unboundPorts, unbound.Module+"."+unbound.Port)
		}
	}
	assert.Equal(t, 4, count)
	assert.ElementsMatch(t, []string{"m.x", "m.left"}, unboundPorts)
}

func TestBuild_FanInAllowed(t *testing.T) {
	b := NewBuilder("fanin", nil, WithFanIn(true))
	require.NoError(t, b.AddModule("a", "out -> int", nop))
	require.NoError(t, b.AddModule("b", "out -> int", nop))
	require.NoError(t, b.AddModule("r", "in <- int", nop))
	require.NoError(t, b.Connect("a.out -> bus; b.out -> bus; r.in <- bus;"))
	net, err := b.Build()
	require.NoError(t, err)

	require.NoError(t, MustOut[int](net.Units[0].Ports, "out").Write(1))
	require.NoError(t, MustOut[int](net.Units[1].Ports, "out").Write(2))
	in := MustIn[int](net.Units[2].Ports, "in")
	v, err := in.NBRead()
	require.NoError(t, err)
	assert.Equal(t, 2, v, "last write wins at depth 1")

	// The signal stays open until both writers are released.
	require.NoError(t, net.Units[0].Ports.Close())
	v, err = in.NBRead()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	require.NoError(t, net.Units[1].Ports.Close())
	_, err = in.NBRead()
	assert.ErrorIs(t, err, port.ErrClosed)
}

func TestBuild_DanglingSignals(t *testing.T) {
	b := NewBuilder("dangling", nil)
	require.NoError(t, b.AddModule("w", "out -> bool", nop))
	require.NoError(t, b.AddModule("r", "in <- bool", nop))
	require.NoError(t, b.Connect("w.out -> nobody_reads; r.in <- nobody_writes"))
	net, err := b.Build()
	require.NoError(t, err)

	err = MustOut[bool](net.Units[0].Ports, "out").Write(true)
	assert.ErrorIs(t, err, signal.ErrNoSubscribers)

	_, err = MustIn[bool](net.Units[1].Ports, "in").NBRead()
	assert.ErrorIs(t, err, port.ErrClosed)
}

func TestBuild_WithDepthAndObserver(t *testing.T) {
	var seen []string
	obs := signal.ObserverFunc(func(name string, _ uint64, _ any) { seen = append(seen, name) })
	net, err := pipeline(t, WithDepth(3), WithObserver(obs)).Build()
	require.NoError(t, err)

	out := MustOut[int](net.Units[0].Ports, "out")
	for i := 0; i < 3; i++ {
		require.NoError(t, out.Write(i))
	}
	assert.Equal(t, []string{"wire", "wire", "wire"}, seen)
	assert.Equal(t, 3, net.Signals()[0].Stats.Depth)

	in := MustIn[int](net.Units[1].Ports, "in")
	for want := 0; want < 3; want++ {
		v, err := in.NBRead()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestAdd_Errors(t *testing.T) {
	b := NewBuilder("x", nil)
	assert.Error(t, b.Add(Module{Name: "", Process: nop}))
	assert.Error(t, b.Add(Module{Name: "m"}))
	assert.Error(t, b.Add(Module{Name: "m", Process: nop, Ports: []PortDecl{{Name: "a"}, {Name: "a"}}}))
	require.NoError(t, b.Add(Module{Name: "m", Process: nop}))
	assert.Error(t, b.Add(Module{Name: "m", Process: nop}))
	assert.Error(t, b.AddModule("k", "bad", nop))
	assert.Error(t, b.Connect("nonsense"))
}

func TestNetwork_Acquire(t *testing.T) {
	net, err := pipeline(t).Build()
	require.NoError(t, err)
	assert.True(t, net.Acquire())
	assert.False(t, net.Acquire())
	net.Close()
}

func TestTypes_Register(t *testing.T) {
	types := NewTypes()
	assert.Contains(t, types.Names(), "bool")
	assert.Error(t, Register[int](types, "int"))
	assert.Error(t, Register[int](types, ""))

	type point struct{ X, Y int }
	require.NoError(t, RegisterFunc[point](types, "Point", func(a, b point) bool { return a.X == b.X }))

	b := NewBuilder("pts", types)
	require.NoError(t, b.AddModule("w", "out -> Point", nop))
	require.NoError(t, b.AddModule("r", "in <- Point", nop))
	require.NoError(t, b.Connect("w.out -> p; r.in <- p"))
	net, err := b.Build()
	require.NoError(t, err)

	_, err = In[int](net.Units[1].Ports, "in")
	var pe *PortError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Msg, "declared as Point, requested as int")
}
