package sorter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/storage"
	"github.com/goclaw/simnet/pkg/storage/memory"
	"github.com/goclaw/simnet/pkg/trace"
	"github.com/goclaw/simnet/pkg/wiring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSorter(t *testing.T, cfg Config, opts ...wiring.Option) (*Report, *engine.RunResult, error) {
	t.Helper()
	rep := &Report{}
	net, err := NewNetwork(cfg, rep, logger.NewNop(), append(opts, wiring.WithLogger(logger.NewNop()))...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng := engine.New(engine.Config{Name: "sorter-test"}, engine.WithLogger(logger.NewNop()))
	res, err := eng.Run(ctx, net)
	return rep, res, err
}

func TestSorter_EndToEnd(t *testing.T) {
	rep, res, err := runSorter(t, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusCompleted, res.Status)

	sent, received := rep.Sent(), rep.Received()
	require.Len(t, sent, 4)
	require.Len(t, received, 4)
	for i, addr := range []uint32{0, 1, 2, 0} {
		assert.Equal(t, addr, sent[i].Address)
		assert.True(t, received[i].Equal(sent[i]), "response %d differs", i)
		assert.Len(t, received[i].Payload, 10)
	}
	assert.Empty(t, rep.Mismatches())

	require.Len(t, res.Modules, 5)
	for name, m := range res.Modules {
		assert.Equal(t, engine.ModuleStateCompleted, m.State, "module %s", name)
	}
	for _, s := range res.Signals {
		assert.True(t, s.Stats.Closed, "signal %s left open", s.Name)
	}
}

func TestSorter_LongerTraffic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = []uint32{2, 2, 2, 0, 1, 1, 0, 2, 1, 0}
	cfg.PayloadSize = 3
	cfg.Seed = 42

	for _, depth := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			rep, res, err := runSorter(t, cfg, wiring.WithDepth(depth))
			require.NoError(t, err)
			assert.Equal(t, engine.RunStatusCompleted, res.Status)
			assert.Len(t, rep.Received(), len(cfg.Addresses))
			assert.Empty(t, rep.Mismatches())
			for _, s := range res.Signals {
				assert.Equal(t, depth, s.Stats.Depth, "signal %s", s.Name)
			}
		})
	}
}

// Every coprocessor's first request arrives right after its line was driven
// low, so at depth 1 the low value is usually overwritten before it is read.
func TestSorter_FirstRequestAtDepthOne(t *testing.T) {
	for range 20 {
		cfg := Config{Addresses: []uint32{2, 1, 0}, PayloadSize: 1, Seed: 3}
		rep, res, err := runSorter(t, cfg, wiring.WithDepth(1))
		require.NoError(t, err)
		require.Equal(t, engine.RunStatusCompleted, res.Status)
		require.Len(t, rep.Received(), 3)
		require.Empty(t, rep.Mismatches())
	}
}

func TestSorter_BadAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = []uint32{0, 7}

	rep, res, err := runSorter(t, cfg)
	require.Error(t, err)

	var addrErr *AddressError
	require.True(t, errors.As(err, &addrErr), "got %v", err)
	assert.Equal(t, uint32(7), addrErr.Address)
	assert.Equal(t, uint32(1), addrErr.PacketID)

	assert.Equal(t, engine.RunStatusFailed, res.Status)
	assert.Equal(t, engine.ModuleStateFailed, res.Modules["ic"].State)
	assert.Equal(t, engine.ModuleStateCompleted, res.Modules["gen"].State)
	assert.Equal(t, []int{1}, rep.Mismatches())
}

func TestSorter_Reproducible(t *testing.T) {
	a, _, err := runSorter(t, DefaultConfig())
	require.NoError(t, err)
	b, _, err := runSorter(t, DefaultConfig())
	require.NoError(t, err)
	for i := range a.Sent() {
		assert.True(t, a.Sent()[i].Equal(b.Sent()[i]))
	}
}

func TestSorter_TracedRun(t *testing.T) {
	store := memory.NewMemoryStorage()
	rec := trace.NewRecorder("traced", trace.Config{}, logger.NewNop(), trace.NewStorageSink(store))

	rep, _, err := runSorter(t, DefaultConfig(), wiring.WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	events, err := store.ListTrace(context.Background(), "traced", &storage.TraceFilter{Signal: "gen_to_ic"})
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Contains(t, string(events[0].Value), `"address":0`)
	assert.Len(t, rep.Received(), 4)
}

func TestPacket_EqualAndClone(t *testing.T) {
	p := Packet{ID: 1, Address: 2, Payload: []uint32{1, 2, 3}}
	c := p.Clone()
	assert.True(t, p.Equal(c))

	c.Payload[0] = 9
	assert.False(t, p.Equal(c))
	assert.Equal(t, uint32(1), p.Payload[0])
	assert.Equal(t, "packet#1@2[3]", p.String())
}

func TestManifest_Builds(t *testing.T) {
	f, err := wiring.ParseFile(Manifest(), "yaml")
	require.NoError(t, err)
	assert.Equal(t, "sorter", f.Name)
	assert.Len(t, f.Modules, 2+Coprocessors)

	net, err := NewNetwork(DefaultConfig(), &Report{}, logger.NewNop(), wiring.WithLogger(logger.NewNop()))
	require.NoError(t, err)
	assert.Len(t, net.Signals(), 2+4*Coprocessors)
	for _, s := range net.Signals() {
		assert.Equal(t, 1, s.Stats.Depth, "signal %s", s.Name)
	}
}

func TestBuilder_DepthPrecedence(t *testing.T) {
	f, err := wiring.ParseFile(Manifest(), "yaml")
	require.NoError(t, err)

	depthOf := func(cfg Config, opts ...wiring.Option) int {
		t.Helper()
		b, err := Builder(f, cfg, &Report{}, logger.NewNop(), append(opts, wiring.WithLogger(logger.NewNop()))...)
		require.NoError(t, err)
		net, err := b.Build()
		require.NoError(t, err)
		defer net.Close()
		return net.Signals()[0].Stats.Depth
	}

	assert.Equal(t, 1, depthOf(DefaultConfig()))
	assert.Equal(t, 3, depthOf(Config{Depth: 3}))
	assert.Equal(t, 1, depthOf(Config{Depth: 3}, wiring.WithDepth(1)))
	assert.Equal(t, 4, depthOf(DefaultConfig(), wiring.WithDepth(4)))
}
