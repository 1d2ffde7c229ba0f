package sorter

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/wiring"
)

//go:embed sorter.yaml
var manifest []byte

// Manifest returns the embedded network file of the sorter.
func Manifest() []byte {
	return slices.Clone(manifest)
}

// Config parameterizes the generator.
type Config struct {
	// Addresses is the coprocessor address of each packet, in send order.
	Addresses []uint32
	// PayloadSize is the number of payload words per packet.
	PayloadSize int
	// Seed makes payloads reproducible.
	Seed int64
	// Depth overrides the network's ring depth.
	Depth int
}

// DefaultConfig returns four packets addressed 0, 1, 2, 0 with ten payload words.
func DefaultConfig() Config {
	return Config{
		Addresses:   []uint32{0, 1, 2, 0},
		PayloadSize: 10,
		Seed:        1,
	}
}

// Report records the traffic seen by the generator.
type Report struct {
	mu       sync.Mutex
	sent     []Packet
	received []Packet
}

func (r *Report) addSent(p Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p.Clone())
}

func (r *Report) addReceived(p Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, p.Clone())
}

// Sent returns the packets sent so far.
func (r *Report) Sent() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

// Received returns the responses received so far.
func (r *Report) Received() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.received)
}

// Mismatches returns the indexes of responses that differ from the packet
// sent at the same position, plus every packet that got no response.
func (r *Report) Mismatches() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for i, p := range r.sent {
		if i >= len(r.received) || !r.received[i].Equal(p) {
			out = append(out, i)
		}
	}
	return out
}

// Types returns a type registry with Packet registered.
func Types() *wiring.Types {
	t := wiring.NewTypes()
	if err := wiring.Register[Packet](t, "Packet"); err != nil {
		panic(err)
	}
	return t
}

// Kinds returns the module kinds used by the sorter network file.
func Kinds(cfg Config, rep *Report, log logger.Logger) wiring.Kinds {
	if log == nil {
		log = logger.Global()
	}
	return wiring.Kinds{
		"generator":    generator(cfg, rep, log.With("kind", "generator")),
		"interconnect": interconnect(log.With("kind", "interconnect")),
		"coprocessor":  wiring.Bound(coprocessor),
	}
}

// Builder returns a builder for f using the sorter's module kinds. f is
// usually the embedded manifest but may be any file using the same kinds.
// The ring depth is cfg.Depth, else the file's; a WithDepth in opts wins
// over both.
func Builder(f *wiring.File, cfg Config, rep *Report, log logger.Logger, opts ...wiring.Option) (*wiring.Builder, error) {
	depth := f.Depth
	if cfg.Depth > 0 {
		depth = cfg.Depth
	}
	if depth > 0 {
		opts = append([]wiring.Option{wiring.WithDepth(depth)}, opts...)
	}
	return f.Builder(Types(), Kinds(cfg, rep, log), opts...)
}

// NewNetwork builds the sorter from the embedded manifest.
func NewNetwork(cfg Config, rep *Report, log logger.Logger, opts ...wiring.Option) (*wiring.Network, error) {
	f, err := wiring.ParseFile(manifest, "yaml")
	if err != nil {
		return nil, fmt.Errorf("sorter manifest: %w", err)
	}
	b, err := Builder(f, cfg, rep, log, opts...)
	if err != nil {
		return nil, err
	}
	return b.Build()
}
