// Package wiring assembles modules and signals into a runnable network.
//
// A Builder takes module declarations (a name, a port-set manifest and a
// Process) plus a connection manifest, validates them, and creates every
// signal and port before any module runs.
package wiring

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/signal"
)

// Module declares one module instance.
type Module struct {
	Name    string
	Ports   []PortDecl
	Process Process
}

type builderOptions struct {
	depth    int
	observer signal.Observer
	fanIn    bool
	logger   logger.Logger
}

// Option configures a Builder.
type Option func(*builderOptions)

// WithDepth sets the ring depth of every signal in the network.
func WithDepth(n int) Option {
	return func(o *builderOptions) { o.depth = n }
}

// WithObserver attaches obs to every signal in the network.
func WithObserver(obs signal.Observer) Option {
	return func(o *builderOptions) { o.observer = obs }
}

// WithFanIn allows several ports to write the same signal. Concurrent writes
// are ordered by arrival at the signal; the last one wins.
func WithFanIn(enabled bool) Option {
	return func(o *builderOptions) { o.fanIn = enabled }
}

// WithLogger sets the logger used for build warnings.
func WithLogger(l logger.Logger) Option {
	return func(o *builderOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Builder collects modules and bindings and produces a Network.
type Builder struct {
	name     string
	types    *Types
	opts     builderOptions
	modules  map[string]*Module
	order    []string
	bindings []Binding
	errs     []error
}

// NewBuilder creates a builder for a network called name. A nil types uses NewTypes().
func NewBuilder(name string, types *Types, opts ...Option) *Builder {
	if types == nil {
		types = NewTypes()
	}
	o := builderOptions{depth: signal.DefaultDepth, logger: logger.Global()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Builder{
		name:    name,
		types:   types,
		opts:    o,
		modules: make(map[string]*Module),
	}
}

// Types returns the builder's type registry.
func (b *Builder) Types() *Types { return b.types }

// Add declares a module.
func (b *Builder) Add(m Module) error {
	switch {
	case !isIdent(m.Name):
		return fmt.Errorf("add module: invalid name %q", m.Name)
	case m.Process == nil:
		return fmt.Errorf("add module %q: nil process", m.Name)
	}
	if _, exists := b.modules[m.Name]; exists {
		return fmt.Errorf("add module %q: already declared", m.Name)
	}
	seen := make(map[string]bool, len(m.Ports))
	for _, d := range m.Ports {
		if seen[d.Name] {
			return fmt.Errorf("add module %q: port %q declared twice", m.Name, d.Name)
		}
		seen[d.Name] = true
	}
	mod := m
	mod.Ports = append([]PortDecl(nil), m.Ports...)
	b.modules[m.Name] = &mod
	b.order = append(b.order, m.Name)
	return nil
}

// AddModule declares a module from a port-set manifest.
func (b *Builder) AddModule(name, portSpec string, proc Process) error {
	decls, err := ParsePortSet(portSpec)
	if err != nil {
		return fmt.Errorf("module %q ports: %w", name, err)
	}
	return b.Add(Module{Name: name, Ports: decls, Process: proc})
}

// Connect parses a connection manifest and records its bindings.
func (b *Builder) Connect(manifest string) error {
	bs, err := ParseConnections(manifest)
	if err != nil {
		return fmt.Errorf("connections: %w", err)
	}
	b.bindings = append(b.bindings, bs...)
	return nil
}

// Bind records bindings directly.
func (b *Builder) Bind(bs ...Binding) {
	b.bindings = append(b.bindings, bs...)
}

type signalPlan struct {
	name    string
	typ     string
	types   []string
	writers []string
	readers []string
}

// Build validates the declarations and creates every signal and port. All
// problems are reported together in a *BuildError. The returned network owns
// every port; nothing runs until it is handed to a scheduler.
func (b *Builder) Build() (*Network, error) {
	var errs []error
	bound := make(map[string]map[string]Binding) // module -> port -> binding
	plans := make(map[string]*signalPlan)
	var signalOrder []string

	for _, bd := range b.bindings {
		mod, ok := b.modules[bd.Module]
		if !ok {
			errs = append(errs, &BindingError{Binding: bd, Msg: "unknown module"})
			continue
		}
		decl, ok := findDecl(mod, bd.Port)
		if !ok {
			errs = append(errs, &BindingError{Binding: bd, Msg: "unknown port"})
			continue
		}
		if decl.Dir != bd.Dir {
			errs = append(errs, &BindingError{Binding: bd, Msg: fmt.Sprintf("port is declared %s", decl.Dir)})
			continue
		}
		if bound[bd.Module] == nil {
			bound[bd.Module] = make(map[string]Binding)
		}
		if prev, dup := bound[bd.Module][bd.Port]; dup {
			errs = append(errs, &BindingError{Binding: bd, Msg: fmt.Sprintf("port already bound to %q", prev.Signal)})
			continue
		}
		if _, ok := b.types.lookup(decl.Type); !ok {
			errs = append(errs, &UnknownTypeError{Module: bd.Module, Port: bd.Port, Type: decl.Type})
			continue
		}
		bound[bd.Module][bd.Port] = bd

		p, ok := plans[bd.Signal]
		if !ok {
			p = &signalPlan{name: bd.Signal, typ: decl.Type}
			plans[bd.Signal] = p
			signalOrder = append(signalOrder, bd.Signal)
		}
		if !containsString(p.types, decl.Type) {
			p.types = append(p.types, decl.Type)
		}
		endpoint := bd.Module + "." + bd.Port
		if bd.Dir == Write {
			p.writers = append(p.writers, endpoint)
		} else {
			p.readers = append(p.readers, endpoint)
		}
	}

	for _, name := range b.order {
		mod := b.modules[name]
		for _, d := range mod.Ports {
			if _, ok := bound[name][d.Name]; !ok {
				errs = append(errs, &UnboundPortError{Module: name, Port: d.Name})
			}
		}
	}

	for _, name := range signalOrder {
		p := plans[name]
		if len(p.types) > 1 {
			types := append([]string(nil), p.types...)
			sort.Strings(types)
			errs = append(errs, &TypeMismatchError{Signal: name, Types: types})
		}
		if len(p.writers) > 1 && !b.opts.fanIn {
			errs = append(errs, &FanInError{Signal: name, Writers: p.writers})
		}
	}

	if len(errs) > 0 {
		return nil, &BuildError{Errs: errs}
	}

	sigOpts := []signal.Option{signal.WithDepth(b.opts.depth)}
	if b.opts.observer != nil {
		sigOpts = append(sigOpts, signal.WithObserver(b.opts.observer))
	}
	signals := make(map[string]signalHandle, len(plans))
	net := &Network{Name: b.name}
	for _, name := range signalOrder {
		p := plans[name]
		th, _ := b.types.lookup(p.typ)
		sh := th.newSignal(name, sigOpts...)
		signals[name] = sh
		net.signals = append(net.signals, sh)
		switch {
		case len(p.writers) == 0:
			b.opts.logger.Warn("signal has no writer and will close immediately", "network", b.name, "signal", name, "readers", p.readers)
		case len(p.readers) == 0:
			b.opts.logger.Warn("signal has no reader; writes will be rejected", "network", b.name, "signal", name, "writers", p.writers)
		}
	}

	for _, name := range b.order {
		mod := b.modules[name]
		ps := newPortSet(name, b.types)
		for _, d := range mod.Ports {
			bd := bound[name][d.Name]
			sh := signals[bd.Signal]
			var (
				value closer
				err   error
			)
			if d.Dir == Write {
				value, err = sh.writer(d.Name)
			} else {
				value, err = sh.reader(d.Name)
			}
			if err != nil {
				net.Close()
				return nil, fmt.Errorf("create port %s.%s: %w", name, d.Name, err)
			}
			ps.add(d, value)
		}
		net.Units = append(net.Units, &Unit{Module: name, Ports: ps, Process: mod.Process})
	}

	for _, sh := range net.signals {
		_ = sh.release()
	}

	b.opts.logger.Debug("network built", "network", b.name, "modules", len(net.Units), "signals", len(net.signals))
	return net, nil
}

func findDecl(m *Module, port string) (PortDecl, bool) {
	for _, d := range m.Ports {
		if d.Name == port {
			return d, true
		}
	}
	return PortDecl{}, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Unit is one schedulable module instance with its private ports.
type Unit struct {
	Module  string
	Ports   *PortSet
	Process Process
}

// SignalInfo describes a signal of a built network.
type SignalInfo struct {
	Name  string
	Type  string
	Stats signal.Stats
}

// Network is the output of Build: every unit with its ports already connected.
type Network struct {
	Name    string
	Units   []*Unit
	signals []signalHandle
	started atomic.Bool
}

// Signals returns the current state of every signal in the network.
func (n *Network) Signals() []SignalInfo {
	out := make([]SignalInfo, 0, len(n.signals))
	for _, sh := range n.signals {
		out = append(out, SignalInfo{Name: sh.name(), Type: sh.typeName(), Stats: sh.stats()})
	}
	return out
}

// Acquire marks the network as started. It reports false if it already was;
// a network's ports can only be driven once.
func (n *Network) Acquire() bool {
	return n.started.CompareAndSwap(false, true)
}

// Close releases every port of every unit. It is used to discard a network
// that will not be run.
func (n *Network) Close() {
	for _, u := range n.Units {
		_ = u.Ports.Close()
	}
	for _, sh := range n.signals {
		_ = sh.release()
	}
}
