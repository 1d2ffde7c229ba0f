package wiring

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/goclaw/simnet/pkg/port"
	"github.com/goclaw/simnet/pkg/signal"
)

// Types maps manifest type names to Go types.
type Types struct {
	mu      sync.RWMutex
	byName  map[string]typeHandle
	byGoTyp map[reflect.Type]string
}

// NewTypes returns a registry pre-populated with the basic scalar types.
func NewTypes() *Types {
	t := &Types{
		byName:  make(map[string]typeHandle),
		byGoTyp: make(map[reflect.Type]string),
	}
	mustRegister[bool](t, "bool")
	mustRegister[int](t, "int")
	mustRegister[int64](t, "int64")
	mustRegister[uint32](t, "uint32")
	mustRegister[uint64](t, "uint64")
	mustRegister[float64](t, "float64")
	mustRegister[string](t, "string")
	return t
}

// Register adds T to the registry under name.
func Register[T any](t *Types, name string) error {
	return RegisterFunc[T](t, name, nil)
}

// RegisterFunc adds T under name with a custom change-detection function.
func RegisterFunc[T any](t *Types, name string, equal func(a, b T) bool) error {
	if name == "" {
		return fmt.Errorf("register type: empty name")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byName[name]; exists {
		return fmt.Errorf("register type: %q already registered", name)
	}
	t.byName[name] = &typed[T]{name: name, equal: equal}
	t.byGoTyp[reflect.TypeFor[T]()] = name
	return nil
}

func mustRegister[T any](t *Types, name string) {
	if err := Register[T](t, name); err != nil {
		panic(err)
	}
}

// Names returns the registered type names in sorted order.
func (t *Types) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t *Types) lookup(name string) (typeHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byName[name]
	return h, ok
}

func typeNameOf[T any](t *Types) string {
	if t != nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		if n, ok := t.byGoTyp[reflect.TypeFor[T]()]; ok {
			return n
		}
	}
	return reflect.TypeFor[T]().String()
}

// typeHandle erases T so the builder can create signals from type names.
type typeHandle interface {
	typeName() string
	newSignal(name string, opts ...signal.Option) signalHandle
}

// signalHandle is a type-erased signal owned by the builder until Build returns.
type signalHandle interface {
	name() string
	typeName() string
	reader(portName string) (closer, error)
	writer(portName string) (closer, error)
	release() error
	stats() signal.Stats
}

type closer interface {
	Close() error
}

type typed[T any] struct {
	name  string
	equal func(a, b T) bool
}

func (t *typed[T]) typeName() string { return t.name }

func (t *typed[T]) newSignal(name string, opts ...signal.Option) signalHandle {
	var root *signal.Publisher[T]
	if t.equal != nil {
		root = signal.NewFunc[T](name, t.equal, opts...)
	} else {
		root = signal.New[T](name, opts...)
	}
	return &typedSignal[T]{typ: t.name, root: root}
}

type typedSignal[T any] struct {
	typ  string
	root *signal.Publisher[T]
}

func (s *typedSignal[T]) name() string     { return s.root.Name() }
func (s *typedSignal[T]) typeName() string { return s.typ }

func (s *typedSignal[T]) reader(portName string) (closer, error) {
	sub, err := s.root.Subscribe()
	if err != nil {
		return nil, err
	}
	return port.NewIn[T](portName, sub), nil
}

func (s *typedSignal[T]) writer(portName string) (closer, error) {
	pub, err := s.root.Clone()
	if err != nil {
		return nil, err
	}
	return port.NewOut[T](portName, pub), nil
}

func (s *typedSignal[T]) release() error      { return s.root.Close() }
func (s *typedSignal[T]) stats() signal.Stats { return s.root.Stats() }
