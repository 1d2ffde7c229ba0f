package wiring

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/goclaw/simnet/pkg/port"
)

// Process is the body of a module. It runs in its own goroutine against the
// module's private port set. Returning releases every port in the set.
type Process func(ctx context.Context, ports *PortSet) error

// PortSet holds the ports of one module instance.
type PortSet struct {
	module string
	types  *Types
	order  []string
	ports  map[string]portEntry
	closed bool
}

type portEntry struct {
	decl  PortDecl
	value closer
}

func newPortSet(module string, types *Types) *PortSet {
	return &PortSet{
		module: module,
		types:  types,
		ports:  make(map[string]portEntry),
	}
}

func (ps *PortSet) add(decl PortDecl, value closer) {
	ps.order = append(ps.order, decl.Name)
	ps.ports[decl.Name] = portEntry{decl: decl, value: value}
}

// Module returns the name of the module owning the set.
func (ps *PortSet) Module() string { return ps.module }

// Names returns the port names in declaration order.
func (ps *PortSet) Names() []string {
	return append([]string(nil), ps.order...)
}

// Decl returns the declaration of the named port.
func (ps *PortSet) Decl(name string) (PortDecl, bool) {
	e, ok := ps.ports[name]
	return e.decl, ok
}

// Close releases every port. Errors from individual ports are joined.
func (ps *PortSet) Close() error {
	if ps.closed {
		return nil
	}
	ps.closed = true
	var errs []error
	for _, name := range ps.order {
		if err := ps.ports[name].value.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s.%s: %w", ps.module, name, err))
		}
	}
	return errors.Join(errs...)
}

// In returns the named read port of ps.
func In[T any](ps *PortSet, name string) (*port.In[T], error) {
	e, err := ps.entry(name, Read)
	if err != nil {
		return nil, err
	}
	in, ok := e.value.(*port.In[T])
	if !ok {
		return nil, &PortError{Module: ps.module, Port: name,
			Msg: fmt.Sprintf("declared as %s, requested as %s", e.decl.Type, typeNameOf[T](ps.types))}
	}
	return in, nil
}

// Out returns the named write port of ps.
func Out[T any](ps *PortSet, name string) (*port.Out[T], error) {
	e, err := ps.entry(name, Write)
	if err != nil {
		return nil, err
	}
	out, ok := e.value.(*port.Out[T])
	if !ok {
		return nil, &PortError{Module: ps.module, Port: name,
			Msg: fmt.Sprintf("declared as %s, requested as %s", e.decl.Type, typeNameOf[T](ps.types))}
	}
	return out, nil
}

// MustIn is like In but panics on error.
func MustIn[T any](ps *PortSet, name string) *port.In[T] {
	in, err := In[T](ps, name)
	if err != nil {
		panic(err)
	}
	return in
}

// MustOut is like Out but panics on error.
func MustOut[T any](ps *PortSet, name string) *port.Out[T] {
	out, err := Out[T](ps, name)
	if err != nil {
		panic(err)
	}
	return out
}

func (ps *PortSet) entry(name string, dir Direction) (portEntry, error) {
	e, ok := ps.ports[name]
	if !ok {
		return portEntry{}, &PortError{Module: ps.module, Port: name, Msg: "no such port"}
	}
	if e.decl.Dir != dir {
		return portEntry{}, &PortError{Module: ps.module, Port: name,
			Msg: fmt.Sprintf("is declared %s, not %s", e.decl.Dir, dir)}
	}
	return e, nil
}

// Bind fills the fields of the struct pointed to by dst from the port set.
// Fields are selected with a `port:"name"` tag and must have the matching
// *port.In[T] or *port.Out[T] type.
//
//	type ports struct {
//		Data  *port.In[Packet] `port:"data"`
//		Ready *port.Out[bool]  `port:"ready"`
//	}
func (ps *PortSet) Bind(dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind %s: destination must be a pointer to struct, got %T", ps.module, dst)
	}
	e := v.Elem()
	typ := e.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		name, ok := f.Tag.Lookup("port")
		if !ok {
			continue
		}
		if !f.IsExported() {
			return fmt.Errorf("bind %s: field %s is not exported", ps.module, f.Name)
		}
		entry, ok := ps.ports[name]
		if !ok {
			return &PortError{Module: ps.module, Port: name, Msg: "no such port for field " + f.Name}
		}
		pv := reflect.ValueOf(entry.value)
		if !pv.Type().AssignableTo(f.Type) {
			return &PortError{Module: ps.module, Port: name,
				Msg: fmt.Sprintf("field %s has type %s, port is %s", f.Name, f.Type, pv.Type())}
		}
		e.Field(i).Set(pv)
	}
	return nil
}

// Bound adapts a process taking a typed port struct to a Process.
func Bound[P any](fn func(ctx context.Context, ports *P) error) Process {
	return func(ctx context.Context, ps *PortSet) error {
		var p P
		if err := ps.Bind(&p); err != nil {
			return err
		}
		return fn(ctx, &p)
	}
}
