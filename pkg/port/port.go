// Package port provides the directional views modules use to talk to signals.
//
// A module only ever holds *In and *Out values. Both wrap a backend behind a
// small interface, so the signal implementation can change without touching
// module code.
package port

import (
	"context"
	"errors"

	"github.com/goclaw/simnet/pkg/signal"
)

// Re-exported signal states so module code only needs this package.
var (
	ErrEmpty         = signal.ErrEmpty
	ErrClosed        = signal.ErrClosed
	ErrNoSubscribers = signal.ErrNoSubscribers
)

// Reader is the read side of a signal backend.
type Reader[T any] interface {
	NBRead() (T, error)
	BRead(ctx context.Context) (T, error)
	Close() error
}

// Writer is the write side of a signal backend.
type Writer[T any] interface {
	Publish(v T) error
	Close() error
}

var (
	_ Reader[int] = (*signal.Subscriber[int])(nil)
	_ Writer[int] = (*signal.Publisher[int])(nil)
)

// In is a read-only port.
type In[T any] struct {
	name string
	r    Reader[T]
	last T
	has  bool
}

// NewIn wraps r as a read port named name.
func NewIn[T any](name string, r Reader[T]) *In[T] {
	return &In[T]{name: name, r: r}
}

// Name returns the port name.
func (p *In[T]) Name() string { return p.name }

// NBRead returns the next pending value, or the last observed value, without
// blocking. See signal.Subscriber.NBRead.
func (p *In[T]) NBRead() (T, error) {
	v, err := p.r.NBRead()
	if err == nil {
		p.last, p.has = v, true
	}
	return v, err
}

// BRead blocks until the value changes or the signal closes.
func (p *In[T]) BRead(ctx context.Context) (T, error) {
	v, err := p.r.BRead(ctx)
	if err == nil {
		p.last, p.has = v, true
	}
	return v, err
}

// Event blocks until the value changes and discards it.
func (p *In[T]) Event(ctx context.Context) error {
	_, err := p.BRead(ctx)
	return err
}

// Wait is an alias for Event.
func (p *In[T]) Wait(ctx context.Context) error {
	return p.Event(ctx)
}

// Last returns the most recent value read through this port.
func (p *In[T]) Last() (T, bool) {
	return p.last, p.has
}

// Close releases the underlying subscriber.
func (p *In[T]) Close() error {
	return p.r.Close()
}

// Out is a write-only port.
type Out[T any] struct {
	name string
	w    Writer[T]
}

// NewOut wraps w as a write port named name.
func NewOut[T any](name string, w Writer[T]) *Out[T] {
	return &Out[T]{name: name, w: w}
}

// Name returns the port name.
func (p *Out[T]) Name() string { return p.name }

// Write publishes v. It never blocks.
func (p *Out[T]) Write(v T) error {
	return p.w.Publish(v)
}

// Close releases the underlying publisher. Once every writer of a signal is
// closed, its readers observe ErrClosed.
func (p *Out[T]) Close() error {
	return p.w.Close()
}

// PosEdge blocks until a false to true transition is observed on in.
// An unset line going high is not an edge. Returns ErrClosed without
// asserting an edge when the signal closes first.
func PosEdge(ctx context.Context, in *In[bool]) error {
	return edge(ctx, in, true)
}

// NegEdge blocks until a true to false transition is observed on in.
func NegEdge(ctx context.Context, in *In[bool]) error {
	return edge(ctx, in, false)
}

func edge(ctx context.Context, in *In[bool], to bool) error {
	for {
		prev, had := in.Last()
		v, err := in.BRead(ctx)
		if err != nil {
			return err
		}
		if had && prev != to && v == to {
			return nil
		}
	}
}

// WaitFor blocks until the value on in satisfies pred and returns it. Unlike
// BRead it is level sensitive: a current value that already satisfies pred
// returns immediately.
func WaitFor[T any](ctx context.Context, in *In[T], pred func(T) bool) (T, error) {
	v, err := in.NBRead()
	switch {
	case err == nil:
		if pred(v) {
			return v, nil
		}
	case errors.Is(err, ErrEmpty):
	default:
		return v, err
	}
	for {
		v, err = in.BRead(ctx)
		if err != nil {
			return v, err
		}
		if pred(v) {
			return v, nil
		}
	}
}

// Is returns a predicate matching values equal to want.
func Is[T comparable](want T) func(T) bool {
	return func(v T) bool { return v == want }
}
