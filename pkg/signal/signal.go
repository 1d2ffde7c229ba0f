// Package signal implements typed broadcast signals with bounded history.
//
// A signal is created through its first Publisher. Publishers can be cloned;
// the signal stays open while at least one clone is alive. Subscribers each
// own a private cursor into the signal's ring and a cached copy of the last
// value they observed, so one subscriber's reads never affect another's.
//
// When a subscriber falls further behind than the ring depth, the overwritten
// entries are skipped and the subscriber resumes at the oldest retained value.
package signal

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of a signal's counters.
type Stats struct {
	Name        string `json:"name"`
	Depth       int    `json:"depth"`
	Writes      uint64 `json:"writes"`
	Rejected    uint64 `json:"rejected"`
	Lagged      uint64 `json:"lagged"`
	Publishers  int    `json:"publishers"`
	Subscribers int    `json:"subscribers"`
	Closed      bool   `json:"closed"`
}

type core[T any] struct {
	mu     sync.Mutex
	name   string
	ring   []T
	next   uint64
	pubs   int
	subs   int
	closed bool
	notify chan struct{}

	equal    func(a, b T) bool
	observer Observer

	writes   uint64
	rejected uint64
	lagged   uint64
}

// New creates a signal carrying values of type T and returns its first publisher.
//
// Change detection for BRead uses T's Equal(T) bool method when present,
// == for other comparable types, and reflect.DeepEqual otherwise.
func New[T any](name string, opts ...Option) *Publisher[T] {
	return NewFunc[T](name, nil, opts...)
}

// NewFunc is like New but uses equal for change detection.
func NewFunc[T any](name string, equal func(a, b T) bool, opts ...Option) *Publisher[T] {
	o := buildOptions(opts)
	if equal == nil {
		equal = defaultEqual[T]()
	}
	c := &core[T]{
		name:     name,
		ring:     make([]T, o.depth),
		pubs:     1,
		notify:   make(chan struct{}),
		equal:    equal,
		observer: o.observer,
	}
	return &Publisher[T]{c: c}
}

type equaler[T any] interface {
	Equal(T) bool
}

func defaultEqual[T any]() func(a, b T) bool {
	var zero T
	if _, ok := any(zero).(equaler[T]); ok {
		return func(a, b T) bool {
			return any(a).(equaler[T]).Equal(b)
		}
	}
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Interface && typ.Comparable() {
		return func(a, b T) bool {
			return any(a) == any(b)
		}
	}
	return func(a, b T) bool {
		return reflect.DeepEqual(a, b)
	}
}

// wake releases every goroutine parked on the current notify channel.
// Callers hold c.mu.
func (c *core[T]) wake() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// take advances pos by one entry if one is pending. Entries that were
// overwritten before pos reached them are skipped and counted.
// Callers hold c.mu.
func (c *core[T]) take(pos *uint64) (v T, ok bool, skipped uint64) {
	if *pos >= c.next {
		return v, false, 0
	}
	depth := uint64(len(c.ring))
	var oldest uint64
	if c.next > depth {
		oldest = c.next - depth
	}
	if *pos < oldest {
		skipped = oldest - *pos
		*pos = oldest
		c.lagged += skipped
	}
	v = c.ring[*pos%depth]
	*pos++
	return v, true, skipped
}

func (c *core[T]) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:        c.name,
		Depth:       len(c.ring),
		Writes:      c.writes,
		Rejected:    c.rejected,
		Lagged:      c.lagged,
		Publishers:  c.pubs,
		Subscribers: c.subs,
		Closed:      c.closed,
	}
}

// Publisher is a cloneable write handle on a signal.
type Publisher[T any] struct {
	c        *core[T]
	released atomic.Bool
}

// Name returns the signal name.
func (p *Publisher[T]) Name() string {
	return p.c.name
}

// Publish appends v to the signal's ring and wakes blocked subscribers.
// It never blocks. With no live subscriber the value is discarded and a
// *NoSubscribersError is returned.
func (p *Publisher[T]) Publish(v T) error {
	if p.released.Load() {
		return ErrClosed
	}
	c := p.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.subs == 0 {
		c.rejected++
		c.mu.Unlock()
		metricsRecorder().RecordSignalRejected(c.name, "no_subscribers")
		return &NoSubscribersError{Signal: c.name}
	}
	seq := c.next
	c.ring[seq%uint64(len(c.ring))] = v
	c.next++
	c.writes++
	c.wake()
	obs := c.observer
	c.mu.Unlock()

	metricsRecorder().RecordSignalWrite(c.name)
	if obs != nil {
		obs.Observe(c.name, seq, v)
	}
	return nil
}

// Clone returns a new publisher handle on the same signal. A closed signal
// cannot be reopened.
func (p *Publisher[T]) Clone() (*Publisher[T], error) {
	if p.released.Load() {
		return nil, ErrClosed
	}
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.pubs++
	return &Publisher[T]{c: c}, nil
}

// Subscribe registers a new subscriber. It starts with no cached value and
// only sees values published after this call.
func (p *Publisher[T]) Subscribe() (*Subscriber[T], error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.subs++
	return &Subscriber[T]{c: c, pos: c.next}, nil
}

// Close releases this handle. Releasing the last publisher closes the signal
// and wakes every blocked subscriber. Close is idempotent per handle.
func (p *Publisher[T]) Close() error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	c := p.c
	c.mu.Lock()
	c.pubs--
	closing := c.pubs == 0 && !c.closed
	if closing {
		c.closed = true
		c.wake()
	}
	c.mu.Unlock()
	if closing {
		metricsRecorder().RecordSignalClosed(c.name)
	}
	return nil
}

// Stats returns the signal's counters.
func (p *Publisher[T]) Stats() Stats {
	return p.c.stats()
}

// Subscriber is a single-owner read handle with a private cursor and cache.
// A Subscriber must not be used from more than one goroutine at a time.
type Subscriber[T any] struct {
	c        *core[T]
	pos      uint64
	last     T
	has      bool
	closed   bool
	released bool
}

// Name returns the signal name.
func (s *Subscriber[T]) Name() string {
	return s.c.name
}

// NBRead never blocks. It returns the next pending value if there is one,
// otherwise the cached value. It returns ErrEmpty when nothing has ever been
// observed and ErrClosed once the signal is closed and drained.
func (s *Subscriber[T]) NBRead() (T, error) {
	var zero T
	if s.closed || s.released {
		return zero, ErrClosed
	}
	c := s.c
	c.mu.Lock()
	v, ok, skipped := c.take(&s.pos)
	closed := c.closed
	c.mu.Unlock()
	if skipped > 0 {
		metricsRecorder().RecordSignalLagged(c.name, skipped)
	}

	switch {
	case ok:
		s.last, s.has = v, true
		return v, nil
	case closed:
		s.closed = true
		return zero, ErrClosed
	case s.has:
		return s.last, nil
	default:
		return zero, ErrEmpty
	}
}

// BRead blocks until a value different from the cached one arrives, the
// signal closes, or ctx is done. Pending values equal to the cache are
// consumed without returning.
func (s *Subscriber[T]) BRead(ctx context.Context) (T, error) {
	var zero T
	c := s.c
	for {
		if s.closed || s.released {
			return zero, ErrClosed
		}
		c.mu.Lock()
		v, ok, skipped := c.take(&s.pos)
		closed := c.closed
		wait := c.notify
		c.mu.Unlock()
		if skipped > 0 {
			metricsRecorder().RecordSignalLagged(c.name, skipped)
		}

		if ok {
			changed := !s.has || !c.equal(s.last, v)
			s.last, s.has = v, true
			if changed {
				return v, nil
			}
			continue
		}
		if closed {
			s.closed = true
			return zero, ErrClosed
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close removes this subscriber from the signal.
func (s *Subscriber[T]) Close() error {
	if s.released {
		return nil
	}
	s.released = true
	s.c.mu.Lock()
	s.c.subs--
	s.c.mu.Unlock()
	return nil
}

// Stats returns the signal's counters.
func (s *Subscriber[T]) Stats() Stats {
	return s.c.stats()
}
