package signal

// DefaultDepth is the number of values a signal retains for slow subscribers.
const DefaultDepth = 1

// Observer is notified of every value accepted by a signal. Observe runs on
// the publishing goroutine after the signal lock is released and must not block.
type Observer interface {
	Observe(signal string, seq uint64, value any)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(signal string, seq uint64, value any)

// Observe calls f.
func (f ObserverFunc) Observe(signal string, seq uint64, value any) {
	f(signal, seq, value)
}

type options struct {
	depth    int
	observer Observer
}

// Option configures a signal at creation time.
type Option func(*options)

// WithDepth sets the ring depth. Values below one are raised to one.
func WithDepth(n int) Option {
	return func(o *options) {
		o.depth = n
	}
}

// WithObserver attaches an observer that sees every accepted write.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func buildOptions(opts []Option) options {
	o := options{depth: DefaultDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.depth < 1 {
		o.depth = 1
	}
	return o
}
