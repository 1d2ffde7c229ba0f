package signal

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by a non-blocking read when the subscriber has never
	// observed a value and nothing is pending.
	ErrEmpty = errors.New("signal: no value observed yet")

	// ErrClosed is returned once every publisher of a signal has been released
	// and the subscriber has drained everything it was owed. It is terminal.
	ErrClosed = errors.New("signal: closed")

	// ErrNoSubscribers is the sentinel matched by NoSubscribersError.
	ErrNoSubscribers = errors.New("signal: no subscribers")
)

// NoSubscribersError is returned when a value is published on a signal that
// has no live subscriber. The value is discarded.
type NoSubscribersError struct {
	Signal string
}

func (e *NoSubscribersError) Error() string {
	return fmt.Sprintf("signal %q: write with no subscribers", e.Signal)
}

// Is reports whether target is ErrNoSubscribers.
func (e *NoSubscribersError) Is(target error) bool {
	return target == ErrNoSubscribers
}
