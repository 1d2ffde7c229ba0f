package engine

import (
	"errors"
	"fmt"
)

// ErrNetworkConsumed is returned when a network that already ran is run again.
var ErrNetworkConsumed = errors.New("network already ran")

// ErrEngineShutdown is returned by Submit after Shutdown.
var ErrEngineShutdown = errors.New("engine is shut down")

// ModuleError is returned when a module's process returns an error.
type ModuleError struct {
	Module string
	Cause  error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e *ModuleError) Unwrap() error { return e.Cause }

// ModulePanicError is returned when a module's process panics.
type ModulePanicError struct {
	Module string
	Value  any
	Stack  []byte
}

func (e *ModulePanicError) Error() string {
	return fmt.Sprintf("module %q panicked: %v", e.Module, e.Value)
}

// RunNotActiveError is returned when cancelling a run that is not executing.
type RunNotActiveError struct {
	RunID string
}

func (e *RunNotActiveError) Error() string {
	return fmt.Sprintf("run %q is not active", e.RunID)
}
