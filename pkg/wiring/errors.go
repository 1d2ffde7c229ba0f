package wiring

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed manifest statement.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// BindingError reports a binding that does not match the module declarations.
type BindingError struct {
	Binding Binding
	Msg     string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("binding %q: %s", e.Binding.String(), e.Msg)
}

// UnboundPortError reports a declared port with no binding.
type UnboundPortError struct {
	Module string
	Port   string
}

func (e *UnboundPortError) Error() string {
	return fmt.Sprintf("port %s.%s is not connected", e.Module, e.Port)
}

// TypeMismatchError reports ports of different types sharing a signal.
type TypeMismatchError struct {
	Signal string
	Types  []string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("signal %q connects ports of different types: %s", e.Signal, strings.Join(e.Types, ", "))
}

// UnknownTypeError reports a port type that is not registered.
type UnknownTypeError struct {
	Module string
	Port   string
	Type   string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("port %s.%s: unknown type %q", e.Module, e.Port, e.Type)
}

// FanInError reports a signal written by more than one port while fan-in is disabled.
type FanInError struct {
	Signal  string
	Writers []string
}

func (e *FanInError) Error() string {
	return fmt.Sprintf("signal %q has %d writers (%s); enable fan-in to allow it",
		e.Signal, len(e.Writers), strings.Join(e.Writers, ", "))
}

// BuildError collects every problem found while validating a network.
type BuildError struct {
	Errs []error
}

func (e *BuildError) Error() string {
	if len(e.Errs) == 1 {
		return "build network: " + e.Errs[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "build network: %d problems:", len(e.Errs))
	for _, err := range e.Errs {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *BuildError) Unwrap() []error { return e.Errs }

// PortError reports a failed port lookup on a PortSet.
type PortError struct {
	Module string
	Port   string
	Msg    string
}

func (e *PortError) Error() string {
	return fmt.Sprintf("port %s.%s: %s", e.Module, e.Port, e.Msg)
}
