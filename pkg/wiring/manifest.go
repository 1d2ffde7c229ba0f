package wiring

import (
	"fmt"
	"strings"
)

// Direction is the direction of a port relative to its module.
type Direction int

const (
	// Read marks an input port, written "<-" in manifests.
	Read Direction = iota
	// Write marks an output port, written "->" in manifests.
	Write
)

// String returns the manifest arrow for the direction.
func (d Direction) String() string {
	switch d {
	case Read:
		return "<-"
	case Write:
		return "->"
	default:
		return "?"
	}
}

// Binding attaches one module port to a named signal.
type Binding struct {
	Module string
	Port   string
	Dir    Direction
	Signal string
}

func (b Binding) String() string {
	return fmt.Sprintf("%s.%s %s %s", b.Module, b.Port, b.Dir, b.Signal)
}

// PortDecl declares one port of a module.
type PortDecl struct {
	Name string
	Dir  Direction
	Type string
}

func (d PortDecl) String() string {
	return fmt.Sprintf("%s %s %s", d.Name, d.Dir, d.Type)
}

// ParseConnections parses a connection manifest. Each statement has the form
//
//	module.port <- signal;   // module reads signal
//	module.port -> signal;   // module writes signal
//
// Statements end with ';' or a newline. '#' and '//' start comments.
func ParseConnections(src string) ([]Binding, error) {
	var out []Binding
	err := eachStatement(src, ";", func(line int, stmt string) error {
		lhs, dir, rhs, err := splitArrow(stmt)
		if err != nil {
			return &ParseError{Line: line, Text: stmt, Msg: err.Error()}
		}
		mod, prt, ok := strings.Cut(lhs, ".")
		if !ok || !isIdent(mod) || !isIdent(prt) {
			return &ParseError{Line: line, Text: stmt, Msg: "expected module.port on the left"}
		}
		if !isIdent(rhs) {
			return &ParseError{Line: line, Text: stmt, Msg: "expected signal name on the right"}
		}
		out = append(out, Binding{Module: mod, Port: prt, Dir: dir, Signal: rhs})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParsePortSet parses a port-set manifest made of entries of the form
// "name <- Type" or "name -> Type", separated by ',', ';' or newlines.
func ParsePortSet(src string) ([]PortDecl, error) {
	var out []PortDecl
	seen := make(map[string]bool)
	err := eachStatement(src, ",;", func(line int, stmt string) error {
		name, dir, typ, err := splitArrow(stmt)
		if err != nil {
			return &ParseError{Line: line, Text: stmt, Msg: err.Error()}
		}
		if !isIdent(name) {
			return &ParseError{Line: line, Text: stmt, Msg: "invalid port name"}
		}
		if typ == "" || strings.ContainsAny(typ, " \t") {
			return &ParseError{Line: line, Text: stmt, Msg: "invalid type name"}
		}
		if seen[name] {
			return &ParseError{Line: line, Text: stmt, Msg: fmt.Sprintf("port %q declared twice", name)}
		}
		seen[name] = true
		out = append(out, PortDecl{Name: name, Dir: dir, Type: typ})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func eachStatement(src, seps string, fn func(line int, stmt string) error) error {
	for i, raw := range strings.Split(src, "\n") {
		text := stripComment(raw)
		for _, stmt := range strings.FieldsFunc(text, func(r rune) bool {
			return strings.ContainsRune(seps, r)
		}) {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if err := fn(i+1, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func stripComment(s string) string {
	if i := strings.Index(s, "//"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return s
}

func splitArrow(stmt string) (lhs string, dir Direction, rhs string, err error) {
	r := strings.Index(stmt, "<-")
	w := strings.Index(stmt, "->")
	switch {
	case r >= 0 && w >= 0:
		return "", 0, "", fmt.Errorf("both <- and -> in one statement")
	case r >= 0:
		return strings.TrimSpace(stmt[:r]), Read, strings.TrimSpace(stmt[r+2:]), nil
	case w >= 0:
		return strings.TrimSpace(stmt[:w]), Write, strings.TrimSpace(stmt[w+2:]), nil
	default:
		return "", 0, "", fmt.Errorf("missing <- or ->")
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
