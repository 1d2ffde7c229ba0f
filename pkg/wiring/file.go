package wiring

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is a network description loaded from YAML or TOML.
//
//	name: sorter
//	depth: 1
//	modules:
//	  - name: gen
//	    kind: generator
//	    ports: "out -> Packet, in <- Packet"
//	connections: |
//	  gen.out -> pro_to_ic;
type File struct {
	Name        string       `yaml:"name" toml:"name" validate:"required"`
	Depth       int          `yaml:"depth" toml:"depth" validate:"min=0"`
	FanIn       bool         `yaml:"fan_in" toml:"fan_in"`
	Modules     []ModuleSpec `yaml:"modules" toml:"modules" validate:"required,min=1,dive"`
	Connections string       `yaml:"connections" toml:"connections" validate:"required"`
}

// ModuleSpec declares one module instance in a File.
type ModuleSpec struct {
	Name  string `yaml:"name" toml:"name" validate:"required"`
	Kind  string `yaml:"kind" toml:"kind" validate:"required"`
	Ports string `yaml:"ports" toml:"ports" validate:"required"`
}

// Kinds maps module kinds to their processes.
type Kinds map[string]Process

var fileValidator = validator.New()

// LoadFile reads and validates a network file. The format is chosen from the
// extension: .yaml, .yml or .toml.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network file: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	f, err := ParseFile(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseFile decodes and validates a network file in the given format
// ("yaml", "yml" or "toml").
func ParseFile(data []byte, format string) (*File, error) {
	var f File
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode toml: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported network file format %q", format)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structural constraints of the file.
func (f *File) Validate() error {
	if err := fileValidator.Struct(f); err != nil {
		return fmt.Errorf("invalid network file: %w", err)
	}
	return nil
}

// Builder returns a builder populated from the file. Each module's kind is
// resolved through kinds. Options given here override the file's depth and
// fan-in settings.
func (f *File) Builder(types *Types, kinds Kinds, opts ...Option) (*Builder, error) {
	base := []Option{WithFanIn(f.FanIn)}
	if f.Depth > 0 {
		base = append(base, WithDepth(f.Depth))
	}
	b := NewBuilder(f.Name, types, append(base, opts...)...)
	for _, m := range f.Modules {
		proc, ok := kinds[m.Kind]
		if !ok {
			return nil, fmt.Errorf("module %q: unknown kind %q", m.Name, m.Kind)
		}
		if err := b.AddModule(m.Name, m.Ports, proc); err != nil {
			return nil, err
		}
	}
	if err := b.Connect(f.Connections); err != nil {
		return nil, err
	}
	return b, nil
}
