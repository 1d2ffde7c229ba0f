package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SIMNET_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."

	manifestKey = "simulation.manifest"
)

// searchPaths are tried in order when no config file is given.
var searchPaths = []string{
	"simnet.yaml",
	"simnet.yml",
	"simnet.toml",
	"simnet.json",
	"configs/simnet.yaml",
	"/etc/simnet/config.yaml",
}

// Loader merges defaults, a config file, SIMNET_ environment variables and
// explicit overrides, in rising priority.
type Loader struct {
	k    *koanf.Koanf
	file string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load builds and validates a Config. An empty configPath searches the
// usual locations and carries on with defaults when none exists.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	defaults := flatten(DefaultConfig(), "")
	if err := l.k.Load(confmap.Provider(defaults, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path := configPath
	if path == "" {
		path = discover()
	} else if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := l.k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}
	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	// A file section set to null wipes the defaults below it.
	for key, value := range defaults {
		if l.k.Get(key) == nil {
			if err := l.k.Set(key, value); err != nil {
				return nil, fmt.Errorf("failed to restore default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File returns the config file the last Load read, if any.
func (l *Loader) File() string { return l.file }

// loadFile merges path into the loader. A relative manifest path in the
// file is taken relative to the file's directory.
func (l *Loader) loadFile(path string) error {
	parser, err := parserFor(path)
	if err != nil {
		return err
	}
	fk := koanf.New(Delimiter)
	if err := fk.Load(file.Provider(path), parser); err != nil {
		return err
	}
	if m := fk.String(manifestKey); m != "" && !filepath.IsAbs(m) {
		if err := fk.Set(manifestKey, filepath.Join(filepath.Dir(path), m)); err != nil {
			return err
		}
	}
	if err := l.k.Merge(fk); err != nil {
		return err
	}
	l.file = path
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return tomlParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %q", ext)
	}
}

func discover() string {
	for _, path := range searchPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// envKey maps SIMNET_TRACE__REDIS__ADDRESS to trace.redis.address. Single
// underscores stay part of the key name.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", Delimiter)
}

// tomlParser adapts BurntSushi/toml to koanf.
type tomlParser struct{}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} { return l.k.Get(key) }

// GetString returns a string configuration value.
func (l *Loader) GetString(key string) string { return l.k.String(key) }

// GetInt returns an int configuration value.
func (l *Loader) GetInt(key string) int { return l.k.Int(key) }

// GetBool returns a bool configuration value.
func (l *Loader) GetBool(key string) bool { return l.k.Bool(key) }

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) error { return l.k.Set(key, value) }

// Print renders the merged key space.
func (l *Loader) Print() string { return l.k.Sprint() }

// flatten turns a config struct into dotted mapstructure keys. Durations
// come out as int64 nanoseconds; slices as []interface{}.
func flatten(v interface{}, prefix string) map[string]interface{} {
	out := make(map[string]interface{})
	val := reflect.Indirect(reflect.ValueOf(v))
	if val.Kind() != reflect.Struct {
		return out
	}
	typ := val.Type()
	for i := range val.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := val.Field(i)
		switch fv.Kind() {
		case reflect.Pointer:
			if !fv.IsNil() {
				for k, v := range flatten(fv.Interface(), key) {
					out[k] = v
				}
			}
		case reflect.Struct:
			for k, v := range flatten(fv.Interface(), key) {
				out[k] = v
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[key] = fv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out[key] = fv.Uint()
		case reflect.Slice:
			items := make([]interface{}, fv.Len())
			for j := range items {
				items[j] = fv.Index(j).Interface()
			}
			out[key] = items
		default:
			out[key] = fv.Interface()
		}
	}
	return out
}

// Load is a convenience function to load configuration.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}

// LoadOrDie loads configuration and panics on error.
func LoadOrDie(configPath string, overrides map[string]interface{}) *Config {
	cfg, err := Load(configPath, overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
