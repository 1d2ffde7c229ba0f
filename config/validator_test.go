package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("name: net\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestValidateManifest(t *testing.T) {
	dir := t.TempDir()
	yamlFile := writeFile(t, dir, "network.yaml")
	tomlFile := writeFile(t, dir, "network.TOML")
	textFile := writeFile(t, dir, "network.txt")

	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"empty runs the sorter", "", true},
		{"yaml file", yamlFile, true},
		{"toml file, any case", tomlFile, true},
		{"unsupported extension", textFile, false},
		{"missing file", filepath.Join(dir, "gone.yaml"), false},
		{"directory", dir, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Simulation.Manifest = tt.path
			err := ValidateWithDetails(cfg)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("manifest %q accepted", tt.path)
			}
		})
	}
}

func TestValidateFileExists(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "any.bin")

	type probe struct {
		Path string `validate:"file_exists"`
	}
	for path, valid := range map[string]bool{"": true, file: true, dir: false, "/nonexistent/file": false} {
		err := validate.Struct(probe{Path: path})
		if (err == nil) != valid {
			t.Errorf("file_exists(%q) error = %v, want valid=%v", path, err, valid)
		}
	}
}

func TestValidateRedisAddress(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		address string
		valid   bool
	}{
		{"disabled without address", false, "", true},
		{"enabled with host:port", true, "redis.internal:6379", true},
		{"enabled with ipv6", true, "[::1]:6379", true},
		{"enabled without address", true, "", false},
		{"address with space", true, "redis host:6379", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Trace.Redis.Enabled = tt.enabled
			cfg.Trace.Redis.Address = tt.address
			err := ValidateWithDetails(cfg)
			if (err == nil) != tt.valid {
				t.Fatalf("error = %v, want valid=%v", err, tt.valid)
			}
			if err != nil {
				var details ValidationErrors
				if !errors.As(err, &details) || !strings.Contains(details[0].Field, "Trace.Redis.Address") {
					t.Errorf("details = %v", err)
				}
			}
		})
	}
}

func TestValidateHost(t *testing.T) {
	type probe struct {
		Host string `validate:"host"`
	}
	tests := []struct {
		host  string
		valid bool
	}{
		{"", true},
		{"localhost", true},
		{"0.0.0.0", true},
		{"127.0.0.1:8080", true},
		{"api.v1.example.com", true},
		{"2001:db8::1", true},
		{"my_server", true},
		{"invalid host", false},
		{"invalid\thost", false},
		{"bad!host", false},
	}
	for _, tt := range tests {
		err := validate.Struct(probe{Host: tt.host})
		if (err == nil) != tt.valid {
			t.Errorf("host(%q) error = %v, want valid=%v", tt.host, err, tt.valid)
		}
	}
}

func TestValidateSimulationSection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no addresses", func(c *Config) { c.Simulation.Addresses = nil }, "Simulation.Addresses"},
		{"zero depth", func(c *Config) { c.Simulation.Depth = 0 }, "Simulation.Depth"},
		{"empty payload", func(c *Config) { c.Simulation.PayloadSize = 0 }, "Simulation.PayloadSize"},
		{"negative timeout", func(c *Config) { c.Simulation.Timeout = -1 }, "Simulation.Timeout"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, "Storage.Type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := ValidateWithDetails(cfg)
			var details ValidationErrors
			if !errors.As(err, &details) {
				t.Fatalf("error = %v, want ValidationErrors", err)
			}
			if len(details) != 1 || !strings.HasSuffix(details[0].Field, tt.field) {
				t.Errorf("details = %v, want one error on %s", details, tt.field)
			}
		})
	}
}
