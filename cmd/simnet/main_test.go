package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a configuration that keeps logs out of the way.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simnet.yaml")
	data := "log:\n  level: error\n  output: stderr\n" + extra
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "simnet ") {
		t.Errorf("version output = %q, want simnet prefix", out)
	}

	out, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if info["name"] != "simnet" {
		t.Errorf("name = %q, want simnet", info["name"])
	}
}

func TestValidateCommand(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "validate", "-c", cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"network sorter is valid", "gen, ic, cop0, cop1, cop2", "gen_to_ic"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCommandBadManifest(t *testing.T) {
	cfg := writeConfig(t, "")
	manifest := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(manifest, []byte("name: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate", "-c", cfg, "--manifest", manifest); err == nil {
		t.Fatal("validate accepted a malformed manifest")
	}
}

func TestRunCommand(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "run", "-c", cfg, "--addresses", "2,1", "--payload-size", "3")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"completed", "packets: sent 2, received 2, mismatched 0", "cop2"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "trace:") {
		t.Errorf("untraced run reported a trace:\n%s", out)
	}
}

func TestRunCommandJSON(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "run", "-c", cfg, "--trace", "--json")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	var rep runReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if rep.Status != "completed" {
		t.Errorf("status = %q, want completed", rep.Status)
	}
	if rep.Sent != 4 || rep.Received != 4 || len(rep.Mismatches) != 0 {
		t.Errorf("sent %d received %d mismatches %v", rep.Sent, rep.Received, rep.Mismatches)
	}
	if rep.Recorded == 0 {
		t.Error("traced run recorded nothing")
	}
	if len(rep.Modules) != 5 {
		t.Errorf("modules = %d, want 5", len(rep.Modules))
	}
}

func TestRunCommandBadConfig(t *testing.T) {
	cfg := writeConfig(t, "storage:\n  type: nowhere\n")
	if _, err := execute(t, "run", "-c", cfg); err == nil {
		t.Fatal("run accepted an unknown storage type")
	}

	if _, err := execute(t, "run", "-c", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("run accepted a missing config file")
	}
}

func TestRunCommandTimeout(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "run", "-c", cfg, "--timeout", "1ns", "--fail-fast", "--payload-size", "512")
	if !errors.Is(err, errReported) {
		t.Fatalf("run err = %v, want errReported\n%s", err, out)
	}
}
