package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileRequiresRenderer(t *testing.T) {
	// Defaults leave renderer.binary empty, which fails validation; a missing
	// file must surface that rather than crash.
	path := filepath.Join(t.TempDir(), "missing.toml")
	_, _, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation failure for defaults without renderer binary")
	}
	if !strings.Contains(err.Error(), "renderer.binary") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPeekSkipsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := Peek(path)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if exists {
		t.Fatal("missing file reported as existing")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Renderer.Binary != "" {
		t.Fatalf("defaults changed: renderer.binary = %q", cfg.Renderer.Binary)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
[paths]
staging_dir = "`+dir+`/staging"
output_dir = "`+dir+`/out"
log_dir = "`+dir+`/logs"
socket = "`+dir+`/shuttle.sock"

[renderer]
binary = "timeline-render"

[planner]
max_workers = 3

[logging]
format = "json"
level = "debug"
`)
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved existing path %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Planner.MaxWorkers != 3 {
		t.Fatalf("override lost: max_workers = %d", cfg.Planner.MaxWorkers)
	}
	if cfg.Planner.MaxConcurrency != defaultMaxConcurrency {
		t.Fatalf("default lost: max_concurrency = %d", cfg.Planner.MaxConcurrency)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging overrides lost: %+v", cfg.Logging)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Fatalf("staging dir not absolute: %q", cfg.Paths.StagingDir)
	}
}

func TestLoadRejectsBadRanges(t *testing.T) {
	cases := map[string]string{
		"cpu_fraction": `
[renderer]
binary = "r"
[planner]
cpu_fraction = 1.5
`,
		"rss_ratio": `
[renderer]
binary = "r"
[adaptive]
rss_ratio = 0.0
`,
		"heartbeat": `
[renderer]
binary = "r"
[worker]
heartbeat_interval_seconds = 10
heartbeat_timeout_seconds = 10
`,
		"log format": `
[renderer]
binary = "r"
[logging]
format = "xml"
`,
	}
	for name, contents := range cases {
		path := writeConfig(t, contents)
		if _, _, _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in test environment")
	}
	got, err := ExpandPath("~/exports")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "exports") {
		t.Fatalf("expand = %q", got)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("sample config must load cleanly: %v", err)
	}
	if !exists {
		t.Fatal("sample config should exist after CreateSample")
	}
	if cfg.Renderer.Binary == "" {
		t.Fatal("sample config must set renderer.binary")
	}
}

func TestWorkerBinaryDefault(t *testing.T) {
	cfg := Default()
	if cfg.WorkerBinary() != "shuttle-worker" {
		t.Fatalf("WorkerBinary() = %q", cfg.WorkerBinary())
	}
	cfg.Paths.WorkerBinary = "/opt/shuttle/worker"
	if cfg.WorkerBinary() != "/opt/shuttle/worker" {
		t.Fatalf("WorkerBinary() = %q", cfg.WorkerBinary())
	}
}
