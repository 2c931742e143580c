package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("VOLTEX_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Processing.ParallelJobs != defaultParallel {
		t.Fatalf("parallel_jobs = %d", cfg.Processing.ParallelJobs)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"processing": {"parallel_jobs": 8, "compress": false}, "paths": {"output": "/data/out"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VOLTEX_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Processing.ParallelJobs != 8 {
		t.Fatalf("parallel_jobs = %d, want 8", cfg.Processing.ParallelJobs)
	}
	if cfg.Paths.Output != "/data/out" {
		t.Fatalf("output = %q", cfg.Paths.Output)
	}
	// Untouched fields keep their defaults.
	if cfg.Paths.DatasetFile != "dataset.yaml" {
		t.Fatalf("dataset_file = %q", cfg.Paths.DatasetFile)
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := expandUser("~/.config/voltex/config.json")
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if got != filepath.Join(home, ".config/voltex/config.json") {
		t.Fatalf("expanded to %q", got)
	}
}
