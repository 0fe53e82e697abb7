package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultHasSaneBaseline(t *testing.T) {
	cfg := Default()
	if cfg.HandleNameDeadline != 250*time.Millisecond {
		t.Errorf("HandleNameDeadline = %v, want 250ms", cfg.HandleNameDeadline)
	}
	if cfg.InconsistencyThreshold != 0x500 {
		t.Errorf("InconsistencyThreshold = %#x, want 0x500", cfg.InconsistencyThreshold)
	}
	if cfg.OutputDirectory != "DEEPGLASS-Results" {
		t.Errorf("OutputDirectory = %q, want DEEPGLASS-Results", cfg.OutputDirectory)
	}
}

func TestLoadIntoOverlaysOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("workerCount: 8\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := Default()
	if err := LoadInto(path, &cfg); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
	if cfg.OutputDirectory != "DEEPGLASS-Results" {
		t.Errorf("OutputDirectory = %q, want the default to survive the overlay", cfg.OutputDirectory)
	}
}

func TestLoadIntoToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	if err := LoadInto(filepath.Join(dir, "absent.yaml"), &cfg); err != nil {
		t.Fatalf("LoadInto: %v, want nil for a missing file", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("cfg = %+v, want the untouched default", cfg)
	}
}
