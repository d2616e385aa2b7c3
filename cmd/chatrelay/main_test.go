package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunInitFailureFlushesErrorLog(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOG_DIR", dir)
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("HISTORY_BACKEND", "etcd")
	t.Setenv("COMPLETION_PROVIDER", "mock")
	t.Setenv("APP_METRICS_NAMESPACE", "test_cmd_run_"+time.Now().Format("150405")+"_"+time.Now().Format("000000000"))
	t.Setenv("PERSONA_PATH", filepath.Join(dir, "missing.txt"))

	if code := run(); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("read error.log: %v", err)
	}
	if !strings.Contains(string(raw), "relay init failed") {
		t.Fatalf("error.log = %q, want init failure record", raw)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("HISTORY_CAP", "zero")
	if code := run(); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
}
