package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "omnisyncd.log")

	log, err := New(path, "info")
	if err != nil {
		t.Fatal(err)
	}
	log.Info("store initialized")
	log.Debug("not at this level")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file should be created with parent dirs: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"store initialized"`) {
		t.Errorf("log file missing JSON entry: %q", out)
	}
	if strings.Contains(out, "not at this level") {
		t.Errorf("debug entry written at info level: %q", out)
	}
	if !strings.Contains(out, `"pid":`) {
		t.Errorf("log entries should carry the pid field: %q", out)
	}
}

func TestNewLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnisyncd.log")

	log, err := New(path, "debug")
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("cache invalidated")
	_ = log.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "cache invalidated") {
		t.Errorf("debug level should pass debug entries: %q", string(data))
	}

	// An unparseable level falls back to info rather than failing startup.
	if _, err := New(filepath.Join(t.TempDir(), "x.log"), "chatty"); err != nil {
		t.Errorf("bad level should fall back, got %v", err)
	}
}
