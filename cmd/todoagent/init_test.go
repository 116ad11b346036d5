package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/Waghib/Speech-to-TODO-List/internal/config"
)

// clearUmask makes permission assertions independent of the caller's
// umask.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	if info, err := os.Stat(filepath.Join(dir, "data")); err != nil || !info.IsDir() {
		t.Errorf("data directory not created: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output missing ✓ marker:\n%s", buf.String())
	}

	// The example must load cleanly with nothing but a key in the env.
	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config does not validate: %v", err)
	}
	if cfg.Listen.Port != config.DefaultPort {
		t.Errorf("example port = %d, want %d", cfg.Listen.Port, config.DefaultPort)
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	sentinel := []byte("# mine\n")
	os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o600)

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if !strings.Contains(buf.String(), "exists, skipping") {
		t.Errorf("output missing skip notice:\n%s", buf.String())
	}
	got, _ := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if !bytes.Equal(got, sentinel) {
		t.Errorf("config.yaml was overwritten: %q", got)
	}
}

func TestWriteIfMissing_CreateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.yaml")
	if _, err := writeIfMissing(path, []byte("x"), 0o600); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
}
