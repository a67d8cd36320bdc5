package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { reloaded <- c }, quietLogger())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.Log.Level != "debug" {
			t.Errorf("reloaded Log.Level = %q, want debug", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change never triggered a reload")
	}
}

func TestWatcherDetectsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { reloaded <- c }, quietLogger())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	// Editors and atomic writers replace the file via rename.
	tmp := filepath.Join(dir, "config.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("log:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.Log.Level != "warn" {
			t.Errorf("reloaded Log.Level = %q, want warn", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("rename never triggered a reload")
	}
}

func TestWatcherKeepsPreviousOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { reloaded <- c }, quietLogger())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("log: [broken"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		t.Errorf("broken config delivered: %+v", c)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { reloaded <- c }, quietLogger())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Error("sibling file change triggered a reload")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherCloseStopsNotifications(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { reloaded <- c }, quietLogger())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Error("notification delivered after Close")
	case <-time.After(500 * time.Millisecond):
	}
}
