package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Server.URL != def.Server.URL {
		t.Errorf("Server.URL = %q, want default %q", cfg.Server.URL, def.Server.URL)
	}
	if cfg.Realtime.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.Realtime.MaxReconnectAttempts)
	}
	if cfg.Cache.MaxAge.Std() != 24*time.Hour {
		t.Errorf("Cache.MaxAge = %v, want 24h", cfg.Cache.MaxAge.Std())
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  url: wss://example.com/ws
  message_url: https://example.com/api/messages
realtime:
  handshake_timeout: 5s
  heartbeat_interval: 10s
  reconnect_base_delay: 500ms
  reconnect_max_delay: 15s
  max_reconnect_attempts: 8
retry:
  max_retries: 4
  base_delay: 2s
  multiplier: 3
cache:
  max_records: 20
  max_age: 48h
log:
  level: debug
  components: [realtime, retry]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != "wss://example.com/ws" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Realtime.HandshakeTimeout.Std() != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.Realtime.HandshakeTimeout.Std())
	}
	if cfg.Realtime.ReconnectBaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("ReconnectBaseDelay = %v", cfg.Realtime.ReconnectBaseDelay.Std())
	}
	if cfg.Realtime.MaxReconnectAttempts != 8 {
		t.Errorf("MaxReconnectAttempts = %d", cfg.Realtime.MaxReconnectAttempts)
	}
	if cfg.Retry.Multiplier != 3 {
		t.Errorf("Multiplier = %v", cfg.Retry.Multiplier)
	}
	if cfg.Cache.MaxRecords != 20 {
		t.Errorf("MaxRecords = %d", cfg.Cache.MaxRecords)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if len(cfg.Log.Components) != 2 {
		t.Errorf("Log.Components = %v", cfg.Log.Components)
	}
}

func TestLoadSparseConfigFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  url: wss://example.com/ws
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != "wss://example.com/ws" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Realtime.HeartbeatInterval.Std() != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want default 30s", cfg.Realtime.HeartbeatInterval.Std())
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.Retry.MaxRetries)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
realtime:
  heartbeat_interval: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDefaultConfigPathHonorsEnv(t *testing.T) {
	t.Setenv("TETHERRC", "/tmp/custom.yaml")
	if got := DefaultConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("DefaultConfigPath = %q", got)
	}
}
