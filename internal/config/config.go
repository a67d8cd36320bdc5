// Package config handles configuration loading and management for Tether.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig locates the backend.
type ServerConfig struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`
	// MessageURL is the HTTP endpoint chat messages are posted to.
	MessageURL string `yaml:"message_url"`
}

// RealtimeConfig tunes the connection manager.
type RealtimeConfig struct {
	HandshakeTimeout     Duration `yaml:"handshake_timeout"`
	HeartbeatInterval    Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
}

// RetryConfig tunes the message retry queue.
type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	Multiplier float64  `yaml:"multiplier"`
}

// CacheConfig tunes the conversation cache.
type CacheConfig struct {
	MaxRecords int      `yaml:"max_records"`
	MaxAge     Duration `yaml:"max_age"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// File is an optional rotating log file path.
	File string `yaml:"file"`
	// Components restricts logging to the named components (empty means all).
	Components []string `yaml:"components"`
}

// Config is the complete Tether configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "ws://127.0.0.1:8080/ws",
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout:     Duration(10 * time.Second),
			HeartbeatInterval:    Duration(30 * time.Second),
			ReconnectBaseDelay:   Duration(1 * time.Second),
			ReconnectMaxDelay:    Duration(30 * time.Second),
			MaxReconnectAttempts: 5,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  Duration(1 * time.Second),
			Multiplier: 2,
		},
		Cache: CacheConfig{
			MaxRecords: 10,
			MaxAge:     Duration(24 * time.Hour),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the default configuration file path for the
// current platform. The TETHERRC environment variable overrides it.
func DefaultConfigPath() string {
	if envPath := os.Getenv("TETHERRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(configDir, "Tether", "config.yaml")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Tether", "config.yaml")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, _ := os.UserHomeDir()
			configDir = filepath.Join(home, ".config")
		}
		return filepath.Join(configDir, "tether", "config.yaml")
	}
}

// Load reads the configuration from path, falling back to defaults for any
// unset field. A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills any zero-valued field with its default so a sparse
// config file never produces zero timeouts.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.URL == "" {
		c.Server.URL = def.Server.URL
	}
	if c.Realtime.HandshakeTimeout <= 0 {
		c.Realtime.HandshakeTimeout = def.Realtime.HandshakeTimeout
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		c.Realtime.HeartbeatInterval = def.Realtime.HeartbeatInterval
	}
	if c.Realtime.ReconnectBaseDelay <= 0 {
		c.Realtime.ReconnectBaseDelay = def.Realtime.ReconnectBaseDelay
	}
	if c.Realtime.ReconnectMaxDelay <= 0 {
		c.Realtime.ReconnectMaxDelay = def.Realtime.ReconnectMaxDelay
	}
	if c.Realtime.MaxReconnectAttempts <= 0 {
		c.Realtime.MaxReconnectAttempts = def.Realtime.MaxReconnectAttempts
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = def.Retry.MaxRetries
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.Cache.MaxRecords <= 0 {
		c.Cache.MaxRecords = def.Cache.MaxRecords
	}
	if c.Cache.MaxAge <= 0 {
		c.Cache.MaxAge = def.Cache.MaxAge
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
