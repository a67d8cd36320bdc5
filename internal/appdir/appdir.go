// Package appdir provides platform-native directory management for Tether.
// It handles locating and creating the Tether data directory, which stores
// the conversation cache blob and log files.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// TetherDirEnv is the environment variable to override the Tether directory.
	TetherDirEnv = "TETHER_DIR"

	// ConversationsFileName is the name of the conversation cache blob.
	ConversationsFileName = "conversations.json"

	// LogsDirName is the name of the logs subdirectory.
	LogsDirName = "logs"
)

var (
	// cachedDir stores the resolved Tether directory to avoid repeated lookups.
	cachedDir string
	// mu protects cachedDir.
	mu sync.RWMutex
)

// Dir returns the Tether data directory path.
// The directory is determined in the following order:
//  1. TETHER_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/Tether
//     - Linux: $XDG_DATA_HOME/tether or ~/.local/share/tether
//     - Windows: %APPDATA%\Tether
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the Tether directory path.
func resolveDir() (string, error) {
	// Check environment variable first
	if envDir := os.Getenv(TetherDirEnv); envDir != "" {
		return envDir, nil
	}

	// Use platform-specific directory
	switch runtime.GOOS {
	case "darwin":
		// macOS: ~/Library/Application Support/Tether
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "Tether"), nil

	case "windows":
		// Windows: %APPDATA%\Tether
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Tether"), nil

	default:
		// Linux and other Unix-like systems: $XDG_DATA_HOME/tether or ~/.local/share/tether
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "tether"), nil
	}
}

// EnsureDir creates the Tether data directory if it doesn't exist.
// It also creates the logs subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	// Create main directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create Tether directory %s: %w", dir, err)
	}

	// Create logs subdirectory
	logsDir := filepath.Join(dir, LogsDirName)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %w", logsDir, err)
	}

	return nil
}

// ConversationsPath returns the full path to the conversation cache blob.
func ConversationsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConversationsFileName), nil
}

// LogsDir returns the full path to the logs directory.
func LogsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
