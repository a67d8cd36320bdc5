// Package cmd provides the CLI commands for Tether.
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/calyptra/tether/internal/appdir"
	"github.com/calyptra/tether/internal/config"
	"github.com/calyptra/tether/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string
	jsonLogs      bool

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - a resilient real-time session client",
	Long: `Tether keeps a chat session alive against an unreliable network.

It maintains one WebSocket connection with automatic reconnection and
heartbeat, routes session-scoped events to the terminal, retries failed
message sends with exponential backoff, and caches conversations locally
so they survive restarts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > config > default (info)
		effectiveLogLevel := ""
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if effectiveLogLevel == "" {
			effectiveLogLevel = cfg.Log.Level
		}

		effectiveLogFile := logFile
		if effectiveLogFile == "" {
			effectiveLogFile = cfg.Log.File
		}
		var fileLog *logging.FileLogConfig
		if effectiveLogFile != "" {
			fl := logging.DefaultFileLogConfig()
			fl.Path = effectiveLogFile
			fileLog = &fl
		}

		components := logging.ParseComponents(logComponents)
		if len(components) == 0 {
			components = cfg.Log.Components
		}

		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			FileLog:    fileLog,
			JSON:       jsonLogs,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		// Ensure the Tether data directory exists
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Tether directory: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: platform config dir, TETHERRC overrides)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'realtime,session,retry'). Empty means all components.")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs in JSON format")
}

// effectiveConfigPath returns the config file path in use, for the watcher.
func effectiveConfigPath() string {
	if configPath != "" {
		return filepath.Clean(configPath)
	}
	return config.DefaultConfigPath()
}
