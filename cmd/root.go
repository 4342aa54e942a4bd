// Package cmd provides the lona command-line interface.
//
// Configuration is resolved from three sources, highest priority first:
//
//  1. Command-line flags (--host, --port, ...)
//  2. Environment variables with the LONA_ prefix (LONA_PORT, ...)
//  3. A YAML settings file (--config, LONA_CONFIG_FILE, or ./lona.yaml)
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fscherf/lona/internal/config"
	"github.com/fscherf/lona/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "lona",
	Short: "Server-side view runtime for interactive web applications",
	Long: `Lona runs application views on the server and drives browser windows
over a websocket connection. Views are ordinary handlers that may block
on user input, push updates to every attached window, and outlive the
browser tab as daemons.

Quick start:
  lona serve                      Start the server with the demo views
  lona routes                     Print the routing table
  lona doctor                     Validate settings and registrations
  lona version                    Print build information`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"settings file (default ./lona.yaml, or LONA_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "",
		"log format (text, json)")
	rootCmd.PersistentFlags().String("host", "", "host to bind to")
	rootCmd.PersistentFlags().Int("port", 0, "port to listen on")
	rootCmd.PersistentFlags().Bool("debug", false,
		"debug mode: template auditing and hot template reload")
}

// loadSettings resolves the effective settings: file and environment
// first, then explicit flag overrides.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	applyFlagOverrides(settings, cmd.Root().PersistentFlags())

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// applyFlagOverrides copies explicitly set flags over file and
// environment values.
func applyFlagOverrides(settings *config.Settings, flags *pflag.FlagSet) {
	if flags.Changed("log-level") {
		settings.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		settings.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("host") {
		settings.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		settings.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("debug") {
		settings.Debug, _ = flags.GetBool("debug")
	}
}

// buildLogger constructs the process logger from settings.
func buildLogger(settings *config.Settings) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(settings.LogLevel),
		Format: settings.LogFormat,
		Output: os.Stderr,
	})
}
