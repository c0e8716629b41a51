// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/config"
	"github.com/Thermoquad/datecs-bridge/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// Device selection for one-off commands
	deviceID string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	logger = logging.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "datecs-bridge",
	Short: "HTTP bridge for Datecs fiscal printers",
	Long: `datecs-bridge - Drive Datecs fiscal printers over serial links.

The serve command exposes configured devices over HTTP. The other commands
talk to one device directly and are meant for diagnostics.

Device selection for one-off commands:
  Config:    --dev A (device from the configuration file)
  Serial:    --port COM11 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the DATECS_WS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(logging.Options{
			Level:  logLevel,
			Format: logging.Format(logFormat),
			App:    "datecs-bridge",
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatAuto), "Log format (auto, console, json)")

	rootCmd.PersistentFlags().StringVarP(&deviceID, "dev", "d", "A", "Configured device id")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (overrides --dev)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only, default from config)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://, overrides --dev)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration file and the process environment and
// rebuilds the logger from the [log] section. Flags take precedence.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath, environ())
	if err != nil {
		return cfg, err
	}

	level := logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	format := logFormat
	if !rootCmd.PersistentFlags().Changed("log-format") && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	logger = logging.New(logging.Options{
		Level:  level,
		Format: logging.Format(format),
		App:    "datecs-bridge",
	})
	if cfg.DebugIO && logger.GetLevel() > zerolog.DebugLevel {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return cfg, nil
}
