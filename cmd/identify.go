// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
)

var (
	identifyTimeout  int
	identifyExpected string
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Read the device information block and classify the device",
	Long: `Ask a device for its information block and match it against the
fingerprint rules from the configuration.

The expected device comes from --expect, or from expected_fiscal_id of the
configured device selected with --dev.

Exit codes:
  0 - Device recognized (and matches the expected device, if any)
  1 - Device unknown, mismatched or silent
  2 - Connection error

Useful for checking which fiscal device sits behind a port before serving it.`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().IntVar(&identifyTimeout, "timeout", 10, "Timeout in seconds")
	identifyCmd.Flags().StringVar(&identifyExpected, "expect", "", "Expected fiscal id (overrides config)")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return connectionError(err)
	}
	defer d.Close()

	expected := cfg.ExpectedMap()
	if identifyExpected != "" {
		expected = map[string]string{d.ID(): identifyExpected}
	}

	rules := identity.ParseRules(cfg.Identity.Rules, logger)
	monitor := identity.NewMonitor(bridge.NewRegistry(d), identity.Options{
		Rules:    rules,
		Expected: expected,
	}, logger)

	fmt.Printf("datecs-bridge - Identify\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Rules: %d\n", len(rules))
	fmt.Printf("Timeout: %d seconds\n\n", identifyTimeout)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(identifyTimeout)*time.Second)
	defer cancel()
	snap := monitor.RefreshDevice(ctx, d)

	if snap.Raw != "" {
		fmt.Printf("Raw: %s\n", snap.Raw)
	}
	if snap.Actual != "" {
		fmt.Printf("Device: %s\n", snap.Actual)
	}
	if snap.Expected != "" {
		fmt.Printf("Expected: %s\n", snap.Expected)
	}

	if snap.Match != nil && *snap.Match {
		fmt.Printf("\nSUCCESS: identity OK\n")
		return nil
	}
	switch snap.Error {
	case identity.ErrorNotConnected:
		return connectionError(fmt.Errorf("%s is not open", snap.Path))
	case "":
		fmt.Fprintf(os.Stderr, "\nMISMATCH: expected %s, got %s\n", snap.Expected, snap.Actual)
	default:
		fmt.Fprintf(os.Stderr, "\nFAILED: %s\n", snap.Error)
	}
	return errFailed
}
