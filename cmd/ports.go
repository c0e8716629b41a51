// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/config"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
)

var (
	portsProbe   bool
	portsTimeout int
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and optionally probe them for fiscal devices",
	Long: `List the serial ports known to the OS and mark the configured ones.

With --probe, every port is opened at the default baud rate and asked for its
device information block, which is classified with the fingerprint rules.

Examples:
  datecs-bridge ports
  datecs-bridge ports --probe

Exit codes:
  0 - At least one port listed (and, with --probe, one device recognized)
  1 - No ports or no device recognized
  2 - Port enumeration failed`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsProbe, "probe", false, "Ask each port for its device information")
	portsCmd.Flags().IntVar(&portsTimeout, "timeout", 5, "Timeout in seconds per probed port")
}

// portEntry is one listed serial port.
type portEntry struct {
	name       string
	configured string
	identity   *identity.Identity
}

func runPorts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names, err := device.ListPorts()
	if err != nil {
		return connectionError(err)
	}
	sort.Strings(names)

	fmt.Printf("datecs-bridge - Serial Ports\n")
	fmt.Printf("Ports found: %d\n\n", len(names))
	if len(names) == 0 {
		fmt.Printf("No serial ports found. Check cables and drivers.\n")
		return errFailed
	}

	entries := make([]portEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, portEntry{name: name, configured: configuredID(cfg, name)})
	}

	recognized := 0
	if portsProbe {
		rules := identity.ParseRules(cfg.Identity.Rules, logger)
		for i := range entries {
			snap := probePort(cmd.Context(), cfg, rules, entries[i].name)
			entries[i].identity = &snap
			if snap.Actual != "" {
				recognized++
			}
		}
	}

	for _, e := range entries {
		fmt.Printf("%s", e.name)
		if e.configured != "" {
			fmt.Printf("  [device %s]", e.configured)
		}
		fmt.Println()
		if e.identity == nil {
			continue
		}
		switch {
		case e.identity.Actual != "":
			fmt.Printf("  Device: %s\n", e.identity.Actual)
			fmt.Printf("  Raw: %s\n", e.identity.Raw)
		case e.identity.Error != "":
			fmt.Printf("  Probe failed: %s\n", e.identity.Error)
		}
	}

	if portsProbe {
		fmt.Printf("\n--- Probe summary ---\n")
		fmt.Printf("Devices recognized: %d of %d ports\n", recognized, len(entries))
		if recognized == 0 {
			return errFailed
		}
	}
	return nil
}

// configuredID returns the id of the configured device on port, if any.
func configuredID(cfg config.Config, port string) string {
	for _, d := range cfg.Devices {
		if identity.NormalizePort(d.Path) == identity.NormalizePort(port) {
			return d.ID
		}
	}
	return ""
}

// probePort opens port with the default tuning and reads its identity.
func probePort(ctx context.Context, cfg config.Config, rules []identity.Rule, port string) identity.Identity {
	dc := cfg.AdHoc("PROBE", port, 0)
	if dc.Retries > 1 {
		dc.Retries = 1
	}
	settings, err := bridge.DeviceSettings(cfg, dc)
	if err != nil {
		return identity.Identity{Path: port, Error: err.Error()}
	}

	d := device.New(settings, opener, logger)
	defer d.Close()
	if err := d.Connect(); err != nil {
		return identity.Identity{Path: port, Error: err.Error()}
	}

	monitor := identity.NewMonitor(bridge.NewRegistry(d), identity.Options{Rules: rules}, logger)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(portsTimeout)*time.Second)
	defer cancel()
	return monitor.RefreshDevice(ctx, d)
}
