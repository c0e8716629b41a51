// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/config"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
	"github.com/Thermoquad/datecs-bridge/internal/logging"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for sending commands to fiscal devices",
	Long: `Drive configured fiscal devices from an interactive terminal UI.

The device list shows every configured device with its link and identity
state. Select a device, type a command and press Enter to send it:

  4A 0|              receipt status (params separated by |)
  0x26               open non-fiscal receipt
  0x2A Hello world   print non-fiscal text
  0x27               close non-fiscal receipt

Opcodes made only of digits are decimal; prefix them with 0x for hex.

Commands pass the same identity guard as the HTTP API, so a device that
fails its identity check refuses fiscal commands here too.

Features:
  - Live identity state per device
  - Decoded responses and device errors in the event log
  - Automatic reconnection on connection loss

Tab switches between the device list and the command input.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager keeps the devices connected and relays identity
// changes to the TUI.
type connectionManager struct {
	bridge  *bridge.Bridge
	monitor *identity.Monitor
	mu      sync.RWMutex
	p       *tea.Program
	done    chan struct{}
	backoff map[string]time.Duration
	nextTry map[string]time.Time
	up      map[string]bool
}

func (cm *connectionManager) program() *tea.Program {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.p
}

func (cm *connectionManager) setProgram(p *tea.Program) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.p = p
}

func (cm *connectionManager) send(msg tea.Msg) {
	if p := cm.program(); p != nil {
		p.Send(msg)
	}
}

// controlRegistry builds the devices the console drives: every configured
// device, or the single ad-hoc link given by --port or --url.
func controlRegistry(cfg config.Config) (*bridge.Registry, error) {
	if wsURL == "" && portName == "" {
		return bridge.NewRegistryFromConfig(cfg, opener, logging.Nop())
	}
	dc, err := selectDevice(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := bridge.DeviceSettings(cfg, dc)
	if err != nil {
		return nil, err
	}
	return bridge.NewRegistry(device.New(settings, opener, logging.Nop())), nil
}

func runControl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := controlRegistry(cfg)
	if err != nil {
		return err
	}
	defer reg.Close()
	// Logs would tear the alternate screen; the event log replaces them.
	quiet := logging.Nop()
	reg.ConnectAll(quiet)

	monitor := identity.NewMonitor(reg, identity.Options{
		Rules:        identity.ParseRules(cfg.Identity.Rules, quiet),
		Expected:     cfg.ExpectedMap(),
		InitialDelay: time.Duration(cfg.Identity.InitialDelayMS) * time.Millisecond,
		Interval:     time.Duration(cfg.Identity.IntervalMS) * time.Millisecond,
	}, quiet)

	b := bridge.New(reg, monitor, bridge.Options{
		BlockAllOnMismatch: cfg.Identity.BlockAllOnMismatch,
	}, quiet)

	cm := &connectionManager{
		bridge:  b,
		monitor: monitor,
		done:    make(chan struct{}),
		backoff: make(map[string]time.Duration),
		nextTry: make(map[string]time.Time),
		up:      make(map[string]bool),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create TUI model with connection manager
	m := initialControlModel(cm, b.Health())

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	cm.setProgram(p)

	go func() { _ = monitor.Run(ctx) }()
	go cm.identityLoop(ctx)
	go cm.linkLoop(ctx)

	// Run TUI
	_, err = p.Run()
	close(cm.done) // Signal goroutines to stop
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// identityLoop forwards identity changes to the TUI.
func (cm *connectionManager) identityLoop(ctx context.Context) {
	changes, cancel := cm.monitor.Subscribe(16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.done:
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			cm.send(identityChangeMsg(ch))
		}
	}
}

// linkLoop watches the device links and reconnects lost ones with
// exponential backoff.
func (cm *connectionManager) linkLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.done:
			return
		case now := <-ticker.C:
			for _, d := range cm.bridge.Registry().Devices() {
				cm.checkLink(ctx, d, now)
			}
		}
	}
}

func (cm *connectionManager) checkLink(ctx context.Context, d *device.Device, now time.Time) {
	id := d.ID()
	connected := d.IsConnected()

	if connected {
		if !cm.up[id] {
			cm.up[id] = true
			cm.backoff[id] = 0
			cm.send(linkStateMsg{device: id, connected: true})
		}
		return
	}

	if cm.up[id] {
		cm.up[id] = false
		cm.send(linkStateMsg{device: id, connected: false})
	}
	if now.Before(cm.nextTry[id]) {
		return
	}

	// Attempt to reconnect
	if err := cm.bridge.Registry().Reconnect(id); err == nil {
		cm.up[id] = true
		cm.backoff[id] = 0
		cm.send(linkStateMsg{device: id, connected: true, reconnected: true})
		cm.monitor.RefreshDevice(ctx, d)
		return
	}

	// Exponential backoff
	backoff := cm.backoff[id]
	switch {
	case backoff == 0:
		backoff = 1 * time.Second
	case backoff < 30*time.Second:
		backoff *= 2
	}
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	cm.backoff[id] = backoff
	cm.nextTry[id] = now.Add(backoff)
}

// sendCommand runs one console command through the guarded bridge.
func (cm *connectionManager) sendCommand(id string, c consoleCommand) tea.Cmd {
	b := cm.bridge
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		start := time.Now()
		resp, err := b.SendCommand(ctx, id, c.opcode, c.params, device.CallOptions{})
		return commandResultMsg{
			device:  id,
			command: c,
			resp:    resp,
			err:     err,
			rtt:     time.Since(start),
		}
	}
}

// healthCmd snapshots device and identity state for the device list.
func (cm *connectionManager) healthCmd() tea.Cmd {
	b := cm.bridge
	return func() tea.Msg {
		return controlHealthMsg(b.Health())
	}
}
