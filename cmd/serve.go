// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/internal/httpapi"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured devices over HTTP",
	Long: `Open every configured device and expose it over HTTP.

Besides the receipt endpoints, the server runs two background tasks:
  - Identity monitor: asks each device for its information block and
    blocks fiscal commands when it does not match the expected device.
  - Port watcher: logs serial ports that disappear and reopens a device
    when its port is present again.

Endpoints select a device with ?dev=<id> (default A).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config and HTTP_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	reg, err := bridge.NewRegistryFromConfig(cfg, opener, logger)
	if err != nil {
		return err
	}
	defer reg.Close()
	reg.ConnectAll(logger)

	monitor := identity.NewMonitor(reg, identity.Options{
		Rules:        identity.ParseRules(cfg.Identity.Rules, logger),
		Expected:     cfg.ExpectedMap(),
		InitialDelay: time.Duration(cfg.Identity.InitialDelayMS) * time.Millisecond,
		Interval:     time.Duration(cfg.Identity.IntervalMS) * time.Millisecond,
	}, logger)

	b := bridge.New(reg, monitor, bridge.Options{
		BlockAllOnMismatch: cfg.Identity.BlockAllOnMismatch,
	}, logger)

	srv := httpapi.New(b, monitor, httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("addr", cfg.HTTP.Addr).
		Int("devices", len(cfg.Devices)).
		Bool("block_all_on_mismatch", cfg.Identity.BlockAllOnMismatch).
		Interface("expected", cfg.ExpectedMap()).
		Msg("starting bridge")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = monitor.Run(ctx)
	}()

	if cfg.Ports.Enabled {
		watcher := identity.NewPortWatcher(reg, identity.PortWatcherOptions{
			InitialDelay: time.Duration(cfg.Ports.InitialDelayMS) * time.Millisecond,
			Interval:     time.Duration(cfg.Ports.IntervalMS) * time.Millisecond,
			OnReconnect: func(ctx context.Context, d *device.Device) {
				monitor.RefreshDevice(ctx, d)
			},
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = watcher.Run(ctx)
		}()
	}

	err = srv.Run(ctx)
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("bridge stopped")
	return nil
}
