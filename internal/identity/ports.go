// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/internal/device"
)

// PortLister returns the serial ports currently known to the OS.
type PortLister func() ([]string, error)

// PortWatcherOptions configure a PortWatcher.
type PortWatcherOptions struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// List defaults to device.ListPorts.
	List PortLister
	// OnReconnect runs after a device transport was reopened.
	OnReconnect func(ctx context.Context, d *device.Device)
}

// PortWatcher logs configured serial ports that disappear or return and
// reopens a device when its port is present again.
type PortWatcher struct {
	source Source
	opts   PortWatcherOptions
	log    zerolog.Logger

	mu   sync.Mutex
	last map[string]bool
}

// NewPortWatcher creates a watcher over the devices of source.
func NewPortWatcher(source Source, opts PortWatcherOptions, logger zerolog.Logger) *PortWatcher {
	if opts.List == nil {
		opts.List = device.ListPorts
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &PortWatcher{
		source: source,
		opts:   opts,
		log:    logger.With().Str("component", "ports").Logger(),
		last:   make(map[string]bool),
	}
}

// NormalizePort canonicalizes a port name for comparison: trimmed,
// uppercased and without the Windows device namespace prefix.
func NormalizePort(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.TrimPrefix(s, `\\.\`)
}

// Run checks ports after the initial delay and then on every interval
// until ctx is done.
func (w *PortWatcher) Run(ctx context.Context) error {
	select {
	case <-time.After(w.opts.InitialDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		w.Check(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Check runs one presence pass. The first pass only reports missing ports;
// later passes report transitions.
func (w *PortWatcher) Check(ctx context.Context) {
	ports, err := w.opts.List()
	if err != nil {
		w.log.Error().Err(err).Msg("listing serial ports failed")
		return
	}
	present := make(map[string]bool, len(ports))
	for _, p := range ports {
		present[NormalizePort(p)] = true
	}

	for _, d := range w.source.Devices() {
		path := d.Settings().Path
		if path == "" || device.IsWebSocketPath(path) {
			continue
		}
		want := NormalizePort(path)
		isPresent := present[want]

		w.mu.Lock()
		was, seen := w.last[d.ID()]
		w.last[d.ID()] = isPresent
		w.mu.Unlock()

		switch {
		case !seen:
			if !isPresent {
				w.log.Error().Str("device", d.ID()).Str("port", want).Msg("configured port not found")
			}
		case was != isPresent:
			if isPresent {
				w.log.Info().Str("device", d.ID()).Str("port", want).Msg("port found again")
			} else {
				w.log.Error().Str("device", d.ID()).Str("port", want).Msg("port disappeared")
			}
		}

		if isPresent && !d.IsConnected() {
			w.reconnect(ctx, d, !seen || !was)
		}
	}
}

func (w *PortWatcher) reconnect(ctx context.Context, d *device.Device, transition bool) {
	if err := d.Connect(); err != nil {
		ev := w.log.Debug()
		if transition {
			ev = w.log.Warn()
		}
		ev.Err(err).Str("device", d.ID()).Msg("reconnect failed")
		return
	}
	if w.opts.OnReconnect != nil {
		w.opts.OnReconnect(ctx, d)
	}
}

// Present returns the last observed presence per device id.
func (w *PortWatcher) Present() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]bool, len(w.last))
	for k, v := range w.last {
		out[k] = v
	}
	return out
}
