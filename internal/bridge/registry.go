// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/internal/config"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Registry holds the configured devices by id. It is built once at startup
// and not modified afterwards.
type Registry struct {
	devices map[string]*device.Device
	order   []string
}

// NewRegistry creates a registry over devs. Ids are case-insensitive.
func NewRegistry(devs ...*device.Device) *Registry {
	r := &Registry{devices: make(map[string]*device.Device, len(devs))}
	for _, d := range devs {
		id := normalizeID(d.ID())
		if _, dup := r.devices[id]; dup {
			continue
		}
		r.devices[id] = d
		r.order = append(r.order, id)
	}
	return r
}

// NewRegistryFromConfig creates one device per configured entry using
// opener for transports.
func NewRegistryFromConfig(cfg config.Config, opener device.Opener, logger zerolog.Logger) (*Registry, error) {
	devs := make([]*device.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		settings, err := DeviceSettings(cfg, dc)
		if err != nil {
			for _, d := range devs {
				d.Close()
			}
			return nil, err
		}
		devs = append(devs, device.New(settings, opener, logger))
	}
	return NewRegistry(devs...), nil
}

// DeviceSettings converts a configured device into worker settings.
func DeviceSettings(cfg config.Config, dc config.DeviceConfig) (device.Settings, error) {
	cp, err := datecs.LookupCodepage(dc.Codepage)
	if err != nil {
		return device.Settings{}, fmt.Errorf("device %s: %w", dc.ID, err)
	}
	return device.Settings{
		ID:           dc.ID,
		Path:         dc.Path,
		Baud:         dc.Baud,
		Timeout:      dc.Timeout(),
		Retries:      dc.Retries,
		RetryDelay:   dc.RetryDelay(),
		PollInterval: dc.PollInterval(),
		Codepage:     cp,
		DebugIO:      cfg.DebugIO,
	}, nil
}

// Devices returns the devices in configuration order.
func (r *Registry) Devices() []*device.Device {
	out := make([]*device.Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// Get returns a device without admission checks.
func (r *Registry) Get(id string) (*device.Device, bool) {
	d, ok := r.devices[normalizeID(id)]
	return d, ok
}

// Resolve returns a device that is ready to accept commands.
func (r *Registry) Resolve(id string) (*device.Device, error) {
	d, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownDevice, normalizeID(id))
	}
	if !d.IsConnected() {
		return nil, &NotConnectedError{Device: d.ID(), Path: d.Settings().Path}
	}
	return d, nil
}

// Reconnect reopens the transport of a device.
func (r *Registry) Reconnect(id string) error {
	d, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w '%s'", ErrUnknownDevice, normalizeID(id))
	}
	return d.Connect()
}

// ConnectAll opens every device. Failures are logged and do not stop the
// others; the port watcher retries them later.
func (r *Registry) ConnectAll(logger zerolog.Logger) {
	for _, d := range r.Devices() {
		if err := d.Connect(); err != nil {
			logger.Error().
				Err(err).
				Str("device", d.ID()).
				Str("path", d.Settings().Path).
				Msg("connect failed")
		}
	}
}

// Close stops all devices.
func (r *Registry) Close() error {
	var errs []error
	for _, d := range r.Devices() {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
