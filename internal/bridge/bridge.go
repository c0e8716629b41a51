// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge routes commands to registered fiscal devices, enforcing
// connection and identity admission before anything is written.
package bridge

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// IdentityView exposes the identity snapshots admission relies on.
type IdentityView interface {
	Snapshot(id string) (identity.Identity, bool)
	Expected() map[string]string
}

// Options configure admission.
type Options struct {
	// BlockAllOnMismatch also rejects non-fiscal commands on a mismatched
	// device.
	BlockAllOnMismatch bool
}

// Bridge is the command entry point shared by the HTTP layer and the CLI.
type Bridge struct {
	registry *Registry
	identity IdentityView
	opts     Options
	log      zerolog.Logger
}

// New creates a bridge. identity may be nil, in which case no identity
// admission is applied.
func New(registry *Registry, ident IdentityView, opts Options, logger zerolog.Logger) *Bridge {
	return &Bridge{
		registry: registry,
		identity: ident,
		opts:     opts,
		log:      logger.With().Str("component", "bridge").Logger(),
	}
}

// Registry returns the device registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Admit resolves a device and checks that opcode may be sent to it.
func (b *Bridge) Admit(id string, opcode uint16) (*device.Device, error) {
	d, err := b.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	if b.identity == nil {
		return d, nil
	}

	snap, ok := b.identity.Snapshot(d.ID())
	if !ok || !snap.Mismatched() {
		return d, nil
	}
	if datecs.IsFiscal(opcode) || b.opts.BlockAllOnMismatch {
		b.log.Warn().
			Str("device", d.ID()).
			Str("cmd", datecs.FormatOpcode(opcode)).
			Str("expected", snap.Expected).
			Str("actual", snap.Actual).
			Msg("command rejected: identity mismatch")
		return nil, &MismatchError{
			Device:   d.ID(),
			Path:     d.Settings().Path,
			Expected: snap.Expected,
			Actual:   snap.Actual,
		}
	}
	return d, nil
}

// SendCommand admits and executes one command. A response with a device
// error code is returned without error; see AssertOK.
func (b *Bridge) SendCommand(ctx context.Context, id string, opcode uint16, params []string, opts device.CallOptions) (*datecs.Response, error) {
	d, err := b.Admit(id, opcode)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, opcode, params, opts)
}

// Exec executes a command and turns a device error code into *DeviceError.
func (b *Bridge) Exec(ctx context.Context, id string, opcode uint16, params []string) (*datecs.Response, error) {
	resp, err := b.SendCommand(ctx, id, opcode, params, device.CallOptions{})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return resp, newDeviceError(normalizeID(id), resp)
	}
	return resp, nil
}

// AssertOK executes a command and returns its data payload.
func (b *Bridge) AssertOK(ctx context.Context, id string, opcode uint16, params []string) (string, error) {
	resp, err := b.Exec(ctx, id, opcode, params)
	if err != nil {
		return "", err
	}
	return resp.Data, nil
}

// DeviceHealth is the health entry of one device.
type DeviceHealth struct {
	ID        string             `json:"id"`
	Path      string             `json:"path"`
	Baud      int                `json:"baud"`
	Connected bool               `json:"connected"`
	Identity  *identity.Identity `json:"identity"`
}

// Health is the bridge status snapshot.
type Health struct {
	OK                 bool              `json:"ok"`
	Devices            []DeviceHealth    `json:"devices"`
	ExpectedMap        map[string]string `json:"expected_map"`
	BlockAllOnMismatch bool              `json:"block_all_on_mismatch"`
}

// Health reports every device with its last identity.
func (b *Bridge) Health() Health {
	h := Health{
		OK:                 true,
		ExpectedMap:        map[string]string{},
		BlockAllOnMismatch: b.opts.BlockAllOnMismatch,
	}
	if b.identity != nil {
		h.ExpectedMap = b.identity.Expected()
	}
	for _, d := range b.registry.Devices() {
		s := d.Settings()
		entry := DeviceHealth{
			ID:        d.ID(),
			Path:      s.Path,
			Baud:      s.Baud,
			Connected: d.IsConnected(),
		}
		if b.identity != nil {
			if snap, ok := b.identity.Snapshot(d.ID()); ok {
				entry.Identity = &snap
			}
		}
		h.Devices = append(h.Devices, entry)
	}
	return h
}
