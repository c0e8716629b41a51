// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package identity verifies that each configured port is wired to the
// expected fiscal device and watches ports for removal and return.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Identity errors reported in snapshots
const (
	ErrorNotConnected  = "FISCAL_NOT_CONNECTED"
	ErrorUnknownDevice = "UNKNOWN_DEVICE"
	ErrorDeviceInfo    = "DEVICE_INFO_ERROR"
)

// Identity is the last observed identity of a device.
type Identity struct {
	Device    string    `json:"id"`
	Expected  string    `json:"expected,omitempty"`
	Actual    string    `json:"actual,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Match     *bool     `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Path      string    `json:"path,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Known reports whether at least one check has completed.
func (i Identity) Known() bool {
	return i.Match != nil
}

// Mismatched reports a completed check that did not confirm the device.
func (i Identity) Mismatched() bool {
	return i.Match != nil && !*i.Match
}

// differs reports whether the fields that warrant a notification changed.
func (i Identity) differs(o Identity) bool {
	return !sameMatch(i.Match, o.Match) || i.Actual != o.Actual || i.Error != o.Error || i.Path != o.Path
}

func sameMatch(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Change is delivered to subscribers when a device identity changes.
type Change struct {
	Device   string   `json:"device"`
	Previous Identity `json:"previous"`
	Current  Identity `json:"current"`
}

// Source lists the devices to verify.
type Source interface {
	Devices() []*device.Device
}

// Options configure a Monitor.
type Options struct {
	Rules        []Rule
	Expected     map[string]string
	InitialDelay time.Duration
	Interval     time.Duration
}

// Monitor periodically asks every device for its information block and
// classifies it against the fingerprint rules.
type Monitor struct {
	source   Source
	rules    []Rule
	expected map[string]string
	opts     Options
	log      zerolog.Logger

	mu        sync.RWMutex
	snapshots map[string]Identity
	subs      map[int]chan Change
	nextSub   int
}

// NewMonitor creates a monitor. Expected ids are compared uppercased.
func NewMonitor(source Source, opts Options, logger zerolog.Logger) *Monitor {
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	expected := make(map[string]string, len(opts.Expected))
	for id, v := range opts.Expected {
		expected[strings.ToUpper(id)] = strings.ToUpper(strings.TrimSpace(v))
	}

	m := &Monitor{
		source:    source,
		rules:     append([]Rule(nil), opts.Rules...),
		expected:  expected,
		opts:      opts,
		log:       logger.With().Str("component", "identity").Logger(),
		snapshots: make(map[string]Identity),
		subs:      make(map[int]chan Change),
	}
	for _, d := range source.Devices() {
		m.snapshots[d.ID()] = Identity{
			Device:   d.ID(),
			Expected: expected[d.ID()],
			Path:     d.Settings().Path,
		}
		device.RecordIdentityMatch(d.ID(), nil)
	}
	return m
}

// Rules returns the active fingerprint rules.
func (m *Monitor) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// Run refreshes all devices after the initial delay and then on every
// interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	select {
	case <-time.After(m.opts.InitialDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		m.Refresh(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Refresh checks every device concurrently and waits for all of them.
func (m *Monitor) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range m.source.Devices() {
		wg.Add(1)
		go func(d *device.Device) {
			defer wg.Done()
			m.RefreshDevice(ctx, d)
		}(d)
	}
	wg.Wait()
}

// RefreshDevice checks one device, stores and returns the new snapshot.
// The device information command goes through the device queue like any
// other command.
func (m *Monitor) RefreshDevice(ctx context.Context, d *device.Device) Identity {
	next := m.check(ctx, d)
	next.CheckedAt = time.Now()

	m.mu.Lock()
	prev, seen := m.snapshots[d.ID()]
	m.snapshots[d.ID()] = next
	m.mu.Unlock()

	device.RecordIdentityMatch(d.ID(), next.Match)

	if !seen || prev.differs(next) {
		m.report(prev, next)
	}
	return next
}

func (m *Monitor) check(ctx context.Context, d *device.Device) Identity {
	id := Identity{
		Device:   d.ID(),
		Expected: m.expected[d.ID()],
		Path:     d.Settings().Path,
	}

	if !d.IsConnected() {
		id.Match = boolPtr(false)
		id.Error = ErrorNotConnected
		return id
	}

	resp, err := d.Execute(ctx, datecs.CmdDeviceInfo, []string{"1"}, device.CallOptions{})
	if err != nil {
		id.Match = boolPtr(false)
		id.Error = err.Error()
		return id
	}
	if !resp.OK {
		id.Match = boolPtr(false)
		id.Error = resp.ErrorCode
		if id.Error == "" {
			id.Error = ErrorDeviceInfo
		}
		return id
	}

	id.Raw = strings.TrimSpace(resp.Data)
	id.Actual = Classify(m.rules, id.Raw)
	if id.Actual == "" {
		id.Match = boolPtr(false)
		id.Error = ErrorUnknownDevice
		return id
	}
	id.Match = boolPtr(id.Expected == "" || id.Actual == id.Expected)
	return id
}

func (m *Monitor) report(prev, next Identity) {
	switch {
	case next.Match != nil && *next.Match:
		m.log.Info().
			Str("device", next.Device).
			Str("actual", next.Actual).
			Str("path", next.Path).
			Msg("identity OK")
	case next.Error != "" && next.Error != ErrorUnknownDevice && next.Actual == "":
		m.log.Error().
			Str("device", next.Device).
			Str("path", next.Path).
			Str("error", next.Error).
			Msg("identity read failed")
	default:
		actual := next.Actual
		if actual == "" {
			actual = "UNKNOWN"
		}
		m.log.Error().
			Str("device", next.Device).
			Str("expected", next.Expected).
			Str("actual", actual).
			Str("path", next.Path).
			Msg("identity MISMATCH")
	}

	change := Change{Device: next.Device, Previous: prev, Current: next}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
			m.log.Warn().Str("device", next.Device).Msg("identity subscriber is slow, change dropped")
		}
	}
}

// Snapshot returns the last identity of a device.
func (m *Monitor) Snapshot(id string) (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[strings.ToUpper(id)]
	return s, ok
}

// Snapshots returns a copy of all identities keyed by device id.
func (m *Monitor) Snapshots() map[string]Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Identity, len(m.snapshots))
	for k, v := range m.snapshots {
		out[k] = v
	}
	return out
}

// Expected returns the expected identity per device.
func (m *Monitor) Expected() map[string]string {
	out := make(map[string]string, len(m.expected))
	for k, v := range m.expected {
		out[k] = v
	}
	return out
}

// Subscribe registers a change listener. The returned function
// unsubscribes and closes the channel.
func (m *Monitor) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func boolPtr(b bool) *bool {
	return &b
}
