// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device drives one fiscal device over a byte transport. Each
// device runs a single worker goroutine that owns the frame sequence and
// executes commands strictly one at a time.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Settings describe a device and its command timing.
type Settings struct {
	ID           string
	Path         string
	Baud         int
	Timeout      time.Duration
	Retries      int
	RetryDelay   time.Duration
	PollInterval time.Duration
	Codepage     datecs.Codepage
	DebugIO      bool
}

// Default command timing
const (
	DefaultTimeout      = 6 * time.Second
	DefaultRetries      = 2
	DefaultRetryDelay   = 150 * time.Millisecond
	DefaultPollInterval = 150 * time.Millisecond

	// MaxRetryDelay bounds a per-call retry delay override.
	MaxRetryDelay = 5 * time.Second
)

func (s *Settings) applyDefaults() {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Retries < 1 {
		s.Retries = DefaultRetries
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = 0
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
}

// CallOptions narrow the device retry policy for a single command. Zero
// values keep the device settings. Retries never exceed the configured
// count and RetryDelay is capped at MaxRetryDelay, so one caller cannot hold
// the queue longer than the device settings allow.
type CallOptions struct {
	Retries    int
	RetryDelay time.Duration
}

type request struct {
	opcode uint16
	params []string
	opts   CallOptions
	reply  chan result
}

type result struct {
	resp *datecs.Response
	err  error
}

// Device is a fiscal device reachable over one transport.
type Device struct {
	settings Settings
	log      zerolog.Logger
	opener   Opener

	mu        sync.RWMutex
	transport Transport

	requests chan *request
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the worker goroutine
	encoder   *datecs.Encoder
	assembler *datecs.Assembler
}

// New creates a device and starts its worker. The transport is not opened;
// call Connect.
func New(settings Settings, opener Opener, logger zerolog.Logger) *Device {
	settings.applyDefaults()
	if opener == nil {
		opener = Open
	}
	RegisterMetrics()

	d := &Device{
		settings:  settings,
		log:       logger.With().Str("device", settings.ID).Logger(),
		opener:    opener,
		requests:  make(chan *request),
		done:      make(chan struct{}),
		encoder:   datecs.NewEncoder(),
		assembler: datecs.NewAssembler(),
	}
	go d.run()
	return d
}

// ID returns the device id.
func (d *Device) ID() string {
	return d.settings.ID
}

// Settings returns a copy of the device settings.
func (d *Device) Settings() Settings {
	return d.settings
}

// Connect opens the transport if it is not already open.
func (d *Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport != nil && d.transport.IsOpen() {
		return nil
	}
	if d.transport != nil {
		d.transport.Close()
		d.transport = nil
	}

	t, err := d.opener(d.settings.Path, d.settings.Baud)
	if err != nil {
		return err
	}
	d.transport = t
	d.log.Info().
		Str("path", d.settings.Path).
		Int("baud", d.settings.Baud).
		Msg("connected")
	return nil
}

// Attach installs an already open transport, replacing any previous one.
func (d *Device) Attach(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport != nil && d.transport != t {
		d.transport.Close()
	}
	d.transport = t
}

// IsConnected reports whether the transport is open.
func (d *Device) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.transport != nil && d.transport.IsOpen()
}

func (d *Device) currentTransport() Transport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.transport
}

// Close stops the worker and closes the transport. Commands already queued
// fail with ErrStopped.
func (d *Device) Close() error {
	d.stopOnce.Do(func() { close(d.done) })

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport == nil {
		return nil
	}
	err := d.transport.Close()
	d.transport = nil
	return err
}

// Execute sends a command and waits for its response. ctx bounds only the
// wait for the worker to accept the command; once accepted the command runs
// to completion and its result is always delivered. A response carrying a
// device error code is returned with a nil error: callers inspect
// Response.OK.
func (d *Device) Execute(ctx context.Context, opcode uint16, params []string, opts CallOptions) (*datecs.Response, error) {
	req := &request{
		opcode: opcode,
		params: params,
		opts:   opts,
		reply:  make(chan result, 1),
	}

	select {
	case <-d.done:
		return nil, ErrStopped
	default:
	}

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrStopped
	}

	r := <-req.reply
	return r.resp, r.err
}

func (d *Device) run() {
	for {
		select {
		case req := <-d.requests:
			select {
			case <-d.done:
				req.reply <- result{err: ErrStopped}
				return
			default:
			}
			resp, err := d.execute(req)
			req.reply <- result{resp: resp, err: err}
		case <-d.done:
			return
		}
	}
}

func (d *Device) execute(req *request) (*datecs.Response, error) {
	start := time.Now()
	defer func() { recordCommand(d.settings.ID, req.opcode, time.Since(start)) }()

	attempts, delay := d.policy(req.opts)

	data := d.settings.Codepage.Encode(datecs.JoinParams(req.params))
	d.transition(req.opcode, StatePending)

	var partial []byte
	for attempt := 1; attempt <= attempts; attempt++ {
		buf, err := d.attempt(req.opcode, data)
		if err != nil {
			d.transition(req.opcode, StateTerminalFailure)
			return nil, err
		}

		resp, perr := datecs.Parse(buf)
		if perr == nil {
			resp.Data = d.settings.Codepage.Decode([]byte(resp.Data))
			if resp.OK {
				d.transition(req.opcode, StateCompleteOK)
			} else {
				recordDeviceError(d.settings.ID, resp.ErrorCode)
				d.transition(req.opcode, StateCompleteError)
			}
			d.logResponse(resp)
			return resp, nil
		}

		partial = buf
		d.transition(req.opcode, StateIncomplete)
		if attempt < attempts {
			recordRetry(d.settings.ID)
			d.log.Warn().
				Str("cmd", fmt.Sprintf("%04x", req.opcode)).
				Int("attempt", attempt+1).
				Int("of", attempts).
				Msg("no complete response, retrying")
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}

	recordNoFrame(d.settings.ID)
	d.transition(req.opcode, StateTerminalFailure)
	return nil, &NoFrameError{
		Device:   d.settings.ID,
		Opcode:   req.opcode,
		Attempts: attempts,
		Partial:  partial,
	}
}

// policy resolves the attempts and retry delay for one command.
func (d *Device) policy(opts CallOptions) (int, time.Duration) {
	attempts := d.settings.Retries
	if opts.Retries > 0 {
		attempts = min(opts.Retries, d.settings.Retries)
	}
	delay := d.settings.RetryDelay
	if opts.RetryDelay > 0 {
		delay = min(opts.RetryDelay, MaxRetryDelay)
	}
	return attempts, delay
}

// attempt writes one frame and collects bytes until a complete frame is
// assembled or the timeout elapses. Whatever arrived is returned.
func (d *Device) attempt(opcode uint16, data []byte) ([]byte, error) {
	t := d.currentTransport()
	if t == nil || !t.IsOpen() {
		return nil, ErrNotOpen
	}

	if err := t.Flush(); err != nil {
		d.log.Debug().Err(err).Msg("flush failed")
	}

	frame := d.encoder.Encode(opcode, data)
	if d.settings.DebugIO {
		d.log.Debug().
			Str("cmd", fmt.Sprintf("%04x", opcode)).
			Str("data", datecs.FormatData(string(data))).
			Str("hex", datecs.FormatHex(frame)).
			Msg("TX")
	}

	if _, err := t.Write(frame); err != nil {
		return nil, fmt.Errorf("write to %s: %w", d.settings.Path, err)
	}
	recordFrameSent(d.settings.ID)
	d.transition(opcode, StateSent)

	d.assembler.Reset()
	ticker := time.NewTicker(d.settings.PollInterval)
	defer ticker.Stop()

	chunks := t.Chunks()
	var waited time.Duration
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return d.collected(), nil
			}
			if d.assembler.Feed(chunk) {
				return d.collected(), nil
			}
		case <-ticker.C:
			waited += d.settings.PollInterval
			if waited >= d.settings.Timeout {
				if n := d.assembler.Len(); n > 0 {
					d.log.Warn().
						Int("bytes", n).
						Str("hex", datecs.FormatHex(d.assembler.Bytes())).
						Msg("timeout, partial response")
				}
				return d.collected(), nil
			}
		}
	}
}

func (d *Device) collected() []byte {
	buf := d.assembler.Bytes()
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

func (d *Device) transition(opcode uint16, s State) {
	d.log.Debug().
		Str("cmd", fmt.Sprintf("%04x", opcode)).
		Stringer("state", s).
		Msg("command state")
}

func (d *Device) logResponse(resp *datecs.Response) {
	if !d.settings.DebugIO {
		return
	}
	ev := d.log.Debug().
		Str("cmd", fmt.Sprintf("%04x", resp.Command)).
		Str("data", datecs.FormatData(resp.Data)).
		Str("hex", datecs.FormatHex(resp.Raw))
	if !resp.OK {
		ev = ev.Str("error_code", resp.ErrorCode)
	}
	ev.Msg("RX")
}
