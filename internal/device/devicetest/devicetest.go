// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package devicetest provides an in-memory transport that answers frames
// like a fiscal device.
package devicetest

import (
	"errors"
	"sync"

	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Responder returns the chunks sent back for the n-th written frame
// (1-based). Returning nil simulates a silent device.
type Responder func(n int, frame []byte) [][]byte

// Transport is a fake device.Transport.
type Transport struct {
	mu       sync.Mutex
	respond  Responder
	chunks   chan []byte
	open     bool
	missing  bool
	writes   [][]byte
	writeErr error
}

// New returns an open transport answering with respond.
func New(respond Responder) *Transport {
	return &Transport{
		respond: respond,
		chunks:  make(chan []byte, 256),
		open:    true,
	}
}

// Opener returns a device.Opener that reopens and yields t, or fails while
// the port is marked missing.
func (t *Transport) Opener() device.Opener {
	return func(string, int) (device.Transport, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.missing {
			return nil, errors.New("port unavailable")
		}
		t.open = true
		return t, nil
	}
}

// SetMissing makes the opener fail, as if the port were unplugged.
func (t *Transport) SetMissing(missing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missing = missing
}

// FailWrites makes every following Write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return 0, device.ErrTransportClosed
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	frame := append([]byte(nil), p...)
	t.writes = append(t.writes, frame)
	if t.respond == nil {
		return len(p), nil
	}
	for _, c := range t.respond(len(t.writes), frame) {
		t.chunks <- c
	}
	return len(p), nil
}

func (t *Transport) Flush() error {
	for {
		select {
		case <-t.chunks:
		default:
			return nil
		}
	}
}

func (t *Transport) Chunks() <-chan []byte {
	return t.chunks
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Close marks the transport closed. The chunk channel stays open so the
// opener can hand the fake out again.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

// Writes returns the frames written so far.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Request decodes a written frame.
func Request(frame []byte) (seq byte, opcode uint16, data string) {
	resp, err := datecs.Parse(frame)
	if err != nil || len(frame) < 6 {
		return 0, 0, ""
	}
	return frame[5], resp.Command, resp.Data
}

// Reply answers every frame with the same opcode and the data returned by fn.
func Reply(fn func(opcode uint16, data string) string) Responder {
	return func(_ int, frame []byte) [][]byte {
		seq, opcode, data := Request(frame)
		return [][]byte{datecs.BuildFrame(seq, opcode, []byte(fn(opcode, data)))}
	}
}

// Echo answers every frame with the same opcode and empty data.
func Echo() Responder {
	return Reply(func(uint16, string) string { return "" })
}

// Fixed answers every frame with the same opcode and data.
func Fixed(data string) Responder {
	return Reply(func(uint16, string) string { return data })
}

// FailFirst returns truncated frames for the first n writes and then
// delegates to next.
func FailFirst(n int, next Responder) Responder {
	return func(i int, frame []byte) [][]byte {
		if i <= n {
			full := next(i, frame)
			if len(full) == 0 || len(full[0]) < 8 {
				return nil
			}
			return [][]byte{full[0][:8]}
		}
		return next(i, frame)
	}
}

// Split delivers each response of next in chunks of size bytes.
func Split(size int, next Responder) Responder {
	return func(i int, frame []byte) [][]byte {
		var out [][]byte
		for _, c := range next(i, frame) {
			for len(c) > size {
				out = append(out, c[:size])
				c = c[size:]
			}
			out = append(out, c)
		}
		return out
	}
}
