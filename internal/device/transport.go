// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"strings"
)

// Transport is a byte link to one device. Incoming bytes are pushed on the
// Chunks channel by a reader goroutine owned by the transport; the channel is
// closed when the link fails or is closed.
type Transport interface {
	Write(p []byte) (int, error)
	// Flush discards input that arrived before the next command.
	Flush() error
	Chunks() <-chan []byte
	IsOpen() bool
	Close() error
}

// Opener opens a transport for a device path.
type Opener func(path string, baud int) (Transport, error)

// ErrTransportClosed is returned when writing to a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// chunkBuffer bounds how many reads may queue while no command is waiting.
const chunkBuffer = 64

// Open selects the transport from the path: ws:// and wss:// URLs use the
// websocket bridge, anything else is a serial port name.
func Open(path string, baud int) (Transport, error) {
	if IsWebSocketPath(path) {
		return OpenWebSocket(path, WebSocketOptions{})
	}
	return OpenSerial(path, baud)
}

// IsWebSocketPath reports whether path names a websocket endpoint.
func IsWebSocketPath(path string) bool {
	p := strings.ToLower(strings.TrimSpace(path))
	return strings.HasPrefix(p, "ws://") || strings.HasPrefix(p, "wss://")
}

// drain discards queued chunks without blocking.
func drain(ch <-chan []byte) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
