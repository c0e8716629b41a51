// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// serialReadTimeout bounds each blocking read so Close is noticed promptly.
const serialReadTimeout = 50 * time.Millisecond

// SerialTransport wraps a serial port
type SerialTransport struct {
	port   serial.Port
	chunks chan []byte
	done   chan struct{}
	open   atomic.Bool
	once   sync.Once
}

// OpenSerial opens a serial port at 8N1 and starts its reader.
func OpenSerial(portName string, baudRate int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure serial port %s: %w", portName, err)
	}

	s := &SerialTransport{
		port:   port,
		chunks: make(chan []byte, chunkBuffer),
		done:   make(chan struct{}),
	}
	s.open.Store(true)
	go s.readLoop()
	return s, nil
}

func (s *SerialTransport) readLoop() {
	defer close(s.chunks)
	buf := make([]byte, 256)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			s.open.Store(false)
			return
		}
		if n == 0 {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case s.chunks <- chunk:
		case <-s.done:
			return
		}
	}
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	if !s.open.Load() {
		return 0, ErrTransportClosed
	}
	return s.port.Write(p)
}

// Flush resets the driver input buffer and drops queued chunks.
func (s *SerialTransport) Flush() error {
	if !s.open.Load() {
		return ErrTransportClosed
	}
	err := s.port.ResetInputBuffer()
	drain(s.chunks)
	return err
}

func (s *SerialTransport) Chunks() <-chan []byte {
	return s.chunks
}

func (s *SerialTransport) IsOpen() bool {
	return s.open.Load()
}

func (s *SerialTransport) Close() error {
	var err error
	s.once.Do(func() {
		s.open.Store(false)
		close(s.done)
		err = s.port.Close()
	})
	return err
}

// ListPorts returns the serial ports known to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
