// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

var (
	// ErrNotOpen is returned when a command reaches a device whose transport
	// is not open.
	ErrNotOpen = errors.New("device transport not open")
	// ErrStopped is returned for commands submitted after Close.
	ErrStopped = errors.New("device stopped")
)

// NoFrameError reports a command that never produced a decodable frame.
type NoFrameError struct {
	Device   string
	Opcode   uint16
	Attempts int
	Partial  []byte
}

func (e *NoFrameError) Error() string {
	return fmt.Sprintf("NO_FRAME (timeout) dev=%s cmd=%04x attempts=%d partial=%dB",
		e.Device, e.Opcode, e.Attempts, len(e.Partial))
}

// Is matches datecs.ErrNoFrame.
func (e *NoFrameError) Is(target error) bool {
	return target == datecs.ErrNoFrame
}
