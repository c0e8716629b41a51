// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

var (
	// ErrUnknownDevice is returned for ids that are not configured.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNotConnected is returned when the device transport is not open.
	ErrNotConnected = errors.New("FISCAL_NOT_CONNECTED")
	// ErrIdentityMismatch is returned when admission rejects a command
	// because the device on the port is not the expected one.
	ErrIdentityMismatch = errors.New("FISCAL_DEVICE_MISMATCH")
	// ErrInvalidInput wraps parameter validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// NotConnectedError reports a device whose transport is closed.
type NotConnectedError struct {
	Device string
	Path   string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("fiscal device %s is not connected (%s)", e.Device, e.Path)
}

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

// MismatchError reports an identity mismatch found at admission.
type MismatchError struct {
	Device   string
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	expected, actual := e.Expected, e.Actual
	if expected == "" {
		expected = "?"
	}
	if actual == "" {
		actual = "UNKNOWN"
	}
	return fmt.Sprintf("device %s does not match its configuration: expected=%s actual=%s (%s)",
		e.Device, expected, actual, e.Path)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrIdentityMismatch
}

// DeviceError is an explicit error code reported by the device.
type DeviceError struct {
	Device string
	Opcode uint16
	Code   string
	Fault  datecs.Fault
}

func (e *DeviceError) Error() string {
	if e.Fault.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Fault.Message)
	}
	return e.Code
}

// IsPaperFault reports a paper or printer cover fault.
func (e *DeviceError) IsPaperFault() bool {
	return e.Fault.Category == datecs.FaultPaperOrCover
}

func newDeviceError(id string, resp *datecs.Response) *DeviceError {
	code := resp.ErrorCode
	if code == "" {
		code = "DEVICE_ERROR"
	}
	return &DeviceError{
		Device: id,
		Opcode: resp.Command,
		Code:   code,
		Fault:  datecs.ClassifyError(code),
	}
}
