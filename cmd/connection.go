// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/config"
	"github.com/Thermoquad/datecs-bridge/internal/device"
)

var environ = os.Environ

// selectDevice resolves the device a one-off command talks to. --url and
// --port describe an ad-hoc link tuned by the configured defaults; otherwise
// --dev picks a configured device.
func selectDevice(cfg config.Config) (config.DeviceConfig, error) {
	switch {
	case wsURL != "":
		return cfg.AdHoc(deviceID, wsURL, 0), nil
	case portName != "":
		return cfg.AdHoc(deviceID, portName, baudRate), nil
	}

	dc, ok := cfg.Device(deviceID)
	if !ok {
		return dc, fmt.Errorf("unknown device '%s'", config.NormalizeID(deviceID))
	}
	if baudRate > 0 {
		dc.Baud = baudRate
	}
	return dc, nil
}

// opener opens serial ports directly and websocket links with the
// credentials given on the command line.
func opener(path string, baud int) (device.Transport, error) {
	if device.IsWebSocketPath(path) {
		return device.OpenWebSocket(path, device.WebSocketOptions{
			Username:      wsUsername,
			SkipSSLVerify: wsNoSSLVerify,
			Prompt:        true,
		})
	}
	return device.OpenSerial(path, baud)
}

// OpenConnection opens the selected device and returns it with a
// description of the link.
func OpenConnection(cfg config.Config) (*device.Device, string, error) {
	dc, err := selectDevice(cfg)
	if err != nil {
		return nil, "", err
	}
	settings, err := bridge.DeviceSettings(cfg, dc)
	if err != nil {
		return nil, "", err
	}

	d := device.New(settings, opener, logger)
	if err := d.Connect(); err != nil {
		d.Close()
		return nil, "", err
	}

	info := fmt.Sprintf("Serial: %s @ %d baud", settings.Path, settings.Baud)
	if device.IsWebSocketPath(settings.Path) {
		info = fmt.Sprintf("WebSocket: %s", settings.Path)
	}
	return d, fmt.Sprintf("%s (device %s)", info, settings.ID), nil
}

// Exit codes
const (
	ExitFailure         = 1
	ExitConnectionError = 2
)

// ExitError ends a command with a specific process exit code. A nil Err
// means the failure was already reported on the terminal.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// errFailed ends a command whose failure has already been printed.
var errFailed = &ExitError{Code: ExitFailure}

// connectionError wraps err with the connection failure exit code.
func connectionError(err error) error {
	return &ExitError{Code: ExitConnectionError, Err: fmt.Errorf("connection error: %w", err)}
}

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
