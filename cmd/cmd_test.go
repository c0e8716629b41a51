// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/config"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/internal/device/devicetest"
	"github.com/Thermoquad/datecs-bridge/internal/httpapi"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

func boolPtr(b bool) *bool { return &b }

func withConnectionFlags(t *testing.T, dev, port, url string, baud int) {
	t.Helper()
	oldDev, oldPort, oldURL, oldBaud := deviceID, portName, wsURL, baudRate
	deviceID, portName, wsURL, baudRate = dev, port, url, baud
	t.Cleanup(func() {
		deviceID, portName, wsURL, baudRate = oldDev, oldPort, oldURL, oldBaud
	})
}

func TestSelectDevice(t *testing.T) {
	cfg := config.Default()

	t.Run("configured", func(t *testing.T) {
		withConnectionFlags(t, "a", "", "", 0)
		dc, err := selectDevice(cfg)
		require.NoError(t, err)
		assert.Equal(t, "A", dc.ID)
		assert.Equal(t, "COM11", dc.Path)
	})

	t.Run("baud override", func(t *testing.T) {
		withConnectionFlags(t, "B", "", "", 9600)
		dc, err := selectDevice(cfg)
		require.NoError(t, err)
		assert.Equal(t, "COM6", dc.Path)
		assert.Equal(t, 9600, dc.Baud)
	})

	t.Run("ad-hoc port", func(t *testing.T) {
		withConnectionFlags(t, "A", "/dev/ttyUSB0", "", 0)
		dc, err := selectDevice(cfg)
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyUSB0", dc.Path)
		assert.Equal(t, 115200, dc.Baud)
	})

	t.Run("websocket wins over port", func(t *testing.T) {
		withConnectionFlags(t, "A", "/dev/ttyUSB0", "ws://slate.local/serial", 0)
		dc, err := selectDevice(cfg)
		require.NoError(t, err)
		assert.Equal(t, "ws://slate.local/serial", dc.Path)
	})

	t.Run("unknown", func(t *testing.T) {
		withConnectionFlags(t, "z", "", "", 0)
		_, err := selectDevice(cfg)
		assert.EqualError(t, err, "unknown device 'Z'")
	})
}

func TestParseConsoleCommand(t *testing.T) {
	tests := []struct {
		line   string
		opcode uint16
		params []string
	}{
		{"4A 0|", 0x4A, []string{"0", ""}},
		{"0x26", 0x26, nil},
		{"  2A Hello world  ", 0x2A, []string{"Hello world"}},
		{"0x35 P|10.00", 0x35, []string{"P", "10.00"}},
		{"53 P|10.00", 53, []string{"P", "10.00"}},
		{"74", 74, nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, err := parseConsoleCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.opcode, c.opcode)
			assert.Equal(t, tt.params, c.params)
		})
	}

	_, err := parseConsoleCommand("   ")
	assert.Error(t, err)
	_, err = parseConsoleCommand("zz 1")
	assert.Error(t, err)
}

func TestIdentityLabel(t *testing.T) {
	assert.Equal(t, "pending", identityLabel(bridge.DeviceHealth{ID: "A"}))
	assert.Equal(t, "OK DT123456", identityLabel(bridge.DeviceHealth{
		Identity: &identity.Identity{Match: boolPtr(true), Actual: "DT123456"},
	}))
	assert.Equal(t, "MISMATCH DT2 (want DT1)", identityLabel(bridge.DeviceHealth{
		Identity: &identity.Identity{Match: boolPtr(false), Actual: "DT2", Expected: "DT1"},
	}))
	assert.Equal(t, identity.ErrorNotConnected, identityLabel(bridge.DeviceHealth{
		Identity: &identity.Identity{Match: boolPtr(false), Error: identity.ErrorNotConnected},
	}))
}

func TestFormatIdentityEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)

	line := formatIdentityEvent(now, httpapi.IdentityEvent{
		Type: httpapi.EventChange,
		Identity: identity.Identity{
			Device:   "B",
			Expected: "DT1",
			Actual:   "DT2",
			Match:    boolPtr(false),
			Path:     "COM6",
		},
	})
	assert.Equal(t, "[10:20:30.000] CHANGE B: MISMATCH expected DT1, got DT2 on COM6", line)

	line = formatIdentityEvent(now, httpapi.IdentityEvent{
		Type:     httpapi.EventSnapshot,
		Identity: identity.Identity{Device: "A"},
	})
	assert.Equal(t, "[10:20:30.000] SNAPSHOT A: not checked yet", line)
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "just now", formatAge(200*time.Millisecond))
	assert.Equal(t, "42s ago", formatAge(42*time.Second))
	assert.Equal(t, "2m 5s ago", formatAge(125*time.Second))
	assert.Equal(t, "1h 1m ago", formatAge(time.Hour+time.Minute+5*time.Second))
}

func TestDeviceRows(t *testing.T) {
	now := time.Now()
	h := bridge.Health{
		OK:          true,
		ExpectedMap: map[string]string{"B": "DT9"},
		Devices: []bridge.DeviceHealth{
			{
				ID: "A", Path: "COM11", Connected: true,
				Identity: &identity.Identity{
					Device: "A", Actual: "DT1", Expected: "DT1",
					Match: boolPtr(true), CheckedAt: now.Add(-3 * time.Second),
				},
			},
			{ID: "B", Path: "COM6"},
		},
	}

	rows := deviceRows(h, now)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0][0])
	assert.Equal(t, "connected", rows[0][2])
	assert.Equal(t, "OK DT1", rows[0][5])
	assert.Equal(t, "3s ago", rows[0][6])

	assert.Equal(t, "disconnected", rows[1][2])
	assert.Equal(t, "DT9", rows[1][4])
	assert.Equal(t, "never", rows[1][6])
}

func TestBridgeClient_Health(t *testing.T) {
	want := bridge.Health{
		OK: true,
		Devices: []bridge.DeviceHealth{
			{ID: "A", Path: "COM11", Baud: 115200, Connected: true},
		},
		ExpectedMap: map[string]string{"A": "DT1"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "application/cbor", r.Header.Get("Accept"))
		body, err := cbor.Marshal(want)
		if !assert.NoError(t, err) {
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client, err := newBridgeClient(srv.URL + "/")
	require.NoError(t, err)

	got, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, got.OK)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, "COM11", got.Devices[0].Path)
	assert.Equal(t, 115200, got.Devices[0].Baud)
	assert.Equal(t, "DT1", got.ExpectedMap["A"])
}

func TestBridgeClient_HealthStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := newBridgeClient(srv.URL)
	require.NoError(t, err)
	_, err = client.Health(context.Background())
	assert.EqualError(t, err, "health: HTTP 503")
}

func TestNewBridgeClient_Scheme(t *testing.T) {
	_, err := newBridgeClient("ftp://127.0.0.1:9000")
	assert.Error(t, err)
}

func TestMonitorModel_Health(t *testing.T) {
	m := initialMonitorModel(nil, 0)
	assert.Equal(t, 2*time.Second, m.interval)

	next, _ := m.Update(healthMsg{err: errors.New("connection refused")})
	m = next.(monitorModel)
	require.Len(t, m.eventLog, 1)
	assert.True(t, m.eventLog[0].isError)

	// Repeated failures are logged once.
	next, _ = m.Update(healthMsg{err: errors.New("connection refused")})
	m = next.(monitorModel)
	assert.Len(t, m.eventLog, 1)

	next, _ = m.Update(healthMsg{health: bridge.Health{OK: true, Devices: []bridge.DeviceHealth{{ID: "A"}}}})
	m = next.(monitorModel)
	assert.NoError(t, m.pollErr)
	require.NotNil(t, m.health)
	assert.Len(t, m.devices.Rows(), 1)
	assert.Equal(t, "Bridge reachable again", m.eventLog[len(m.eventLog)-1].message)
}

func TestControlModel_RecordResult(t *testing.T) {
	m := initialControlModel(nil, bridge.Health{Devices: []bridge.DeviceHealth{{ID: "A", Connected: true}}})
	c, err := parseConsoleCommand("4A 0|")
	require.NoError(t, err)

	m.recordResult(commandResultMsg{
		device:  "A",
		command: c,
		resp:    &datecs.Response{Command: 0x4A, OK: true, Data: "0\t1"},
		rtt:     40 * time.Millisecond,
	})
	assert.Equal(t, 1, m.ok)
	assert.False(t, m.eventLog[0].isError)

	m.recordResult(commandResultMsg{
		device:  "A",
		command: c,
		resp:    &datecs.Response{Command: 0x4A, ErrorCode: "-111008"},
	})
	assert.Equal(t, 1, m.failed)
	assert.True(t, m.eventLog[1].isError)

	m.recordResult(commandResultMsg{
		device:  "A",
		command: c,
		err:     &device.NoFrameError{Device: "A", Opcode: 0x4A, Attempts: 2},
	})
	assert.Equal(t, 2, m.failed)
	assert.Equal(t, 1, m.noFrame)
}

func TestControlModel_History(t *testing.T) {
	m := initialControlModel(nil, bridge.Health{Devices: []bridge.DeviceHealth{{ID: "A", Connected: true}}})
	m.cycleFocus()
	require.Equal(t, focusCommandInput, m.focusedField)

	for _, line := range []string{"26", "2A hi", "27"} {
		m.cmdInput.SetValue(line)
		next, _ := m.handleEnter()
		m = next.(controlModel)
		m.pending = false
	}
	assert.Equal(t, 3, m.sent)
	assert.Equal(t, []string{"26", "2A hi", "27"}, m.history)

	m.recallHistory(true)
	assert.Equal(t, "27", m.cmdInput.Value())
	m.recallHistory(true)
	assert.Equal(t, "2A hi", m.cmdInput.Value())
	m.recallHistory(false)
	m.recallHistory(false)
	assert.Equal(t, "", m.cmdInput.Value())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailure, ExitCode(errFailed))
	assert.Empty(t, errFailed.Error())

	err := connectionError(errors.New("COM11 busy"))
	assert.Equal(t, ExitConnectionError, ExitCode(err))
	assert.EqualError(t, err, "connection error: COM11 busy")
	assert.Equal(t, ExitConnectionError, ExitCode(fmt.Errorf("send: %w", err)))
}

func TestRequestFrame_Codepage(t *testing.T) {
	cp, err := datecs.LookupCodepage("cp1250")
	require.NoError(t, err)

	frame := requestFrame(cp, datecs.CmdNonFiscalText, []string{"Łódź", ""})
	seq, opcode, data := devicetest.Request(frame)
	assert.Equal(t, byte(datecs.SeqMin+1), seq)
	assert.Equal(t, uint16(datecs.CmdNonFiscalText), opcode)
	assert.Equal(t, "Łódź\t", cp.Decode([]byte(data)))
	assert.Equal(t, cp.Encode("Łódź\t"), []byte(data))

	ascii := requestFrame(datecs.Codepage{}, datecs.CmdReceiptStatus, []string{"0", ""})
	assert.Equal(t, datecs.BuildFrame(0x21, datecs.CmdReceiptStatus, []byte("0\t")), ascii)
}
