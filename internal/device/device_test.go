// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/internal/device/devicetest"
	"github.com/Thermoquad/datecs-bridge/internal/logging"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// ============================================================
// Test Helpers
// ============================================================

func testSettings(retries int) device.Settings {
	return device.Settings{
		ID:           "A",
		Path:         "COM-TEST",
		Baud:         115200,
		Timeout:      40 * time.Millisecond,
		Retries:      retries,
		RetryDelay:   time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func newDevice(t *testing.T, retries int, respond devicetest.Responder) (*device.Device, *devicetest.Transport) {
	t.Helper()
	fake := devicetest.New(respond)
	d := device.New(testSettings(retries), fake.Opener(), logging.Nop())
	require.NoError(t, d.Connect())
	t.Cleanup(func() { d.Close() })
	return d, fake
}

var saleParams = []string{"ITEM", "1", "1.00", "1.000", "", "", "1", "BUC", ""}

// ============================================================
// Execute
// ============================================================

func TestExecute_SaleEcho(t *testing.T) {
	d, fake := newDevice(t, 2, devicetest.Echo())

	resp, err := d.Execute(context.Background(), datecs.CmdSale, saleParams, device.CallOptions{})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "", resp.Data)
	assert.Equal(t, uint16(datecs.CmdSale), resp.Command)

	writes := fake.Writes()
	require.Len(t, writes, 1)
	_, opcode, data := devicetest.Request(writes[0])
	assert.Equal(t, uint16(datecs.CmdSale), opcode)
	assert.Equal(t, "ITEM\t1\t1.00\t1.000\t\t\t1\tBUC\t", data)
}

func TestExecute_ChunkedResponse(t *testing.T) {
	d, _ := newDevice(t, 1, devicetest.Split(3, devicetest.Fixed("0\t1\t5")))

	resp, err := d.Execute(context.Background(), datecs.CmdReceiptStatus, []string{"0", ""}, device.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "5", resp.Field(2))
}

func TestExecute_RetryBound(t *testing.T) {
	const retries = 3

	t.Run("succeeds on last attempt", func(t *testing.T) {
		d, fake := newDevice(t, retries, devicetest.FailFirst(retries-1, devicetest.Echo()))
		resp, err := d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.Len(t, fake.Writes(), retries)
	})

	t.Run("fails when one more attempt is needed", func(t *testing.T) {
		d, fake := newDevice(t, retries, devicetest.FailFirst(retries, devicetest.Echo()))
		_, err := d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, datecs.ErrNoFrame))

		var nf *device.NoFrameError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, retries, nf.Attempts)
		assert.Equal(t, "A", nf.Device)
		assert.NotEmpty(t, nf.Partial)
		assert.Len(t, fake.Writes(), retries)
	})
}

func TestExecute_CallOptionsRetries(t *testing.T) {
	t.Run("lowers the attempt count", func(t *testing.T) {
		d, fake := newDevice(t, 3, nil)
		_, err := d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{Retries: 1})
		assert.ErrorIs(t, err, datecs.ErrNoFrame)
		assert.Len(t, fake.Writes(), 1)
	})

	t.Run("capped at the configured count", func(t *testing.T) {
		d, fake := newDevice(t, 2, nil)
		_, err := d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{Retries: 40})
		var nf *device.NoFrameError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, 2, nf.Attempts)
		assert.Len(t, fake.Writes(), 2)
	})

	t.Run("policy", func(t *testing.T) {
		d, _ := newDevice(t, 2, nil)
		tests := []struct {
			opts     device.CallOptions
			attempts int
			delay    time.Duration
		}{
			{device.CallOptions{}, 2, time.Millisecond},
			{device.CallOptions{Retries: 1}, 1, time.Millisecond},
			{device.CallOptions{Retries: 1000}, 2, time.Millisecond},
			{device.CallOptions{RetryDelay: 20 * time.Millisecond}, 2, 20 * time.Millisecond},
			{device.CallOptions{RetryDelay: time.Hour}, 2, device.MaxRetryDelay},
		}
		for _, tt := range tests {
			attempts, delay := d.Policy(tt.opts)
			assert.Equal(t, tt.attempts, attempts, "%+v", tt.opts)
			assert.Equal(t, tt.delay, delay, "%+v", tt.opts)
		}
	})
}

func TestExecute_SilentDevice(t *testing.T) {
	d, _ := newDevice(t, 2, nil)
	_, err := d.Execute(context.Background(), datecs.CmdDeviceInfo, []string{"1"}, device.CallOptions{})
	var nf *device.NoFrameError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, nf.Partial)
}

func TestExecute_DeviceErrorNotRetried(t *testing.T) {
	d, fake := newDevice(t, 3, devicetest.Fixed("-111008"))
	resp, err := d.Execute(context.Background(), datecs.CmdSale, saleParams, device.CallOptions{})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "-111008", resp.ErrorCode)
	assert.Len(t, fake.Writes(), 1)
}

func TestExecute_WriteErrorNotRetried(t *testing.T) {
	d, fake := newDevice(t, 3, devicetest.Echo())
	fake.FailWrites(errors.New("cable pulled"))
	_, err := d.Execute(context.Background(), datecs.CmdSale, saleParams, device.CallOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cable pulled")
	assert.False(t, errors.Is(err, datecs.ErrNoFrame))
}

func TestExecute_NotOpen(t *testing.T) {
	d, fake := newDevice(t, 2, devicetest.Echo())
	fake.Close()
	assert.False(t, d.IsConnected())

	_, err := d.Execute(context.Background(), datecs.CmdDeviceInfo, []string{"1"}, device.CallOptions{})
	assert.ErrorIs(t, err, device.ErrNotOpen)
	assert.Empty(t, fake.Writes())

	require.NoError(t, d.Connect())
	_, err = d.Execute(context.Background(), datecs.CmdDeviceInfo, []string{"1"}, device.CallOptions{})
	assert.NoError(t, err)
}

func TestExecute_SequenceAdvancesPerAttempt(t *testing.T) {
	d, fake := newDevice(t, 2, devicetest.FailFirst(1, devicetest.Echo()))
	_, err := d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
	require.NoError(t, err)

	var seqs []byte
	for _, w := range fake.Writes() {
		seq, _, _ := devicetest.Request(w)
		seqs = append(seqs, seq)
	}
	assert.Equal(t, []byte{0x21, 0x22, 0x23}, seqs)
}

func TestExecute_FIFOAndNoInterleaving(t *testing.T) {
	d, fake := newDevice(t, 1, devicetest.Reply(func(_ uint16, data string) string { return data }))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := []string{string(rune('a' + i))}
			resp, err := d.Execute(context.Background(), datecs.CmdNonFiscalText, p, device.CallOptions{})
			if err != nil {
				errs <- err
				return
			}
			if resp.Data != p[0] {
				errs <- errors.New("response routed to the wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	// Sequence numbers are strictly increasing: one frame at a time
	writes := fake.Writes()
	require.Len(t, writes, n)
	for i := 1; i < n; i++ {
		prev, _, _ := devicetest.Request(writes[i-1])
		cur, _, _ := devicetest.Request(writes[i])
		assert.Equal(t, prev+1, cur)
	}
}

// silentFirst ignores the first write and echoes the data of the rest.
func silentFirst() devicetest.Responder {
	echo := devicetest.Reply(func(_ uint16, data string) string { return data })
	return func(n int, frame []byte) [][]byte {
		if n == 1 {
			return nil
		}
		return echo(n, frame)
	}
}

func waitWrites(t *testing.T, fake *devicetest.Transport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(fake.Writes()) >= n },
		time.Second, time.Millisecond)
}

func TestExecute_DevicesIndependent(t *testing.T) {
	slowSettings := testSettings(1)
	slowSettings.Timeout = 400 * time.Millisecond
	slowFake := devicetest.New(nil)
	a := device.New(slowSettings, slowFake.Opener(), logging.Nop())
	require.NoError(t, a.Connect())
	t.Cleanup(func() { a.Close() })

	b, _ := newDevice(t, 1, devicetest.Echo())

	aDone := make(chan error, 1)
	go func() {
		_, err := a.Execute(context.Background(), datecs.CmdDeviceInfo, []string{"1"}, device.CallOptions{})
		aDone <- err
	}()
	waitWrites(t, slowFake, 1)

	start := time.Now()
	resp, err := b.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Less(t, elapsed, slowSettings.Timeout/2)

	select {
	case <-aDone:
		t.Fatal("device A finished before its timeout")
	default:
	}
	assert.ErrorIs(t, <-aDone, datecs.ErrNoFrame)
}

func TestExecute_ArrivalOrder(t *testing.T) {
	s := testSettings(1)
	s.Timeout = 200 * time.Millisecond
	fake := devicetest.New(silentFirst())
	d := device.New(s, fake.Opener(), logging.Nop())
	require.NoError(t, d.Connect())
	t.Cleanup(func() { d.Close() })

	// Occupy the worker so the following callers queue up
	go d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
	waitWrites(t, fake, 1)

	order := []string{"first", "second", "third", "fourth", "fifth"}
	var wg sync.WaitGroup
	for _, text := range order {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			resp, err := d.Execute(context.Background(), datecs.CmdNonFiscalText, []string{text}, device.CallOptions{})
			if assert.NoError(t, err) {
				assert.Equal(t, text, resp.Data)
			}
		}(text)
		// Let this caller block on the queue before the next one arrives
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	writes := fake.Writes()
	require.Len(t, writes, len(order)+1)
	var got []string
	for _, w := range writes[1:] {
		_, _, data := devicetest.Request(w)
		got = append(got, data)
	}
	assert.Equal(t, order, got)
}

func TestExecute_NoFrameDoesNotBlockQueue(t *testing.T) {
	d, fake := newDevice(t, 1, silentFirst())

	first := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), datecs.CmdDeviceInfo, []string{"1"}, device.CallOptions{})
		first <- err
	}()
	waitWrites(t, fake, 1)

	resp, err := d.Execute(context.Background(), datecs.CmdNonFiscalText, []string{"next"}, device.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "next", resp.Data)

	var nf *device.NoFrameError
	require.ErrorAs(t, <-first, &nf)
	assert.Equal(t, uint16(datecs.CmdDeviceInfo), nf.Opcode)
}

func TestExecute_ContextBoundsQueueWait(t *testing.T) {
	d, _ := newDevice(t, 1, nil)

	// Occupy the worker with a silent command
	go d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Execute(ctx, datecs.CmdCloseFiscal, nil, device.CallOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_AfterClose(t *testing.T) {
	d, _ := newDevice(t, 1, devicetest.Echo())
	require.NoError(t, d.Close())
	_, err := d.Execute(context.Background(), datecs.CmdCloseFiscal, nil, device.CallOptions{})
	assert.ErrorIs(t, err, device.ErrStopped)
}

func TestExecute_Codepage(t *testing.T) {
	cp, err := datecs.LookupCodepage("cp1250")
	require.NoError(t, err)

	fake := devicetest.New(devicetest.Reply(func(_ uint16, data string) string { return data }))
	s := testSettings(1)
	s.Codepage = cp
	d := device.New(s, fake.Opener(), logging.Nop())
	require.NoError(t, d.Connect())
	t.Cleanup(func() { d.Close() })

	resp, err := d.Execute(context.Background(), datecs.CmdNonFiscalText, []string{"pâine"}, device.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pâine", resp.Data)

	_, _, raw := devicetest.Request(fake.Writes()[0])
	assert.Equal(t, "p\xe2ine", raw)
}

// ============================================================
// State
// ============================================================

func TestState(t *testing.T) {
	assert.Equal(t, "incomplete", device.StateIncomplete.String())
	assert.True(t, device.StateCompleteError.Terminal())
	assert.False(t, device.StateSent.Terminal())
}

func TestIsWebSocketPath(t *testing.T) {
	assert.True(t, device.IsWebSocketPath("ws://bridge.local/serial"))
	assert.True(t, device.IsWebSocketPath(" WSS://bridge.local "))
	assert.False(t, device.IsWebSocketPath("COM11"))
	assert.False(t, device.IsWebSocketPath("/dev/ttyUSB0"))
}
