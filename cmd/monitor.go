// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/httpapi"
)

var (
	monitorServer   string
	monitorInterval int
	useTUI          bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a running bridge: devices, connections and identity changes",
	Long: `Poll the health endpoint of a running bridge and follow its identity
event stream.

The display shows every configured device with its port, connection state
and last identity check, plus a log of identity changes as they happen.

By default a terminal UI is used. With --tui=false, events are printed as
lines, which suits logging to a file.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVarP(&monitorServer, "server", "s", "http://127.0.0.1:9000", "Bridge base URL")
	monitorCmd.Flags().IntVar(&monitorInterval, "interval", 2, "Health poll interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// bridgeClient talks to a running bridge.
type bridgeClient struct {
	base *url.URL
	http *http.Client
}

func newBridgeClient(server string) (*bridgeClient, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server URL scheme: %s (use http:// or https://)", u.Scheme)
	}
	return &bridgeClient{base: u, http: &http.Client{Timeout: 5 * time.Second}}, nil
}

// Health fetches the health snapshot, CBOR encoded.
func (c *bridgeClient) Health(ctx context.Context) (bridge.Health, error) {
	var h bridge.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/health", nil)
	if err != nil {
		return h, err
	}
	req.Header.Set("Accept", "application/cbor")

	resp, err := c.http.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return h, err
	}
	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("health: HTTP %d", resp.StatusCode)
	}
	if err := cbor.Unmarshal(body, &h); err != nil {
		return h, fmt.Errorf("health: %w", err)
	}
	return h, nil
}

// Stream follows the identity event stream until ctx is done or the
// connection fails.
func (c *bridgeClient) Stream(ctx context.Context, fn func(httpapi.IdentityEvent)) error {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/ws/identity"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("identity stream failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("identity stream failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev httpapi.IdentityEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(ev)
	}
}

// streamWithRetry keeps the identity stream open, reconnecting with
// exponential backoff.
func (c *bridgeClient) streamWithRetry(ctx context.Context, fn func(httpapi.IdentityEvent), onErr func(error)) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		start := time.Now()
		err := c.Stream(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			onErr(err)
		}
		if time.Since(start) > maxBackoff {
			backoff = 1 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	client, err := newBridgeClient(monitorServer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if useTUI {
		return runMonitorTUI(ctx, client)
	}
	return runMonitorText(ctx, client)
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI(ctx context.Context, client *bridgeClient) error {
	m := initialMonitorModel(client, time.Duration(monitorInterval)*time.Second)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go client.streamWithRetry(ctx,
		func(ev httpapi.IdentityEvent) { p.Send(identityEventMsg(ev)) },
		func(err error) { p.Send(streamErrMsg{err: err}) },
	)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runMonitorText prints identity events and periodic device summaries.
func runMonitorText(ctx context.Context, client *bridgeClient) error {
	fmt.Printf("datecs-bridge - Monitor\n")
	fmt.Printf("Server: %s\n", client.base)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go client.streamWithRetry(ctx,
		func(ev httpapi.IdentityEvent) { fmt.Println(formatIdentityEvent(time.Now(), ev)) },
		func(err error) { fmt.Printf("[%s] [ERROR] %v\n", time.Now().Format("15:04:05.000"), err) },
	)

	ticker := time.NewTicker(time.Duration(monitorInterval) * time.Second)
	defer ticker.Stop()

	for {
		h, err := client.Health(ctx)
		if err != nil {
			fmt.Printf("[%s] [ERROR] %v\n", time.Now().Format("15:04:05.000"), err)
		} else {
			fmt.Print(formatHealth(h))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// formatIdentityEvent renders one stream event as a log line.
func formatIdentityEvent(now time.Time, ev httpapi.IdentityEvent) string {
	return fmt.Sprintf("[%s] %s", now.Format("15:04:05.000"), describeIdentityEvent(ev))
}

func describeIdentityEvent(ev httpapi.IdentityEvent) string {
	id := ev.Identity
	line := fmt.Sprintf("%s %s: ", strings.ToUpper(ev.Type), id.Device)
	switch {
	case id.Match == nil:
		line += "not checked yet"
	case *id.Match:
		line += "identity OK (" + id.Actual + ")"
	case id.Actual != "" && id.Expected != "" && id.Actual != id.Expected:
		line += fmt.Sprintf("MISMATCH expected %s, got %s", id.Expected, id.Actual)
	default:
		line += id.Error
	}
	if id.Path != "" {
		line += " on " + id.Path
	}
	return line
}

// formatHealth renders a health snapshot as a compact text block.
func formatHealth(h bridge.Health) string {
	var s strings.Builder
	fmt.Fprintf(&s, "[%s] %d devices", time.Now().Format("15:04:05.000"), len(h.Devices))
	if h.BlockAllOnMismatch {
		s.WriteString(" (block all on mismatch)")
	}
	s.WriteString("\n")
	for _, d := range h.Devices {
		fmt.Fprintf(&s, "  %-4s %-14s %-12s %s\n", d.ID, d.Path, connectedLabel(d.Connected), identityLabel(d))
	}
	return s.String()
}

func connectedLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func identityLabel(d bridge.DeviceHealth) string {
	id := d.Identity
	switch {
	case id == nil || id.Match == nil:
		return "pending"
	case *id.Match:
		return "OK " + id.Actual
	case id.Actual != "" && id.Expected != "":
		return fmt.Sprintf("MISMATCH %s (want %s)", id.Actual, id.Expected)
	default:
		return id.Error
	}
}
