// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// EnvWebSocketPassword supplies the basic-auth password for websocket
// device links.
const EnvWebSocketPassword = "DATECS_WS_PASSWORD"

// WebSocketOptions configures OpenWebSocket.
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	// Prompt allows asking for a missing password on the terminal.
	Prompt bool
}

// WebSocketTransport carries device bytes as binary websocket messages,
// for serial ports exposed through a network bridge.
type WebSocketTransport struct {
	conn    *websocket.Conn
	chunks  chan []byte
	done    chan struct{}
	writeMu sync.Mutex
	open    atomic.Bool
	once    sync.Once
}

// OpenWebSocket dials a websocket device link. A username embedded in the
// URL is used for HTTP Basic auth.
func OpenWebSocket(wsURL string, opts WebSocketOptions) (*WebSocketTransport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	if u.User != nil {
		if opts.Username == "" {
			opts.Username = u.User.Username()
		}
		if pw, ok := u.User.Password(); ok && opts.Password == "" {
			opts.Password = pw
		}
		u.User = nil
	}
	if opts.Username != "" && opts.Password == "" {
		pw, err := GetPassword(opts.Prompt)
		if err != nil {
			return nil, err
		}
		opts.Password = pw
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocketTransport(conn), nil
}

// NewWebSocketTransport wraps an established connection and starts its
// reader.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	w := &WebSocketTransport{
		conn:   conn,
		chunks: make(chan []byte, chunkBuffer),
		done:   make(chan struct{}),
	}
	w.open.Store(true)
	go w.readLoop()
	return w
}

func (w *WebSocketTransport) readLoop() {
	defer close(w.chunks)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.open.Store(false)
			return
		}
		// Only binary messages carry device bytes
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.chunks <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketTransport) Write(p []byte) (int, error) {
	if !w.open.Load() {
		return 0, ErrTransportClosed
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush drops queued chunks. The remote side owns the physical buffer.
func (w *WebSocketTransport) Flush() error {
	if !w.open.Load() {
		return ErrTransportClosed
	}
	drain(w.chunks)
	return nil
}

func (w *WebSocketTransport) Chunks() <-chan []byte {
	return w.chunks
}

func (w *WebSocketTransport) IsOpen() bool {
	return w.open.Load()
}

func (w *WebSocketTransport) Close() error {
	var err error
	w.once.Do(func() {
		w.open.Store(false)
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// GetPassword retrieves the password from the environment or, when prompt
// is set, asks for it on the terminal.
func GetPassword(prompt bool) (string, error) {
	if pw := os.Getenv(EnvWebSocketPassword); pw != "" {
		return pw, nil
	}
	if !prompt {
		return "", fmt.Errorf("websocket password required (set %s)", EnvWebSocketPassword)
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
