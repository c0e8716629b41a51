// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/datecs-bridge/internal/identity"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 16
)

// IdentityEvent is one message on /ws/identity.
type IdentityEvent struct {
	Type     string             `json:"type"`
	Identity identity.Identity  `json:"identity"`
	Previous *identity.Identity `json:"previous,omitempty"`
}

// Event types
const (
	EventSnapshot = "snapshot"
	EventChange   = "change"
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin)
		},
	}
}

// handleIdentityStream sends the current snapshots, then every identity
// change until the client goes away.
func (s *Server) handleIdentityStream(c *gin.Context) {
	if s.events == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "identity monitor disabled"})
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.events.Subscribe(wsBuffer)
	defer unsubscribe()

	snaps := s.events.Snapshots()
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := writeEvent(conn, IdentityEvent{Type: EventSnapshot, Identity: snaps[id]}); err != nil {
			return
		}
	}

	// Inbound messages are ignored; the reader only detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			prev := ch.Previous
			if err := writeEvent(conn, IdentityEvent{Type: EventChange, Identity: ch.Current, Previous: &prev}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev IdentityEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}
