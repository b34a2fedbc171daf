// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/marker"
)

const (
	streamBufferSize = 16
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

// StreamMessage is a single message on the websocket stream.
type StreamMessage struct {
	Type    string          `json:"type"`
	Payload marker.Snapshot `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleStream upgrades the connection and sends the current snapshot followed by every
// published one until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket connection", logger.Err(err))
		return
	}
	defer func() {
		if err = conn.Close(); err != nil {
			s.log.Debug("failed to close websocket connection", logger.Err(err))
		}
	}()
	s.log.Debug("websocket client connected", slog.String("remote", r.RemoteAddr))

	sub, unsub := s.coord.SubscribeChan(streamBufferSize)
	defer unsub()

	// Incoming messages are discarded, a read error means the client is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err = s.send(conn, "snapshot", s.coord.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			s.log.Debug("websocket client disconnected", slog.String("remote", r.RemoteAddr))
			return
		case <-ping.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case snap, ok := <-sub:
			if !ok {
				return
			}
			if err = s.send(conn, "snapshot", snap); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, kind string, snap marker.Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(StreamMessage{Type: kind, Payload: snap}); err != nil {
		s.log.Debug("failed to write to websocket client", logger.Err(err))
		return err
	}
	return nil
}
