package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

type wsConnection struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  s.hub,
	}

	// Late joiners start from the current status.
	snap := s.ctl.Snapshot()
	if data, err := json.Marshal(Event{Type: EventStatus, Text: snap.Status, Severity: snap.Severity, Timestamp: time.Now()}); err == nil {
		wsConn.send <- data
	}
	s.hub.Add(wsConn)
	slog.Debug("Subscriber connected", "subscriber", wsConn.id, "remoteAddr", r.RemoteAddr)

	go wsConn.writePump()
	go wsConn.readPump()
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					slog.Debug("Failed to send close frame", "subscriber", c.id, "error", err)
				}
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				w.Close()
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		c.hub.Remove(c.id)
		c.conn.Close()
		slog.Debug("Subscriber disconnected", "subscriber", c.id)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
