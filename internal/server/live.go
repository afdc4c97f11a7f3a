package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the page may be served from a dev proxy
	},
}

const writeWait = 2 * time.Second

// live pushes a snapshot to the client on every tick until the client goes
// away or the server shuts down. Client messages are read and discarded.
func (s *Server) live(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed.", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Debug("WebSocket client connected.", "remote_addr", c.ClientIP())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ctx := c.Request.Context()

	for {
		snap, err := s.ctrl.Snapshot()
		if err != nil {
			s.logger.Error("Snapshot failed.", "error", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			s.logger.Debug("WebSocket client went away.", "error", err)
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
