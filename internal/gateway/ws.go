package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CRM frontend is served from a different origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleWS streams bus events to a WebSocket client as JSON envelopes. The
// optional "namespace" query parameter filters by event kind prefix
// (comma-separated for several) and "tenant" narrows to one tenant's
// events. A slow client loses events rather than stalling publishers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	var prefixes []string
	if raw := r.URL.Query().Get("namespace"); raw != "" {
		prefixes = strings.Split(raw, ",")
	}
	ch, unsub := s.bus.SubscribeTenant(r.URL.Query().Get("tenant"), 256, prefixes...)
	defer unsub()

	// Reader goroutine: detect client disconnect and drain control frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt.Envelope()); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
