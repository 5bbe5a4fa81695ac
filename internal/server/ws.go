package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsUpdateBuffer = 16
)

// handleWebSocket streams an Update per applied row until the client goes
// away or the server shuts down. Clients only listen; anything they send is
// discarded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return // the upgrader has replied already
	}

	s.clients.Add(1)
	defer s.clients.Done()

	clientID := uuid.NewString()
	logger := s.logger.With(slog.String("client", clientID))
	logger.Info("websocket client connected", slog.String("remote", r.RemoteAddr))

	if s.metrics != nil {
		s.metrics.wsClients.Inc()
		defer s.metrics.wsClients.Dec()
	}

	updates, unsubscribe := s.viewer.Subscribe(wsUpdateBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)

		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer func() {
		_ = conn.Close()
		<-closed
		logger.Info("websocket client disconnected")
	}()

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return

		case <-closed:
			return

		case u, ok := <-updates:
			if !ok {
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
			if s.metrics != nil {
				s.metrics.wsDelivered.Inc()
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
