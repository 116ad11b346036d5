package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

// handleEvents streams bus events to a WebSocket client as JSON text
// frames. Events are dropped for clients that fall behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusNotFound, ErrorResponse{Error: "event stream disabled"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.WSConnectionsActive.Inc()
		defer s.metrics.WSConnectionsActive.Dec()
	}

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)
	s.logger.Debug("event stream opened", "remote", r.RemoteAddr, "subscribers", s.bus.SubscriberCount())

	// The client never sends data; reading keeps pongs flowing and
	// notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("event stream read error", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(e)
}
