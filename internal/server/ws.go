package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/broadcast"
	"github.com/alfredjeanlab/homewatch/internal/idgen"
	"github.com/alfredjeanlab/homewatch/internal/presence"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// handleWebSocket handles GET /ws. Authentication already happened in
// AuthMiddleware via the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.origins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := broadcast.NewQueueSubscriber(idgen.SubscriberID(), s.subscriberBuffer)
	replay, err := s.motion.SubscribeFrom(sub, replayFrom(r))
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		return
	}
	defer s.motion.Unsubscribe(sub)

	s.Presence.Join(presence.Viewer{
		ID:         sub.ID(),
		User:       UserFromContext(r.Context()),
		Transport:  presence.TransportWebSocket,
		RemoteAddr: r.RemoteAddr,
	})
	defer s.Presence.Leave(sub.ID())

	// The reader only exists to notice the client going away and to
	// process pongs; inbound messages are ignored.
	gone := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg api.WSMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}

	if err := send(api.WSMessage{Type: api.MessageInfo, Message: "Connected to motion event stream"}); err != nil {
		return
	}
	for _, ev := range replay {
		if err := send(api.WSMessage{Type: api.MessageMotion, Payload: ev}); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber dropped"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := send(api.WSMessage{Type: api.MessageMotion, Payload: ev}); err != nil {
				s.logger.Debug("websocket write failed", "subscriber", sub.ID(), "error", err)
				return
			}
			s.Presence.Touch(sub.ID())
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
