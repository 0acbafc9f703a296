package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocketHandler serves the live event stream over WebSocket, one JSON
// object per message. Same wire format and ordering as the SSE endpoint.
func (s *HTTPServer) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("error", err).Warn("WebSocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe()
	s.updateSubscriberGauge()

	s.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
		"remote_ip":     r.RemoteAddr,
	}).Info("WebSocket client connected")

	done := make(chan struct{})

	// read loop: discards inbound frames, detects disconnect
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.Unsubscribe(sub.ID)
		s.updateSubscriberGauge()
		conn.Close()
		s.logger.WithField("subscriber_id", sub.ID).Info("WebSocket client disconnected")
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-r.Context().Done():
			return

		case msg, open := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
