package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// streamHandler serves the live event stream over Server-Sent Events. Each
// event is one JSON object; no backfill is sent. The subscriber is removed
// from the hub on every exit path, including abrupt client disconnects.
func (s *HTTPServer) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe()
	defer func() {
		s.hub.Unsubscribe(sub.ID)
		s.updateSubscriberGauge()
	}()
	s.updateSubscriberGauge()

	s.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
		"remote_ip":     r.RemoteAddr,
	}).Info("Stream client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.WithField("subscriber_id", sub.ID).Info("Stream client disconnected")
			return

		case msg, open := <-sub.Events():
			if !open {
				return
			}

			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.WithField("error", err).Error("Failed to encode stream message")
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
