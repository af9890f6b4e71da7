package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const heartbeatInterval = 25 * time.Second

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := s.session.Subscribe()
	defer unsubscribe()
	streamEvents(w, r, "session", ch)
}

func (s *Server) handleLevelEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := s.session.SubscribeLevel()
	defer unsubscribe()
	streamEvents(w, r, "level", ch)
}

// streamEvents writes each value from ch as a server-sent event until the
// client goes away or ch is closed. Slow clients only see the latest value.
func streamEvents[T any](w http.ResponseWriter, r *http.Request, event string, ch <-chan T) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case v, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
