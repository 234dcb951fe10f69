package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joescharf/panel/internal/models"
)

// pingInterval keeps idle SSE connections alive through proxies.
const pingInterval = 15 * time.Second

// streamEvents serves a review's progress as server-sent events: a
// control event first, then the buffered history, then live events
// until the terminal sentinel. Disconnecting only drops the
// subscription; the review keeps running.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The control event tells a client whether it is replaying.
	writeSSE(w, models.ProgressEvent{
		Type:      models.EventControl,
		TaskID:    sess.TaskID,
		Time:      time.Now().UTC(),
		Reconnect: len(sess.History()) > 0,
	})
	flusher.Flush()

	ch := sess.Subscribe()
	defer sess.Unsubscribe(ch)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeSSE(w, models.ProgressEvent{Type: models.EventPing, Time: time.Now().UTC()})
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev models.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
