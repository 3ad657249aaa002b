package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

// StreamEvents handles GET /api/sessions/{sessionID}/events
// Streams the current snapshot and then every change as server-sent events
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, release, ok := s.sessions.Watch(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", map[string]interface{}{
			"sessionId": id,
		})
		return
	}
	defer release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	// Listeners run under the session lock, so a slow client only loses
	// intermediate snapshots
	updates := make(chan tracking.Snapshot, 8)
	unsubscribe := sess.OnSnapshotChanged(func(snap tracking.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", sess.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			fmt.Fprint(w, "event: closed\ndata: {}\n\n")
			flusher.Flush()
			return
		case snap := <-updates:
			if err := writeEvent(w, "snapshot", snap); err != nil {
				s.log.Debug(r.Context(), "event stream write failed", logging.Err(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
