// internal/server/sse.go
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/arcadegent/internal/types"
)

// handleStream serves the per-session SSE event stream. Replay starts after
// the client's cursor (last_event_id query param, falling back to the
// standard Last-Event-ID header), then switches to live delivery. The
// stream ends when the run reaches a terminal event, when the client goes
// away, or when the idle window expires.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(strings.TrimPrefix(r.URL.Path, "/api/stream/"))
	if id == "" {
		writeErrorMessage(w, http.StatusBadRequest, "session id required")
		return
	}

	afterID, err := streamCursor(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "last_event_id must be a non-negative integer")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.events.Subscribe(id, afterID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()
	deadline := time.NewTimer(s.maxWait)
	defer deadline.Stop()

	for {
		select {
		case event, open := <-events:
			if !open {
				// Terminal event already delivered (or the subscriber was
				// dropped for falling behind); either way the stream is done.
				return
			}
			if err := writeSSE(w, event); err != nil {
				slog.Debug("sse write failed", "session_id", id, "error", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-deadline.C:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// streamCursor reads the resume cursor, query param first, header second.
func streamCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("last_event_id")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, fmt.Errorf("bad cursor %q", raw)
	}
	return cursor, nil
}

func writeSSE(w http.ResponseWriter, event *types.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Name, body)
	return err
}
