package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/types"
)

// streamFrame is one line pushed down the event stream connection.
// {type, timestamp, ...} per spec.md §6; the event's payload map is
// carried as a nested "payload" object (omitted when empty), so
// workflow_id/pr_number/etc. are read from frame.payload.
type streamFrame struct {
	Type      types.EventType   `json:"type"`
	Timestamp string            `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// streamHandler serves a long-lived, newline-delimited JSON connection
// fed from the event bus. No websocket library exists anywhere in the
// retrieved pack, so this follows the plainer http.Flusher push pattern
// instead — one JSON object per line, flushed as each event arrives.
// The optional "project" query parameter scopes delivery to one
// project's workflows.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not initialized")
		return
	}

	project := r.URL.Query().Get("project")
	subID := "stream-" + uuid.NewString()
	sub := s.bus.Subscribe(subID, func(ev types.Event) bool {
		return project == "" || ev.Payload["project_id"] == project
	})
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, flusher, streamFrame{
		Type:      types.EventConnectionEstablished,
		Timestamp: nowRFC3339(),
	})

	logger := log.WithComponent("api")
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			frame := streamFrame{
				Type:      ev.Type,
				Timestamp: ev.Timestamp.Format(rfc3339),
				Payload:   ev.Payload,
			}
			if !writeFrame(w, flusher, frame) {
				logger.Debug().Str("subscriber", subID).Msg("event stream client disconnected")
				return
			}
		}
	}
}

const rfc3339 = time.RFC3339Nano

func nowRFC3339() string {
	return time.Now().Format(rfc3339)
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
