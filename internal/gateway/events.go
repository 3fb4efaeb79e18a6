// ABOUTME: Server-sent events stream of the caller's job updates
// ABOUTME: Relays JobEvents from the broadcaster with periodic keepalives

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseKeepalive = 25 * time.Second

// handleEvents handles GET /api/events.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := g.identity(w, r)
	if id == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, _ := g.broadcaster.Subscribe(r.Context(), id.UserID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "ready", map[string]string{"user_id": id.UserID})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
}
