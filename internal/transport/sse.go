package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"docsearch-mcp/internal/logging"
	"docsearch-mcp/internal/mcpserver"
)

// defaultSSEIdleTimeout bounds a connection when Config.SSEIdleTimeout is
// unset, matching the hard per-connection timeout §4.J/§5 require.
const defaultSSEIdleTimeout = 10 * time.Minute

func contextWithHardTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultSSEIdleTimeout
	}
	return context.WithTimeout(parent, d)
}

// sseHeartbeatInterval matches pkg/mcp/transport/sse.go's default.
const sseHeartbeatInterval = 30 * time.Second

// handleSSE upgrades a GET request into a server-sent-events stream of
// heartbeats and any notifications/progress pushes for the caller's
// session (§6.2, §4.J). It enforces a hard per-connection timeout so a
// client that never disconnects does not pin a goroutine forever.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required for SSE upgrade", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	notes, unsubscribe := h.server.Subscribe(sessionID)
	defer unsubscribe()

	ctx, cancel := contextWithHardTimeout(r.Context(), h.cfg.SSEIdleTimeout)
	defer cancel()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case note, ok := <-notes:
			if !ok {
				return
			}
			writeSSEEvent(w, flusher, note)
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, note mcpserver.Notification) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  note.Method,
		"params":  note.Params,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logging.TransportLogger.WithError(err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", note.Method, data); err != nil {
		return
	}
	flusher.Flush()
}
