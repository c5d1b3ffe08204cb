package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yungbote/assistant-gateway/internal/logger"
)

const DefaultKeepalive = 15 * time.Second

// Stream serves one event-stream connection: each value read from events is
// written as a "data: <json>" frame, with a ":keepalive" comment line every
// interval so intermediaries keep the connection open. Returns when the
// request context ends or events closes.
func Stream(w http.ResponseWriter, r *http.Request, events <-chan any, keepalive time.Duration, log *logger.Logger) {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(keepalive)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected", "err", ctx.Err())
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				log.Warn("Failed to marshal SSE event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
