package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"taskengine/internal/eventbus"
)

// streamSSE writes event-stream framing for sub until the client
// disconnects or the subscription ends (topic closed, or dropped for
// overflow). Each event is one `data: <json>\n\n` frame; idle periods get
// a `: keepalive\n\n` comment frame every KeepaliveInterval, per spec §6.
func streamSSE(w http.ResponseWriter, r *http.Request, sub *eventbus.Subscription) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	defer sub.Unsubscribe()

	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
