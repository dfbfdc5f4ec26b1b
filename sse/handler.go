package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kbukum/stepflow/logger"
)

// KeepAlive is the comment interval; it stays below common proxy idle
// timeouts.
var KeepAlive = 30 * time.Second

// Serve streams frames to the client until a final frame is written, the
// request ends or the hub stops. replay is written first; live frames whose
// id was already replayed are skipped. Callers register before building
// replay so nothing falls between the two.
func Serve(w http.ResponseWriter, r *http.Request, hub *Hub, client *Client, replay []Frame) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		hub.Unregister(client)
		return
	}
	defer hub.Unregister(client)

	// Streams outlive the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		hub.log.Debug("Could not clear stream write deadline", logger.Fields("client_id", client.id, logger.FieldError, err.Error()))
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]string{"client_id": client.id})
	writeFrame(w, Frame{Event: EventConnected, Data: hello})

	seen := make(map[string]struct{}, len(replay))
	for _, f := range replay {
		seen[f.ID] = struct{}{}
		writeFrame(w, f)
		if f.Final {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-client.Frames():
			if !ok {
				return
			}
			if _, dup := seen[f.ID]; dup {
				continue
			}
			writeFrame(w, f)
			flusher.Flush()
			if f.Final {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": %s %d\n\n", EventKeepAlive, time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, f Frame) {
	if f.ID != "" {
		fmt.Fprintf(w, "id: %s\n", f.ID)
	}
	if f.Event != "" {
		fmt.Fprintf(w, "event: %s\n", f.Event)
	}
	fmt.Fprintf(w, "data: %s\n\n", f.Data)
}
