package events

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// KeepAliveInterval is how often an idle stream receives a comment line.
var KeepAliveInterval = 15 * time.Second

// Handler streams hub events as server-sent events. Buffered events newer than
// the Last-Event-ID header are replayed first.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		// Subscribe before replaying so nothing published in between is missed.
		ch, cancel := hub.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		lastID := ParseLastEventID(r.Header.Get("Last-Event-ID"))
		for _, ev := range hub.SnapshotSince(lastID) {
			if err := WriteSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
		}
		flusher.Flush()

		keepAlive := time.NewTicker(KeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.ID <= lastID {
					continue
				}
				if err := WriteSSE(w, ev); err != nil {
					return
				}
				lastID = ev.ID
				flusher.Flush()
			case <-keepAlive.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// ParseLastEventID parses a Last-Event-ID header. Invalid values mean 0.
func ParseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// WriteSSE writes one event frame. Data is expected to be single-line JSON.
func WriteSSE(w io.Writer, ev Event) error {
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	frame += "data: " + string(ev.Data) + "\n\n"
	_, err := io.WriteString(w, frame)
	return err
}
