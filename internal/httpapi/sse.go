package httpapi

import (
	"encoding/json"
	"net/http"
)

// startSSE sets the response headers an event-stream needs and
// returns the flusher, or false if the response writer doesn't
// support flushing (it always does under net/http, this only guards
// against a test ResponseRecorder or an exotic middleware wrapper).
func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	return flusher, ok
}

// writeSSEEvent writes one named SSE event with a JSON-encoded data
// payload, flushing immediately.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + name + "\ndata: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeSSEComment writes a comment line, used as a keepalive to
// defeat intermediary idle-connection timeouts.
func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	w.Write([]byte(": " + comment + "\n\n"))
	flusher.Flush()
}
