package httpapi

import (
	"net/http"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/events"
)

// handleServerEvents forwards every "sse" bus event to the client,
// using the event's own type as the SSE event name.
func (s *Server) handleServerEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		s.writeError(w, coreerr.New(coreerr.Internal, "streaming not supported"))
		return
	}

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Kind != events.KindSSE {
				continue
			}
			name, _ := ev.Data["type"].(string)
			if name == "" {
				name = "message"
			}
			if err := writeSSEEvent(w, flusher, name, ev.Data["data"]); err != nil {
				return
			}
		case <-ticker.C:
			writeSSEComment(w, flusher, "keepalive")
		}
	}
}
