package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/agent"
	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

type chatRequest struct {
	ThreadID *string `json:"thread_id"`
	Message  string  `json:"message"`
}

// handleChat drives one conversational turn and streams it back as
// the event sequence documented for the streaming endpoint adapters:
// thread, delta*, tool_call/tool_result*, then done or error.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Message == "" {
		s.writeError(w, coreerr.New(coreerr.Validation, "message is required"))
		return
	}

	ctx := r.Context()

	var threadID int64
	if req.ThreadID != nil && *req.ThreadID != "" {
		id, err := strconv.ParseInt(*req.ThreadID, 10, 64)
		if err != nil {
			s.writeError(w, coreerr.New(coreerr.Validation, "thread_id must be an integer"))
			return
		}
		threadID = id
	} else {
		th, err := s.threads.Create(ctx, store.ThreadSourceUser, nil, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		threadID = th.ID
	}

	// RunStream is called before the SSE headers are written so a
	// rejection (e.g. a second stream already in flight on threadID)
	// can still be reported as a normal HTTP error response rather
	// than an in-band SSE error frame.
	handle, err := s.agentv.RunStream(ctx, threadID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		s.writeError(w, coreerr.New(coreerr.Internal, "streaming not supported"))
		return
	}

	writeSSEEvent(w, flusher, "thread", map[string]any{"thread_id": threadID})

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

readLoop:
	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				break readLoop
			}
			s.writeStreamEvent(w, flusher, ev)
		case <-ticker.C:
			writeSSEComment(w, flusher, "keepalive")
		case <-ctx.Done():
			return
		}
	}

	if err := handle.Err(); err != nil {
		writeSSEEvent(w, flusher, "error", map[string]any{"message": err.Error()})
		return
	}

	done := map[string]any{}
	if usage := handle.Usage(); usage != nil {
		done["usage"] = usage
	}
	writeSSEEvent(w, flusher, "done", done)
}

func (s *Server) writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, ev agent.StreamEvent) {
	switch ev.Kind {
	case agent.KindDelta:
		writeSSEEvent(w, flusher, "delta", map[string]any{"content": ev.Delta})
	case agent.KindToolCall:
		writeSSEEvent(w, flusher, "tool_call", map[string]any{
			"callId": ev.CallID, "name": ev.ToolName, "arguments": ev.Arguments,
		})
	case agent.KindToolResult:
		writeSSEEvent(w, flusher, "tool_result", map[string]any{
			"callId": ev.CallID, "name": ev.ToolName, "output": ev.Output,
		})
	}
}
