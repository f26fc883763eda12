package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/selfhosted-assistant/internal/agent"
	"github.com/nugget/selfhosted-assistant/internal/events"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

type fakeThreads struct {
	nextID int64
}

func (f *fakeThreads) Create(ctx context.Context, source store.ThreadSource, title *string, jobRunID *int64) (*store.Thread, error) {
	f.nextID++
	return &store.Thread{ID: f.nextID, Source: source}, nil
}
func (f *fakeThreads) Get(ctx context.Context, id int64) (*store.Thread, error) {
	return &store.Thread{ID: id}, nil
}
func (f *fakeThreads) List(ctx context.Context, limit int) ([]*store.Thread, error) { return nil, nil }
func (f *fakeThreads) Messages(ctx context.Context, threadID int64) ([]*store.Message, error) {
	return nil, nil
}
func (f *fakeThreads) SetTitle(ctx context.Context, id int64, title string) error { return nil }
func (f *fakeThreads) Delete(ctx context.Context, id int64) error                 { return nil }

type fakeAgent struct {
	events []agent.StreamEvent
	err    error
}

func (f *fakeAgent) RunStream(ctx context.Context, threadID int64, userMessage string) (*agent.StreamHandle, error) {
	ch := make(chan agent.StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return agent.NewStreamHandle(ch, "test-model", nil, f.err), nil
}

func TestHandleChat_StreamsEventsAndDone(t *testing.T) {
	srv := New(Config{
		Bus:     events.New(),
		Threads: &fakeThreads{},
		Agent: &fakeAgent{events: []agent.StreamEvent{
			{Kind: agent.KindDelta, Delta: "hi"},
			{Kind: agent.KindToolCall, CallID: "1", ToolName: "recall", Arguments: "{}"},
			{Kind: agent.KindToolResult, CallID: "1", ToolName: "recall", Output: "nothing"},
		}},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hello"}`))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{"event: thread", "event: delta", "event: tool_call", "event: tool_result", "event: done"} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %q, body = %s", want, body)
		}
	}
}

func TestHandleChat_RejectsEmptyMessage(t *testing.T) {
	srv := New(Config{Threads: &fakeThreads{}, Agent: &fakeAgent{}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
