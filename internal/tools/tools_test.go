package tools

import (
	"context"
	"testing"
)

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name:        "ping",
		Description: "replies pong",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "pong", nil
		},
	})

	got, ok := r.Get("ping")
	if !ok || got.Name != "ping" {
		t.Fatalf("Get(%q) = %v, %v", "ping", got, ok)
	}

	list := r.List()
	if len(list) != 1 || list[0]["name"] != "ping" {
		t.Fatalf("List() = %v, want one entry named ping", list)
	}
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	out, err := r.Execute(context.Background(), "nope", "{}")
	if err != nil {
		t.Fatalf("Execute() returned error %v, want nil (never throw across LM boundary)", err)
	}
	if out == "" {
		t.Fatal("Execute() on unknown tool should return a human-readable message")
	}
}

func TestRegistry_Execute_MalformedArguments(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "should not reach here", nil
		},
	})

	out, err := r.Execute(context.Background(), "echo", "{not json")
	if err != nil {
		t.Fatalf("Execute() with malformed args returned error %v, want nil", err)
	}
	if out == "" {
		t.Fatal("Execute() with malformed args should return a human-readable message")
	}
}

func TestRegistry_Execute_HandlerError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "boom",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", &ErrToolUnavailable{ToolName: "boom"}
		},
	})

	out, err := r.Execute(context.Background(), "boom", "{}")
	if err != nil {
		t.Fatalf("Execute() with handler error returned error %v, want nil", err)
	}
	if out == "" {
		t.Fatal("Execute() with handler error should return a human-readable message")
	}
}

func TestCurrentDatetimeTool(t *testing.T) {
	tool := currentDatetimeTool()
	out, err := tool.Handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("current_datetime handler: %v", err)
	}
	if out == "" {
		t.Fatal("current_datetime handler returned empty string")
	}
}
