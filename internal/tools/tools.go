// Package tools provides the tool registry and execution framework:
// a name-to-definition-and-handler map the Agent Service drives and
// the LM client translates into its own native tool schema at the
// wire boundary.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Tool is one callable the LM may invoke mid-stream. Parameters is a
// JSON-schema-shaped object description. Handler errors never cross
// the boundary back to the LM as a raw Go error — Execute folds them
// into a human-readable string.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry is a name-to-Tool map with OpenAI-function-shaped listing
// for LM clients to translate into their native tool schema.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List renders every registered tool as an OpenAI-function-shaped
// definition: {name, description, parameters}. LM clients translate
// this into their provider's native tool schema at the wire boundary.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]any, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	return out
}

// Execute looks up name and invokes its handler with argsJSON decoded
// into a map. Tool implementations never throw across the boundary to
// the LM — an unknown tool or malformed arguments become a
// human-readable failure string rather than a propagated error.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Warn("tool call targeted unregistered tool", "tool", name)
		return fmt.Sprintf("tool %q is not available", name), nil
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Sprintf("invalid arguments for %s: %v", name, err), nil
		}
	}

	output, err := t.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("%s failed: %v", name, err), nil
	}
	return output, nil
}
