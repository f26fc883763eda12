// Package memory implements the Memory Service: embedding-backed
// long-term memory over the storage layer's memory_entries table. It
// also implements agent.ContextProvider so recall results fold into
// first-exchange system-prompt assembly through the same composable
// mechanism the Conversation Engine uses for other context sources.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

// RecallThreshold is the minimum similarity a recall result must meet
// to be surfaced.
const RecallThreshold = 0.30

// DefaultRecallLimit is applied when a caller does not specify one.
const DefaultRecallLimit = 10

// Embedder generates a vector embedding for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Service is the Memory Service: embed, store, similarity-search, and
// soft-delete memory entries.
type Service struct {
	store    *store.Store
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Memory Service.
func New(st *store.Store, embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, embedder: embedder, logger: logger.With("component", "memory")}
}

// Remember embeds content and stores it as a new entry, or — when
// replaceID is non-nil — overwrites an existing entry's content and
// embedding in one operation. Overwriting a soft-deleted entry fails
// with NotFound.
func (s *Service) Remember(ctx context.Context, content string, source store.MemorySource, threadID *int64, replaceID *int64) (*store.MemoryEntry, error) {
	embedding, err := s.embedder.Generate(ctx, content)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "embed memory content")
	}

	if replaceID != nil {
		return s.store.UpdateMemory(ctx, *replaceID, content, embedding)
	}
	return s.store.CreateMemory(ctx, content, embedding, source, threadID)
}

// Recall embeds query and returns the top-limit entries with
// similarity at or above RecallThreshold, most similar first.
func (s *Service) Recall(ctx context.Context, query string, limit int) ([]store.MemoryMatch, error) {
	if limit <= 0 || limit > 20 {
		limit = DefaultRecallLimit
	}
	embedding, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "embed recall query")
	}
	return s.store.SearchMemories(ctx, embedding, limit, RecallThreshold)
}

// List returns all non-deleted memory entries.
func (s *Service) List(ctx context.Context) ([]*store.MemoryEntry, error) {
	return s.store.ListMemories(ctx)
}

// Delete soft-deletes a memory entry.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.SoftDeleteMemory(ctx, id)
}

// Update overwrites an entry's content, re-embedding in the same
// operation so content and embedding never drift apart.
func (s *Service) Update(ctx context.Context, id int64, newContent string) (*store.MemoryEntry, error) {
	embedding, err := s.embedder.Generate(ctx, newContent)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "embed updated memory content")
	}
	return s.store.UpdateMemory(ctx, id, newContent, embedding)
}

// GetContext implements agent.ContextProvider: it recalls memories
// relevant to userMessage and renders them as a bulleted block. A
// recall failure is logged and treated as "nothing to add" — prompt
// assembly is best-effort and must not abort a conversation because
// the embedding vendor is unreachable.
func (s *Service) GetContext(ctx context.Context, userMessage string) (string, error) {
	matches, err := s.Recall(ctx, userMessage, DefaultRecallLimit)
	if err != nil {
		s.logger.Warn("recall failed during context assembly", "error", err)
		return "", nil
	}
	return renderContext(matches), nil
}

// renderContext renders recall matches as the bulleted block folded
// into the system prompt. Empty input renders to an empty string so
// callers can treat "nothing relevant" as "nothing to add".
func renderContext(matches []store.MemoryMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant context from memory:\n")
	for _, m := range matches {
		fmt.Fprintf(&sb, "- %s\n", m.Entry.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
