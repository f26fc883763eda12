// Package thread implements the Thread Service: thin orchestration
// over the storage layer's thread and message operations, adding the
// invariants the store itself does not enforce — a title set at most
// twice, and row role agreeing with structured content role.
package thread

import (
	"context"
	"log/slog"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

// Service is the Thread Service.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Thread Service.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "thread")}
}

// Create starts a new thread. title is almost always nil — per the
// data model, a thread's title is never set at creation.
func (s *Service) Create(ctx context.Context, source store.ThreadSource, title *string, jobRunID *int64) (*store.Thread, error) {
	return s.store.CreateThread(ctx, source, title, jobRunID)
}

// Get returns a thread by id.
func (s *Service) Get(ctx context.Context, id int64) (*store.Thread, error) {
	return s.store.GetThread(ctx, id)
}

// List returns threads, most recent first.
func (s *Service) List(ctx context.Context, limit int) ([]*store.Thread, error) {
	return s.store.ListThreads(ctx, limit)
}

// Messages returns a thread's messages in ascending id order.
func (s *Service) Messages(ctx context.Context, threadID int64) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, threadID)
}

// AddMessage appends a message, rejecting content whose embedded role
// disagrees with the row role the caller is requesting.
func (s *Service) AddMessage(ctx context.Context, threadID int64, role store.MessageRole, model *string, content store.MessageContent) (*store.Message, error) {
	if content.Role != role {
		return nil, coreerr.New(coreerr.Internal, "message role %q disagrees with content role %q", role, content.Role)
	}
	return s.store.AddMessage(ctx, threadID, role, model, content)
}

// SetTitle sets a thread's title. The store performs the write
// unconditionally; the "at most twice" invariant (never at creation,
// optionally once by the Thread-Title Handler, thereafter only by
// explicit user/admin action) is a calling-convention contract across
// this package's two title-writing call sites — the title handler and
// the REST update-thread handler — rather than something enforceable
// from the row alone.
func (s *Service) SetTitle(ctx context.Context, id int64, title string) error {
	return s.store.UpdateThreadTitle(ctx, id, title)
}

// Delete soft-deletes a thread.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.SoftDeleteThread(ctx, id)
}

// IsFirstExchange reports whether the thread's only non-system message
// is msg — i.e. the just-written user message is the first one, so the
// Agent Service should assemble and persist a system prompt.
func IsFirstExchange(messages []*store.Message, justWrittenID int64) bool {
	nonSystem := 0
	for _, m := range messages {
		if m.Role == store.RoleSystem {
			continue
		}
		nonSystem++
	}
	return nonSystem == 1 && len(messages) > 0 && lastNonSystemID(messages) == justWrittenID
}

func lastNonSystemID(messages []*store.Message) int64 {
	var last int64
	for _, m := range messages {
		if m.Role == store.RoleSystem {
			continue
		}
		last = m.ID
	}
	return last
}
