// Package httpapi binds the Conversation Engine and Job Scheduler to
// HTTP: a streaming chat endpoint, a server-wide SSE fan-out channel,
// and REST-shaped handlers over threads, memory entries, and jobs. It
// follows the teacher's SSE idioms (Flusher-based streaming, keepalive
// comments, a small writeJSON helper) but routes with chi rather than
// a bare ServeMux.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/selfhosted-assistant/internal/agent"
	"github.com/nugget/selfhosted-assistant/internal/events"
	"github.com/nugget/selfhosted-assistant/internal/skills"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

// keepAliveInterval is how often an idle SSE connection gets a comment
// line written to it, per the server-wide channel's contract.
const keepAliveInterval = 30 * time.Second

// Threads is the subset of thread.Service the HTTP layer needs.
type Threads interface {
	Create(ctx context.Context, source store.ThreadSource, title *string, jobRunID *int64) (*store.Thread, error)
	Get(ctx context.Context, id int64) (*store.Thread, error)
	List(ctx context.Context, limit int) ([]*store.Thread, error)
	Messages(ctx context.Context, threadID int64) ([]*store.Message, error)
	SetTitle(ctx context.Context, id int64, title string) error
	Delete(ctx context.Context, id int64) error
}

// Memory is the subset of memory.Service the HTTP layer needs.
type Memory interface {
	List(ctx context.Context) ([]*store.MemoryEntry, error)
	Update(ctx context.Context, id int64, newContent string) (*store.MemoryEntry, error)
	Delete(ctx context.Context, id int64) error
}

// Jobs is the subset of the storage layer's job operations the HTTP
// layer needs. It is satisfied directly by *store.Store.
type Jobs interface {
	CreateJob(ctx context.Context, j *store.Job) (*store.Job, error)
	GetJob(ctx context.Context, id int64) (*store.Job, error)
	ListJobs(ctx context.Context) ([]*store.Job, error)
	UpdateJob(ctx context.Context, id int64, j *store.Job) (*store.Job, error)
	SoftDeleteJob(ctx context.Context, id int64) error
	ListRunsForJob(ctx context.Context, jobID int64, limit int) ([]*store.JobRun, error)
}

// AgentRunner is the subset of agent.Service the HTTP layer needs.
type AgentRunner interface {
	RunStream(ctx context.Context, threadID int64, userMessage string) (*agent.StreamHandle, error)
}

// SkillLookup exposes registered skill names, for job validation.
type SkillLookup interface {
	Get(name string) (skills.Skill, bool)
}

// Server holds the collaborators every handler needs.
type Server struct {
	logger  *slog.Logger
	bus     *events.Bus
	threads Threads
	memory  Memory
	jobs    Jobs
	agentv  AgentRunner
	skills  SkillLookup
}

// Config bundles Server's collaborators.
type Config struct {
	Bus     *events.Bus
	Threads Threads
	Memory  Memory
	Jobs    Jobs
	Agent   AgentRunner
	Skills  SkillLookup
}

// New creates a Server.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:  logger.With("component", "httpapi"),
		bus:     cfg.Bus,
		threads: cfg.Threads,
		memory:  cfg.Memory,
		jobs:    cfg.Jobs,
		agentv:  cfg.Agent,
		skills:  cfg.Skills,
	}
}

// Router builds the chi router binding every handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequest)

	r.Post("/api/chat", s.handleChat)
	r.Get("/api/events", s.handleServerEvents)

	r.Route("/api/threads", func(r chi.Router) {
		r.Get("/", s.listThreads)
		r.Get("/{id}", s.getThread)
		r.Patch("/{id}", s.updateThread)
		r.Delete("/{id}", s.deleteThread)
	})

	r.Route("/api/memory", func(r chi.Router) {
		r.Get("/", s.listMemory)
		r.Patch("/{id}", s.updateMemory)
		r.Delete("/{id}", s.deleteMemory)
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.createJob)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Patch("/{id}", s.updateJob)
		r.Delete("/{id}", s.deleteJob)
	})

	return r
}

// logRequest is a thin slog-based request logger, standing in for the
// teacher's own request-logging middleware (its server logs method,
// path, status, and duration per request via the same logger every
// handler uses).
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}
