package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

// Store is the typed persistence boundary over a single PostgreSQL
// database reached through pgx. It holds no business logic: every
// method here is a direct translation of one storage operation from
// the component design, not a policy decision.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres, runs idempotent schema migration, and
// returns a ready Store. The caller owns the returned Store's lifetime
// and must call Close on shutdown.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Validation, err, "parse database address")
	}
	// Registers the pgvector wire codec so memory_entries.embedding can be
	// scanned into/bound from pgvector.Vector directly, without a manual
	// text-literal round trip on every query.
	poolCfg.AfterConnect = pgxvector.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "open database pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, coreerr.Wrap(coreerr.Storage, err, "ping database")
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("store ready")
	return s, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return coreerr.Wrap(coreerr.Storage, err, "apply migration statement %d", i)
		}
	}
	return nil
}

// schemaStatements is applied in order at every Open call. Every
// statement is written to be safe to re-run (CREATE ... IF NOT EXISTS),
// matching the teacher's migrate-on-open convention.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS threads (
		id BIGSERIAL PRIMARY KEY,
		title TEXT,
		source TEXT NOT NULL CHECK (source IN ('user', 'wake')),
		job_run_id BIGINT,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		thread_id BIGINT NOT NULL REFERENCES threads(id),
		role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'tool')),
		model TEXT,
		content JSONB NOT NULL,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id, id)`,
	`CREATE TABLE IF NOT EXISTS memory_entries (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(1536) NOT NULL,
		source TEXT NOT NULL CHECK (source IN ('agent', 'user')),
		thread_id BIGINT,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_entries_embedding
		ON memory_entries USING hnsw (embedding vector_cosine_ops)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		cron TEXT,
		prompt TEXT,
		skill_name TEXT,
		skill_config JSONB,
		enabled BOOLEAN NOT NULL DEFAULT true,
		max_retries INTEGER NOT NULL DEFAULT 0,
		next_run_at TIMESTAMPTZ NOT NULL,
		last_run_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(next_run_at) WHERE enabled AND deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id BIGSERIAL PRIMARY KEY,
		job_id BIGINT NOT NULL REFERENCES jobs(id),
		scheduled_for TIMESTAMPTZ NOT NULL,
		locked_until TIMESTAMPTZ,
		status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		thread_id BIGINT,
		error TEXT,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, scheduled_for)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs(status, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_one_running_per_job
		ON job_runs(job_id) WHERE status = 'running'`,
}
