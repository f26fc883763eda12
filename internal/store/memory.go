package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

// MemoryEmbeddingDimensions is the fixed embedding width the schema
// and the configured embedding model must agree on (§3).
const MemoryEmbeddingDimensions = 1536

// CreateMemory inserts a new memory entry with its embedding.
func (s *Store) CreateMemory(ctx context.Context, content string, embedding []float32, source MemorySource, threadID *int64) (*MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO memory_entries (content, embedding, source, thread_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, content, embedding, source, thread_id, deleted_at, created_at, updated_at
	`, content, pgvector.NewVector(embedding), source, threadID)
	return scanMemory(row)
}

// GetMemory returns a non-deleted memory entry by id.
func (s *Store) GetMemory(ctx context.Context, id int64) (*MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, content, embedding, source, thread_id, deleted_at, created_at, updated_at
		FROM memory_entries WHERE id = $1 AND deleted_at IS NULL
	`, id)
	e, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.NotFound, "memory entry %d not found", id)
	}
	return e, err
}

// ListMemories returns all non-deleted memory entries, most recent first.
func (s *Store) ListMemories(ctx context.Context) ([]*MemoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, embedding, source, thread_id, deleted_at, created_at, updated_at
		FROM memory_entries WHERE deleted_at IS NULL
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "list memory entries")
	}
	defer rows.Close()

	var out []*MemoryEntry
	for rows.Next() {
		e, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateMemory overwrites content and embedding in one operation,
// preserving the §3 invariant that embedding and content never drift
// apart.
func (s *Store) UpdateMemory(ctx context.Context, id int64, content string, embedding []float32) (*MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE memory_entries SET content = $1, embedding = $2, updated_at = now()
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING id, content, embedding, source, thread_id, deleted_at, created_at, updated_at
	`, content, pgvector.NewVector(embedding), id)
	e, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.NotFound, "memory entry %d not found", id)
	}
	return e, err
}

// SoftDeleteMemory stamps deleted_at. Idempotent.
func (s *Store) SoftDeleteMemory(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_entries SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "soft-delete memory entry")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "memory entry %d not found", id)
	}
	return nil
}

// SearchMemories returns the top-k non-deleted entries by cosine
// similarity to query, filtered to similarity >= threshold. The query
// orders by the pgvector `<=>` cosine-distance operator; the HNSW
// index declared in the schema makes this an approximate-nearest-
// neighbour lookup rather than a full scan once the corpus grows past
// what a sequential scan would service.
func (s *Store) SearchMemories(ctx context.Context, query []float32, limit int, threshold float64) ([]MemoryMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	q := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, embedding, source, thread_id, deleted_at, created_at, updated_at,
			1 - (embedding <=> $1) AS similarity
		FROM memory_entries
		WHERE deleted_at IS NULL AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, q, threshold, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "search memory entries")
	}
	defer rows.Close()

	var out []MemoryMatch
	for rows.Next() {
		var e MemoryEntry
		var embedding pgvector.Vector
		var similarity float64
		if err := rows.Scan(&e.ID, &e.Content, &embedding, &e.Source, &e.ThreadID, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt, &similarity); err != nil {
			return nil, coreerr.Wrap(coreerr.Storage, err, "scan memory match")
		}
		e.Embedding = embedding.Slice()
		out = append(out, MemoryMatch{Entry: e, Similarity: similarity})
	}
	return out, rows.Err()
}

func scanMemory(row pgx.Row) (*MemoryEntry, error) {
	var e MemoryEntry
	var embedding pgvector.Vector
	if err := row.Scan(&e.ID, &e.Content, &embedding, &e.Source, &e.ThreadID, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan memory entry")
	}
	e.Embedding = embedding.Slice()
	return &e, nil
}

func scanMemoryRow(rows pgx.Rows) (*MemoryEntry, error) {
	var e MemoryEntry
	var embedding pgvector.Vector
	if err := rows.Scan(&e.ID, &e.Content, &embedding, &e.Source, &e.ThreadID, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan memory entry")
	}
	e.Embedding = embedding.Slice()
	return &e, nil
}
