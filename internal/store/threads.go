package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

// CreateThread inserts a new thread. Title is almost always nil at
// creation per the title-is-set-at-most-twice invariant (§3); callers
// that need to seed a title explicitly (e.g. operator action) may pass
// one, but the Agent Service and Thread-Title Handler never do so here.
func (s *Store) CreateThread(ctx context.Context, source ThreadSource, title *string, jobRunID *int64) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO threads (title, source, job_run_id)
		VALUES ($1, $2, $3)
		RETURNING id, title, source, job_run_id, deleted_at, created_at, updated_at
	`, title, source, jobRunID)
	return scanThread(row)
}

// GetThread returns a thread by id, excluding soft-deleted rows.
func (s *Store) GetThread(ctx context.Context, id int64) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, source, job_run_id, deleted_at, created_at, updated_at
		FROM threads WHERE id = $1 AND deleted_at IS NULL
	`, id)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.NotFound, "thread %d not found", id)
	}
	return t, err
}

// ListThreads returns non-deleted threads, most recent first.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, source, job_run_id, deleted_at, created_at, updated_at
		FROM threads WHERE deleted_at IS NULL
		ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "list threads")
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		t, err := scanThreadRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateThreadTitle sets a thread's title. Enforcement of "at most
// twice" is the Thread Service's job, not the store's — this method
// unconditionally overwrites.
func (s *Store) UpdateThreadTitle(ctx context.Context, id int64, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE threads SET title = $1, updated_at = now()
		WHERE id = $2 AND deleted_at IS NULL
	`, title, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "update thread title")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "thread %d not found", id)
	}
	return nil
}

// SoftDeleteThread stamps deleted_at. Idempotent: deleting an
// already-deleted thread returns NotFound rather than re-stamping.
func (s *Store) SoftDeleteThread(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE threads SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "soft-delete thread")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "thread %d not found", id)
	}
	return nil
}

// AddMessage appends a message to a thread. The row's Role column and
// content.Role MUST agree — callers are responsible for that
// agreement; this method does not cross-check it beyond what the
// caller supplies.
func (s *Store) AddMessage(ctx context.Context, threadID int64, role MessageRole, model *string, content MessageContent) (*Message, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "marshal message content")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (thread_id, role, model, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, thread_id, role, model, content, deleted_at, created_at
	`, threadID, role, model, contentJSON)
	return scanMessage(row)
}

// ListMessages returns a thread's non-deleted messages in ascending id
// order — the ordering invariant that the rest of the system depends
// on (§3, §8).
func (s *Store) ListMessages(ctx context.Context, threadID int64) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, role, model, content, deleted_at, created_at
		FROM messages WHERE thread_id = $1 AND deleted_at IS NULL
		ORDER BY id ASC
	`, threadID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "list messages")
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	if err := row.Scan(&t.ID, &t.Title, &t.Source, &t.JobRunID, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan thread")
	}
	return &t, nil
}

func scanThreadRow(rows pgx.Rows) (*Thread, error) {
	var t Thread
	if err := rows.Scan(&t.ID, &t.Title, &t.Source, &t.JobRunID, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan thread")
	}
	return &t, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var contentJSON []byte
	if err := row.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Model, &contentJSON, &m.DeletedAt, &m.CreatedAt); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan message")
	}
	if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "unmarshal message content")
	}
	return &m, nil
}

func scanMessageRow(rows pgx.Rows) (*Message, error) {
	var m Message
	var contentJSON []byte
	if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Model, &contentJSON, &m.DeletedAt, &m.CreatedAt); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan message")
	}
	if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "unmarshal message content")
	}
	return &m, nil
}
