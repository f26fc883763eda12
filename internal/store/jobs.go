package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

// CreateJob inserts a new job definition. Callers are responsible for
// the exactly-one-of(Prompt, SkillName+SkillConfig) invariant (§3).
func (s *Store) CreateJob(ctx context.Context, j *Job) (*Job, error) {
	if j.SkillConfig == nil {
		j.SkillConfig = json.RawMessage("null")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (name, cron, prompt, skill_name, skill_config, enabled, max_retries, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, name, cron, prompt, skill_name, skill_config, enabled, max_retries,
			next_run_at, last_run_at, deleted_at, created_at, updated_at
	`, j.Name, j.Cron, j.Prompt, j.SkillName, j.SkillConfig, j.Enabled, j.MaxRetries, j.NextRunAt)
	return scanJob(row)
}

// GetJob returns a non-deleted job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, cron, prompt, skill_name, skill_config, enabled, max_retries,
			next_run_at, last_run_at, deleted_at, created_at, updated_at
		FROM jobs WHERE id = $1 AND deleted_at IS NULL
	`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.NotFound, "job %d not found", id)
	}
	return j, err
}

// ListJobs returns all non-deleted jobs.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cron, prompt, skill_name, skill_config, enabled, max_retries,
			next_run_at, last_run_at, deleted_at, created_at, updated_at
		FROM jobs WHERE deleted_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "list jobs")
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// JobsDue returns enabled, non-deleted jobs whose next_run_at has
// passed, in the order they fell due. The scheduler tick uses this as
// its sole source of "what to enqueue next".
func (s *Store) JobsDue(ctx context.Context) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cron, prompt, skill_name, skill_config, enabled, max_retries,
			next_run_at, last_run_at, deleted_at, created_at, updated_at
		FROM jobs
		WHERE enabled AND deleted_at IS NULL AND next_run_at <= now()
		ORDER BY next_run_at ASC
	`)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "list due jobs")
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob overwrites the mutable fields of a job definition.
func (s *Store) UpdateJob(ctx context.Context, id int64, j *Job) (*Job, error) {
	if j.SkillConfig == nil {
		j.SkillConfig = json.RawMessage("null")
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET name = $1, cron = $2, prompt = $3, skill_name = $4, skill_config = $5,
			enabled = $6, max_retries = $7, next_run_at = $8, updated_at = now()
		WHERE id = $9 AND deleted_at IS NULL
		RETURNING id, name, cron, prompt, skill_name, skill_config, enabled, max_retries,
			next_run_at, last_run_at, deleted_at, created_at, updated_at
	`, j.Name, j.Cron, j.Prompt, j.SkillName, j.SkillConfig, j.Enabled, j.MaxRetries, j.NextRunAt, id)
	out, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.NotFound, "job %d not found", id)
	}
	return out, err
}

// SetJobNextRun advances next_run_at and stamps last_run_at, the
// bookkeeping step the scheduler performs immediately after enqueuing
// a due job's run so the same fire is never enqueued twice.
func (s *Store) SetJobNextRun(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET last_run_at = $1, next_run_at = $2, updated_at = now()
		WHERE id = $3 AND deleted_at IS NULL
	`, lastRunAt, nextRunAt, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "advance job schedule")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "job %d not found", id)
	}
	return nil
}

// SoftDeleteJob stamps deleted_at. Idempotent.
func (s *Store) SoftDeleteJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "soft-delete job")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "job %d not found", id)
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.Name, &j.Cron, &j.Prompt, &j.SkillName, &j.SkillConfig, &j.Enabled,
		&j.MaxRetries, &j.NextRunAt, &j.LastRunAt, &j.DeletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan job")
	}
	return &j, nil
}

func scanJobRow(rows pgx.Rows) (*Job, error) {
	var j Job
	if err := rows.Scan(&j.ID, &j.Name, &j.Cron, &j.Prompt, &j.SkillName, &j.SkillConfig, &j.Enabled,
		&j.MaxRetries, &j.NextRunAt, &j.LastRunAt, &j.DeletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan job")
	}
	return &j, nil
}
