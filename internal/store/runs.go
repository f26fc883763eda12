package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

// DefaultLeaseDuration is how long a claimed run holds its lock before
// it is eligible for ResetAbandoned to reclaim it.
const DefaultLeaseDuration = 5 * time.Minute

// EnqueueRunIdempotent inserts a pending run for (jobID, scheduledFor)
// unless one already exists, relying on the job_runs unique
// constraint so a scheduler tick that fires twice for the same minute
// never produces two runs. It also suppresses the insert entirely
// when a run for jobID is already 'running', so a slow job's next
// fire never overlaps its current execution; callers see (nil, nil)
// in that case, the same "nothing to do" shape as ClaimPendingRun.
func (s *Store) EnqueueRunIdempotent(ctx context.Context, jobID int64, scheduledFor time.Time) (*JobRun, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO job_runs (job_id, scheduled_for, status)
		SELECT $1, $2, 'pending'
		WHERE NOT EXISTS (SELECT 1 FROM job_runs WHERE job_id = $1 AND status = 'running')
		ON CONFLICT (job_id, scheduled_for) DO UPDATE SET job_id = job_runs.job_id
		RETURNING id, job_id, scheduled_for, locked_until, status, retry_count, thread_id, error, started_at, completed_at, created_at
	`, jobID, scheduledFor)
	run, err := scanJobRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ClaimPendingRun locks one pending-or-lease-expired run for exclusive
// processing, using SKIP LOCKED so concurrent scheduler ticks never
// block on each other. Returns (nil, nil) when nothing is claimable.
func (s *Store) ClaimPendingRun(ctx context.Context) (*JobRun, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "begin claim transaction")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, job_id, scheduled_for, locked_until, status, retry_count, thread_id, error, started_at, completed_at, created_at
		FROM job_runs
		WHERE status = 'pending' AND (locked_until IS NULL OR locked_until < now())
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`)
	run, err := scanJobRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lockedUntil := time.Now().Add(DefaultLeaseDuration)
	if _, err := tx.Exec(ctx, `
		UPDATE job_runs SET status = 'running', locked_until = $1, started_at = now()
		WHERE id = $2
	`, lockedUntil, run.ID); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "lock claimed run")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "commit claim transaction")
	}

	run.Status = RunRunning
	run.LockedUntil = &lockedUntil
	return run, nil
}

// RefreshLock extends a held run's lease. Callers performing a
// long-running skill or agent turn should call this periodically so
// the run is not mistaken for abandoned mid-flight.
func (s *Store) RefreshLock(ctx context.Context, id int64) error {
	lockedUntil := time.Now().Add(DefaultLeaseDuration)
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET locked_until = $1
		WHERE id = $2 AND status = 'running'
	`, lockedUntil, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "refresh run lease")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "running job_run %d not found", id)
	}
	return nil
}

// ResetAbandoned reverts any run stuck in 'running' past its lease
// back to 'pending' so a crashed worker's claim is reclaimed by the
// next tick, and reports how many runs were reset.
func (s *Store) ResetAbandoned(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status = 'pending', locked_until = NULL
		WHERE status = 'running' AND locked_until < now()
	`)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Storage, err, "reset abandoned runs")
	}
	return int(tag.RowsAffected()), nil
}

// CompleteRun marks a run as successfully finished, recording the
// thread the agent turn (if any) produced.
func (s *Store) CompleteRun(ctx context.Context, id int64, threadID *int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status = 'completed', thread_id = $1, completed_at = now(), locked_until = NULL
		WHERE id = $2
	`, threadID, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "complete run")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "job_run %d not found", id)
	}
	return nil
}

// FailRun marks a run as terminally failed. A failed run is terminal
// until external action (a manual retry, or the job's own next
// scheduled fire) moves it back to pending — there is no automatic
// retry. retry_count is still incremented, for observability only.
func (s *Store) FailRun(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status = 'failed', retry_count = retry_count + 1, error = $1, completed_at = now(), locked_until = NULL
		WHERE id = $2
	`, errMsg, id)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, err, "fail run")
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.NotFound, "job_run %d not found", id)
	}
	return nil
}

// ListRunsForJob returns a job's runs, most recent first.
func (s *Store) ListRunsForJob(ctx context.Context, jobID int64, limit int) ([]*JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, scheduled_for, locked_until, status, retry_count, thread_id, error, started_at, completed_at, created_at
		FROM job_runs WHERE job_id = $1
		ORDER BY id DESC LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "list runs for job")
	}
	defer rows.Close()

	var out []*JobRun
	for rows.Next() {
		r, err := scanJobRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanJobRun(row pgx.Row) (*JobRun, error) {
	var r JobRun
	if err := row.Scan(&r.ID, &r.JobID, &r.ScheduledFor, &r.LockedUntil, &r.Status, &r.RetryCount,
		&r.ThreadID, &r.Error, &r.StartedAt, &r.CompletedAt, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan job run")
	}
	return &r, nil
}

func scanJobRunRow(rows pgx.Rows) (*JobRun, error) {
	var r JobRun
	if err := rows.Scan(&r.ID, &r.JobID, &r.ScheduledFor, &r.LockedUntil, &r.Status, &r.RetryCount,
		&r.ThreadID, &r.Error, &r.StartedAt, &r.CompletedAt, &r.CreatedAt); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, err, "scan job run")
	}
	return &r, nil
}
