// Package scheduler runs the Job Scheduler: a 30s tick loop that
// reclaims abandoned runs, enqueues due jobs, and executes at most one
// claimed run per tick, dispatching to either the Agent Service (a
// prompt job) or the Skill Registry (a skill job).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	cronparser "github.com/robfig/cron/v3"

	"github.com/nugget/selfhosted-assistant/internal/agent"
	"github.com/nugget/selfhosted-assistant/internal/skills"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

// tickInterval is how often the scheduler scans for abandoned and due
// work.
const tickInterval = 30 * time.Second

// leaseRefreshInterval is how often a claimed run's lease is renewed
// while it is being executed, well inside store.DefaultLeaseDuration.
const leaseRefreshInterval = 120 * time.Second

// maxNotificationBodyChars bounds how much of a prompt or error a
// completion/failure notification quotes.
const maxNotificationBodyChars = 200

// JobStore is the subset of store.Store the scheduler needs.
type JobStore interface {
	JobsDue(ctx context.Context) ([]*store.Job, error)
	GetJob(ctx context.Context, id int64) (*store.Job, error)
	UpdateJob(ctx context.Context, id int64, j *store.Job) (*store.Job, error)
	SetJobNextRun(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error

	EnqueueRunIdempotent(ctx context.Context, jobID int64, scheduledFor time.Time) (*store.JobRun, error)
	ClaimPendingRun(ctx context.Context) (*store.JobRun, error)
	RefreshLock(ctx context.Context, id int64) error
	ResetAbandoned(ctx context.Context) (int, error)
	CompleteRun(ctx context.Context, id int64, threadID *int64) error
	FailRun(ctx context.Context, id int64, errMsg string) error
}

// ThreadCreator is the subset of thread.Service a wake thread needs.
type ThreadCreator interface {
	Create(ctx context.Context, source store.ThreadSource, title *string, jobRunID *int64) (*store.Thread, error)
}

// AgentRunner is the subset of agent.Service a prompt job dispatches
// to.
type AgentRunner interface {
	RunStream(ctx context.Context, threadID int64, userMessage string) (*agent.StreamHandle, error)
}

// SkillLookup is the subset of skills.Registry a skill job dispatches
// to.
type SkillLookup interface {
	Get(name string) (skills.Skill, bool)
}

// Notifier is the subset of notify.Client used for completion and
// failure notifications.
type Notifier interface {
	Notify(ctx context.Context, title, body, tag, clickURL string)
}

// Scheduler runs the tick loop. It is structurally grounded on a
// logger, a store-backed persistence boundary, and a start/stop
// lifecycle with a stopCh and sync.WaitGroup — the same shape as a
// per-task timer scheduler, but driven by one shared ticker that scans
// all due jobs each tick instead of one timer per task.
type Scheduler struct {
	logger   *slog.Logger
	store    JobStore
	threads  ThreadCreator
	agent    AgentRunner
	skills   SkillLookup
	notifier Notifier
	appURL   string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Config bundles the Scheduler's collaborators.
type Config struct {
	Store    JobStore
	Threads  ThreadCreator
	Agent    AgentRunner
	Skills   SkillLookup
	Notifier Notifier
	// AppURL, when set, is used to build a clickable link back to a
	// job-completion's wake thread in its success notification.
	AppURL string
}

// New creates a Scheduler.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		store:    cfg.Store,
		threads:  cfg.Threads,
		agent:    cfg.Agent,
		skills:   cfg.Skills,
		notifier: cfg.Notifier,
		appURL:   cfg.AppURL,
	}
}

// Start fires one tick immediately and then begins the 30s tick loop
// on a background goroutine. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting")

	s.wg.Add(1)
	go s.loop(ctx)
}

// loop runs the tick timer until Stop is called. Ticks serialize: a
// tick in progress blocks the next tick's start.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the tick loop and waits for it to exit. Closing stopCh
// fires the Cancel channel of a skill run in progress; a prompt run in
// progress is not cancelled, and Stop returns only after the tick
// executing it has finished.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// tick runs the three-step sequence: reclaim abandoned runs, enqueue
// due jobs, execute at most one claimed run.
func (s *Scheduler) tick(ctx context.Context) {
	reset, err := s.store.ResetAbandoned(ctx)
	if err != nil {
		s.logger.Error("reset abandoned runs failed", "error", err)
	} else if reset > 0 {
		s.logger.Info("reclaimed abandoned runs", "count", reset)
	}

	s.enqueueDue(ctx)
	s.executeOne(ctx)
}

// enqueueDue creates a pending run for every due job (idempotently)
// and advances each job's next_run_at, disabling jobs whose cron
// expression admits no future fire.
func (s *Scheduler) enqueueDue(ctx context.Context) {
	due, err := s.store.JobsDue(ctx)
	if err != nil {
		s.logger.Error("list due jobs failed", "error", err)
		return
	}

	for _, job := range due {
		run, err := s.store.EnqueueRunIdempotent(ctx, job.ID, job.NextRunAt)
		if err != nil {
			s.logger.Error("enqueue run failed", "job_id", job.ID, "error", err)
			continue
		}
		if run == nil {
			s.logger.Info("skipped enqueue, a run for this job is already running", "job_id", job.ID, "name", job.Name)
		}

		next, ok := s.nextFireAfter(job, time.Now())
		if !ok {
			if _, err := s.store.UpdateJob(ctx, job.ID, disabledCopy(job)); err != nil {
				s.logger.Error("disable exhausted job failed", "job_id", job.ID, "error", err)
			} else {
				s.logger.Info("disabled job with no future fire", "job_id", job.ID, "name", job.Name)
			}
			continue
		}

		lastRunAt := time.Time{}
		if job.LastRunAt != nil {
			lastRunAt = *job.LastRunAt
		}
		if err := s.store.SetJobNextRun(ctx, job.ID, lastRunAt, next); err != nil {
			s.logger.Error("advance job schedule failed", "job_id", job.ID, "error", err)
		}
	}
}

// nextFireAfter computes a job's next fire time strictly after t.
// One-shot jobs (no cron) have no future fire once due, so they fall
// through the same disable rule as an exhausted cron.
func (s *Scheduler) nextFireAfter(job *store.Job, t time.Time) (time.Time, bool) {
	if job.Cron == nil {
		return time.Time{}, false
	}
	schedule, err := cronparser.ParseStandard(*job.Cron)
	if err != nil {
		s.logger.Error("job has unparseable cron expression", "job_id", job.ID, "cron", *job.Cron, "error", err)
		return time.Time{}, false
	}
	next := schedule.Next(t)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// disabledCopy returns a shallow copy of job with Enabled forced
// false, suitable for UpdateJob.
func disabledCopy(job *store.Job) *store.Job {
	j := *job
	j.Enabled = false
	return &j
}

// executeOne claims at most one pending run and drives it to
// completion or failure. If nothing is claimable, it is a no-op.
func (s *Scheduler) executeOne(ctx context.Context) {
	run, err := s.store.ClaimPendingRun(ctx)
	if err != nil {
		s.logger.Error("claim pending run failed", "error", err)
		return
	}
	if run == nil {
		return
	}

	logger := s.logger.With("run_id", run.ID, "job_id", run.JobID)

	job, err := s.store.GetJob(ctx, run.JobID)
	if err != nil || job == nil || job.DeletedAt != nil {
		logger.Warn("claimed run's job is missing or deleted")
		s.failRun(ctx, run, nil, "Job not found")
		return
	}

	refresherCtx, stopRefresher := context.WithCancel(ctx)
	s.wg.Add(1)
	go s.refreshLease(refresherCtx, run.ID)
	defer func() {
		stopRefresher()
	}()

	if job.IsPromptJob() {
		s.dispatchPromptJob(ctx, run, job, logger)
		return
	}
	s.dispatchSkillJob(ctx, run, job, logger)
}

// refreshLease periodically extends a claimed run's lease until ctx is
// cancelled, so a long agent turn or skill poll is never mistaken for
// abandoned.
func (s *Scheduler) refreshLease(ctx context.Context, runID int64) {
	defer s.wg.Done()

	ticker := time.NewTicker(leaseRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RefreshLock(ctx, runID); err != nil {
				s.logger.Warn("refresh run lease failed", "run_id", runID, "error", err)
			}
		}
	}
}

// dispatchPromptJob wakes the agent on a fresh thread and drains its
// stream to completion, then sends a success notification.
func (s *Scheduler) dispatchPromptJob(ctx context.Context, run *store.JobRun, job *store.Job, logger *slog.Logger) {
	th, err := s.threads.Create(ctx, store.ThreadSourceWake, nil, &run.ID)
	if err != nil {
		s.failRun(ctx, run, job, fmt.Sprintf("create wake thread: %v", err))
		return
	}

	handle, err := s.agent.RunStream(ctx, th.ID, *job.Prompt)
	if err != nil {
		s.failRun(ctx, run, job, fmt.Sprintf("start agent run: %v", err))
		return
	}
	for range handle.Events {
		// Fully drain: no SSE client is attached to a wake thread, so
		// events are observed only to let the turn run to completion.
	}
	if err := handle.Err(); err != nil {
		s.failRun(ctx, run, job, err.Error())
		return
	}

	if err := s.store.CompleteRun(ctx, run.ID, &th.ID); err != nil {
		logger.Error("complete run failed", "error", err)
	}
	s.advanceLastRunAt(ctx, job)

	clickURL := ""
	if s.appURL != "" {
		clickURL = fmt.Sprintf("%s/threads/%d", s.appURL, th.ID)
	}
	s.notifier.Notify(ctx, "Job completed: "+job.Name, truncate(*job.Prompt, maxNotificationBodyChars), "white_check_mark", clickURL)
}

// dispatchSkillJob looks up and runs an in-process skill, disabling
// the job when the skill reports it is done for good.
func (s *Scheduler) dispatchSkillJob(ctx context.Context, run *store.JobRun, job *store.Job, logger *slog.Logger) {
	skill, ok := s.skills.Get(*job.SkillName)
	if !ok {
		s.failRun(ctx, run, job, "Unknown skill: "+*job.SkillName)
		return
	}

	// A job_run id identifies the nominal fire, not one execution
	// attempt of it — a lease timeout can hand the same run to a
	// second attempt after an abandoned-running reclaim. Tag each
	// attempt with its own id so a skill's log lines stay correlated
	// within one attempt even when the row's id repeats across tries.
	logger = logger.With("invocation_id", uuid.NewString())

	cancel := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-s.stopCh:
			close(cancel)
		case <-watchDone:
		}
	}()

	result := skill.Execute(skills.ExecContext{
		Context: ctx,
		Job:     skills.JobInfo{ID: job.ID, Name: job.Name, SkillConfig: job.SkillConfig},
		Logger:  logger,
		Cancel:  cancel,
	})
	close(watchDone)

	if !result.Success {
		s.failRun(ctx, run, job, result.Message)
		return
	}

	if result.DisableJob {
		if _, err := s.store.UpdateJob(ctx, job.ID, disabledCopy(job)); err != nil {
			logger.Error("disable job after skill completion failed", "error", err)
		}
	}
	if err := s.store.CompleteRun(ctx, run.ID, nil); err != nil {
		logger.Error("complete run failed", "error", err)
	}
	s.advanceLastRunAt(ctx, job)
}

// advanceLastRunAt records that job fired just now, preserving
// whatever next_run_at enqueueDue already computed.
func (s *Scheduler) advanceLastRunAt(ctx context.Context, job *store.Job) {
	if err := s.store.SetJobNextRun(ctx, job.ID, time.Now(), job.NextRunAt); err != nil {
		s.logger.Error("record last_run_at failed", "job_id", job.ID, "error", err)
	}
}

// failRun records a run as terminally failed and, once the run's
// retry_count+1 reaches the job's max_retries, sends a failure
// notification. A failed run is never retried automatically — it
// stays failed until a person retries it or the job's own next
// scheduled fire creates a fresh run. job may be nil (the "job not
// found" path), in which case no notification is possible.
func (s *Scheduler) failRun(ctx context.Context, run *store.JobRun, job *store.Job, message string) {
	if err := s.store.FailRun(ctx, run.ID, message); err != nil {
		s.logger.Error("record run failure failed", "run_id", run.ID, "error", err)
	}

	if job == nil || run.RetryCount+1 < job.MaxRetries {
		return
	}
	s.notifier.Notify(ctx, "Job failed: "+job.Name, truncate(message, maxNotificationBodyChars), "x", "")
}

// truncate cuts s to at most n runes, appending an ellipsis marker
// when it does.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
