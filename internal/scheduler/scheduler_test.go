package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/agent"
	"github.com/nugget/selfhosted-assistant/internal/skills"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	due            []*store.Job
	jobs           map[int64]*store.Job
	pending        []*store.JobRun
	claimed        *store.JobRun
	completedRuns  []int64
	failedRuns     map[int64]string
	resetAbandoned int
	refreshCalls   int
	nextRunUpdates []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[int64]*store.Job{}, failedRuns: map[int64]string{}}
}

func (f *fakeStore) JobsDue(ctx context.Context) ([]*store.Job, error) { return f.due, nil }
func (f *fakeStore) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return j, nil
}
func (f *fakeStore) UpdateJob(ctx context.Context, id int64, j *store.Job) (*store.Job, error) {
	f.jobs[id] = j
	return j, nil
}
func (f *fakeStore) SetJobNextRun(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRunUpdates = append(f.nextRunUpdates, nextRunAt)
	return nil
}
func (f *fakeStore) EnqueueRunIdempotent(ctx context.Context, jobID int64, scheduledFor time.Time) (*store.JobRun, error) {
	return &store.JobRun{ID: 1, JobID: jobID, ScheduledFor: scheduledFor, Status: store.RunPending}, nil
}
func (f *fakeStore) ClaimPendingRun(ctx context.Context) (*store.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		return nil, nil
	}
	run := f.claimed
	f.claimed = nil
	return run, nil
}
func (f *fakeStore) RefreshLock(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return nil
}
func (f *fakeStore) ResetAbandoned(ctx context.Context) (int, error) { return f.resetAbandoned, nil }
func (f *fakeStore) CompleteRun(ctx context.Context, id int64, threadID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedRuns = append(f.completedRuns, id)
	return nil
}
func (f *fakeStore) FailRun(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedRuns[id] = errMsg
	return nil
}

type fakeThreads struct {
	nextID int64
}

func (f *fakeThreads) Create(ctx context.Context, source store.ThreadSource, title *string, jobRunID *int64) (*store.Thread, error) {
	f.nextID++
	return &store.Thread{ID: f.nextID, Source: source, JobRunID: jobRunID}, nil
}

type fakeAgent struct {
	events []agent.StreamEvent
	err    error
}

func (f *fakeAgent) RunStream(ctx context.Context, threadID int64, userMessage string) (*agent.StreamHandle, error) {
	ch := make(chan agent.StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return agent.NewStreamHandle(ch, "", nil, f.err), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) Notify(ctx context.Context, title, body, tag, clickURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, title)
}

type fakeSkillRegistry struct {
	skills map[string]skills.Skill
}

func (f *fakeSkillRegistry) Get(name string) (skills.Skill, bool) {
	s, ok := f.skills[name]
	return s, ok
}

type fakeSkill struct {
	result skills.Result
}

func (s *fakeSkill) Name() string                      { return "fake-skill" }
func (s *fakeSkill) Description() string               { return "" }
func (s *fakeSkill) ConfigSchema() map[string]any       { return nil }
func (s *fakeSkill) Execute(ec skills.ExecContext) skills.Result { return s.result }

func TestEnqueueDue_AdvancesNextRunAt(t *testing.T) {
	fs := newFakeStore()
	cron := "0 * * * *"
	fs.due = []*store.Job{{ID: 1, Name: "hourly", Cron: &cron, Enabled: true, NextRunAt: time.Now()}}

	sched := New(Config{Store: fs, Notifier: &fakeNotifier{}}, nil)
	sched.enqueueDue(context.Background())

	if len(fs.nextRunUpdates) != 1 {
		t.Fatalf("nextRunUpdates = %v, want one update", fs.nextRunUpdates)
	}
}

func TestEnqueueDue_DisablesExhaustedCron(t *testing.T) {
	fs := newFakeStore()
	fs.due = []*store.Job{{ID: 1, Name: "one-shot", Cron: nil, Enabled: true, NextRunAt: time.Now()}}

	sched := New(Config{Store: fs, Notifier: &fakeNotifier{}}, nil)
	sched.enqueueDue(context.Background())

	if fs.jobs[1] == nil || fs.jobs[1].Enabled {
		t.Fatalf("job 1 should have been disabled, got %+v", fs.jobs[1])
	}
}

func TestExecuteOne_PromptJobDispatchesAndCompletes(t *testing.T) {
	fs := newFakeStore()
	prompt := "say hello"
	fs.jobs[1] = &store.Job{ID: 1, Name: "greeting", Prompt: &prompt, MaxRetries: 3, NextRunAt: time.Now()}
	fs.claimed = &store.JobRun{ID: 10, JobID: 1, Status: store.RunRunning}

	notifier := &fakeNotifier{}
	sched := New(Config{
		Store:    fs,
		Threads:  &fakeThreads{},
		Agent:    &fakeAgent{events: []agent.StreamEvent{{Kind: agent.KindDelta, Delta: "hi"}}},
		Notifier: notifier,
	}, nil)

	sched.executeOne(context.Background())

	if len(fs.completedRuns) != 1 || fs.completedRuns[0] != 10 {
		t.Fatalf("completedRuns = %v, want [10]", fs.completedRuns)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifier calls = %v, want one completion notification", notifier.calls)
	}
}

func TestExecuteOne_PromptJobFailsOnAgentError(t *testing.T) {
	fs := newFakeStore()
	prompt := "say hello"
	fs.jobs[1] = &store.Job{ID: 1, Name: "greeting", Prompt: &prompt, MaxRetries: 3, NextRunAt: time.Now()}
	fs.claimed = &store.JobRun{ID: 10, JobID: 1, Status: store.RunRunning, RetryCount: 2}

	notifier := &fakeNotifier{}
	sched := New(Config{
		Store:    fs,
		Threads:  &fakeThreads{},
		Agent:    &fakeAgent{err: errors.New("model unavailable")},
		Notifier: notifier,
	}, nil)

	sched.executeOne(context.Background())

	if len(fs.completedRuns) != 0 {
		t.Fatalf("completedRuns = %v, want none", fs.completedRuns)
	}
	if fs.failedRuns[10] == "" {
		t.Fatal("expected run 10 to be recorded as failed")
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifier calls = %v, want one failure notification (retries exhausted)", notifier.calls)
	}
}

func TestExecuteOne_SkillJobUnknownSkillFails(t *testing.T) {
	fs := newFakeStore()
	skillName := "does-not-exist"
	fs.jobs[1] = &store.Job{ID: 1, Name: "poll", SkillName: &skillName, MaxRetries: 1, NextRunAt: time.Now()}
	fs.claimed = &store.JobRun{ID: 20, JobID: 1, Status: store.RunRunning}

	sched := New(Config{
		Store:    fs,
		Skills:   &fakeSkillRegistry{skills: map[string]skills.Skill{}},
		Notifier: &fakeNotifier{},
	}, nil)

	sched.executeOne(context.Background())

	if fs.failedRuns[20] == "" {
		t.Fatal("expected run 20 to be recorded as failed for unknown skill")
	}
}

func TestExecuteOne_SkillJobDisablesOnSuccess(t *testing.T) {
	fs := newFakeStore()
	skillName := "fake-skill"
	fs.jobs[1] = &store.Job{ID: 1, Name: "poll", SkillName: &skillName, MaxRetries: 1, NextRunAt: time.Now()}
	fs.claimed = &store.JobRun{ID: 20, JobID: 1, Status: store.RunRunning}

	sched := New(Config{
		Store:  fs,
		Skills: &fakeSkillRegistry{skills: map[string]skills.Skill{"fake-skill": &fakeSkill{result: skills.Result{Success: true, DisableJob: true}}}},
	}, nil)

	sched.executeOne(context.Background())

	if len(fs.completedRuns) != 1 {
		t.Fatalf("completedRuns = %v, want one completion", fs.completedRuns)
	}
	if fs.jobs[1].Enabled {
		t.Fatal("job should have been disabled after a disable_job skill result")
	}
}

func TestExecuteOne_NoClaimIsNoop(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{Store: fs}, nil)
	sched.executeOne(context.Background())

	if len(fs.completedRuns) != 0 || len(fs.failedRuns) != 0 {
		t.Fatal("executeOne with nothing claimable should not touch any run")
	}
}

func TestStartStop(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{Store: fs, Notifier: &fakeNotifier{}}, nil)

	sched.Start(context.Background())
	sched.Stop()
}
