// Package store provides typed, soft-delete-aware access to the five
// persisted entities: threads, messages, memory entries, jobs, and job
// runs. The package holds no business logic — every invariant enforced
// here (soft-delete filtering, id ordering, lease semantics) is a
// storage-level guarantee, not a policy decision.
package store

import (
	"encoding/json"
	"time"
)

// ThreadSource distinguishes a thread created from a user chat versus
// one created by the scheduler waking the agent up.
type ThreadSource string

const (
	ThreadSourceUser ThreadSource = "user"
	ThreadSourceWake ThreadSource = "wake"
)

// Thread is one ordered conversation.
type Thread struct {
	ID        int64
	Title     *string
	Source    ThreadSource
	JobRunID  *int64
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRole mirrors the role carried inside Content.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Usage records LM token accounting for an assistant message.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// MessageContent is the structured document that is the source of
// truth for a message's payload. Row columns (ThreadID, Role, ...)
// duplicate a subset of this for indexing only.
type MessageContent struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Usage   *Usage      `json:"usage,omitempty"`
}

// Message is one entry in a thread's totally-ordered-by-id history.
type Message struct {
	ID        int64
	ThreadID  int64
	Role      MessageRole
	Model     *string
	Content   MessageContent
	DeletedAt *time.Time
	CreatedAt time.Time
}

// MemorySource distinguishes agent-authored from user-authored memories.
type MemorySource string

const (
	MemorySourceAgent MemorySource = "agent"
	MemorySourceUser  MemorySource = "user"
)

// MemoryEntry is one long-term-memory fact with its embedding.
type MemoryEntry struct {
	ID        int64
	Content   string
	Embedding []float32
	Source    MemorySource
	ThreadID  *int64
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryMatch is one result of a similarity search.
type MemoryMatch struct {
	Entry      MemoryEntry
	Similarity float64
}

// Job is a scheduled unit of work: either a prompt job (drives the
// agent) or a skill job (runs an in-process skill). Exactly one of
// Prompt or (SkillName + SkillConfig) is populated — enforced by
// callers, not by the schema.
type Job struct {
	ID          int64
	Name        string
	Cron        *string
	Prompt      *string
	SkillName   *string
	SkillConfig json.RawMessage
	Enabled     bool
	MaxRetries  int
	NextRunAt   time.Time
	LastRunAt   *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPromptJob reports whether this job's payload is a prompt rather
// than a skill invocation.
func (j *Job) IsPromptJob() bool {
	return j.Prompt != nil
}

// JobRunStatus is the lifecycle state of one fire of a job.
type JobRunStatus string

const (
	RunPending   JobRunStatus = "pending"
	RunRunning   JobRunStatus = "running"
	RunCompleted JobRunStatus = "completed"
	RunFailed    JobRunStatus = "failed"
)

// JobRun is one nominal fire of a Job, tracked through the lease
// lifecycle to completion or terminal failure.
type JobRun struct {
	ID           int64
	JobID        int64
	ScheduledFor time.Time
	LockedUntil  *time.Time
	Status       JobRunStatus
	RetryCount   int
	ThreadID     *int64
	Error        *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}
