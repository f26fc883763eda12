// Package skills implements the Skill Registry: a name-to-skill map
// of long-running, config-driven units of work the Job Scheduler runs
// in place of an LM prompt.
package skills

import (
	"context"
	"encoding/json"
	"log/slog"
)

// JobInfo is the subset of a job's fields a skill needs to run —
// deliberately not the storage layer's Job type, so this package has
// no dependency on the store.
type JobInfo struct {
	ID          int64
	Name        string
	SkillConfig json.RawMessage
}

// ExecContext is passed to a skill's Execute method.
type ExecContext struct {
	Context context.Context
	Job     JobInfo
	Logger  *slog.Logger
	// Cancel fires when the scheduler is shutting down; skills must
	// honor it in any interruptible sleep.
	Cancel <-chan struct{}
}

// Result is what a skill run reports back to the scheduler.
type Result struct {
	Success bool
	Message string
	// DisableJob, when true and Success is true, sets the job's
	// enabled flag to false — the one-shot skill style.
	DisableJob bool
}

// Skill is a long-running, config-driven task the scheduler can
// dispatch a job run to instead of the Agent Service.
type Skill interface {
	Name() string
	Description() string
	// ConfigSchema returns a JSON-schema-shaped description of the
	// skill's config payload, surfaced by the list_skills tool.
	ConfigSchema() map[string]any
	Execute(ec ExecContext) Result
}

// Registry is a name-to-Skill map.
type Registry struct {
	skills map[string]Skill
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds or replaces a skill.
func (r *Registry) Register(s Skill) {
	r.skills[s.Name()] = s
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// List returns every registered skill's name, description, and config
// schema, for the list_skills tool.
func (r *Registry) List() []map[string]any {
	out := make([]map[string]any, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, map[string]any{
			"name":          s.Name(),
			"description":   s.Description(),
			"config_schema": s.ConfigSchema(),
		})
	}
	return out
}
