package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cronparser "github.com/robfig/cron/v3"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/directions"
	"github.com/nugget/selfhosted-assistant/internal/fetch"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

// Memory is the subset of memory.Service the remember/recall tools need.
type Memory interface {
	Remember(ctx context.Context, content string, source store.MemorySource, threadID *int64, replaceID *int64) (*store.MemoryEntry, error)
	Recall(ctx context.Context, query string, limit int) ([]store.MemoryMatch, error)
}

// Directions is the subset of *directions.Client the directions tool needs.
type Directions interface {
	Configured() bool
	Get(ctx context.Context, origin, destination string, departureTime, arrivalTime time.Time) (*directions.Route, error)
}

// Notifier is the subset of *notify.Client the notify tool needs.
type Notifier interface {
	Configured() bool
	Notify(ctx context.Context, title, body, tag, clickURL string)
}

// Fetcher is the subset of *fetch.Fetcher the fetch_url tool needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (*fetch.Result, error)
}

// JobStore is the subset of store.Store the job CRUD tools need.
type JobStore interface {
	CreateJob(ctx context.Context, j *store.Job) (*store.Job, error)
	GetJob(ctx context.Context, id int64) (*store.Job, error)
	ListJobs(ctx context.Context) ([]*store.Job, error)
	UpdateJob(ctx context.Context, id int64, j *store.Job) (*store.Job, error)
	SoftDeleteJob(ctx context.Context, id int64) error
}

// SkillRegistry is the subset of skills.Registry the list_skills tool needs.
type SkillRegistry interface {
	List() []map[string]any
}

// BuiltinDeps bundles every collaborator the reference tool set needs.
// A nil Directions, Notifier, Fetcher, Jobs or Skills leaves its tools
// unregistered. A Directions or Notifier that reports
// Configured()==false keeps its tool registered, and the handler
// returns an ErrToolUnavailable that Registry.Execute renders as a
// failure message.
type BuiltinDeps struct {
	Memory     Memory
	Directions Directions
	Notifier   Notifier
	Fetcher    Fetcher
	Jobs       JobStore
	Skills     SkillRegistry
}

// RegisterBuiltins registers the reference tool set (§4.8) on r.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) {
	registerMemoryTools(r, deps.Memory)
	r.Register(currentDatetimeTool())
	if deps.Fetcher != nil {
		r.Register(fetchURLTool(deps.Fetcher))
	}
	if deps.Directions != nil {
		r.Register(directionsTool(deps.Directions))
	}
	if deps.Notifier != nil {
		r.Register(notifyTool(deps.Notifier))
	}
	if deps.Jobs != nil {
		registerJobTools(r, deps.Jobs)
	}
	if deps.Skills != nil {
		r.Register(listSkillsTool(deps.Skills))
	}
}

func registerMemoryTools(r *Registry, mem Memory) {
	if mem == nil {
		return
	}
	r.Register(&Tool{
		Name:        "remember",
		Description: "Store one atomic fact in long-term memory. Call recall first to check for an existing entry to update via replace_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":    map[string]any{"type": "string", "description": "The single fact to remember."},
				"replace_id": map[string]any{"type": "integer", "description": "If set, overwrites this existing memory entry instead of creating a new one."},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "content is required", nil
			}
			var replaceID *int64
			if v, ok := args["replace_id"].(float64); ok && v > 0 {
				id := int64(v)
				replaceID = &id
			}
			entry, err := mem.Remember(ctx, content, store.MemorySourceAgent, nil, replaceID)
			if err != nil {
				return "", err
			}
			if replaceID != nil {
				return fmt.Sprintf("Updated memory %d: %s", entry.ID, entry.Content), nil
			}
			return fmt.Sprintf("Remembered (id %d): %s", entry.ID, entry.Content), nil
		},
	})

	r.Register(&Tool{
		Name:        "recall",
		Description: "Search long-term memory for facts relevant to a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "description": "Max results, default 10, max 20."},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "query is required", nil
			}
			limit := 10
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}
			matches, err := mem.Recall(ctx, query, limit)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No relevant memories found.", nil
			}
			var sb strings.Builder
			for _, m := range matches {
				fmt.Fprintf(&sb, "- (id %d, %.0f%% relevant) %s\n", m.Entry.ID, m.Similarity*100, m.Entry.Content)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	})
}

func currentDatetimeTool() *Tool {
	return &Tool{
		Name:        "current_datetime",
		Description: "Returns the current local date and time.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().Format(time.RFC1123), nil
		},
	}
}

const fetchURLDefaultMaxChars = 20000

func fetchURLTool(f Fetcher) *Tool {
	return &Tool{
		Name:        "fetch_url",
		Description: "Fetches a URL and extracts its readable text content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":       map[string]any{"type": "string"},
				"max_chars": map[string]any{"type": "integer", "description": "Maximum characters to return. Default: 20000."},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rawURL, _ := args["url"].(string)
			if rawURL == "" {
				return "url is required", nil
			}
			maxChars := fetchURLDefaultMaxChars
			if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
				maxChars = int(mc)
			}
			result, err := f.Fetch(ctx, rawURL, maxChars)
			if err != nil {
				return fmt.Sprintf("could not fetch %s: %v", rawURL, err), nil
			}
			out := result.Content
			if result.Title != "" {
				out = result.Title + "\n\n" + out
			}
			if result.Truncated {
				out += "\n\n[content truncated]"
			}
			return out, nil
		},
	}
}

func directionsTool(d Directions) *Tool {
	return &Tool{
		Name:        "directions",
		Description: "Gets driving directions and travel time between two places. Provide at most one of departure_time or arrival_time (ISO-8601); omitting both means now.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"origin":         map[string]any{"type": "string"},
				"destination":    map[string]any{"type": "string"},
				"departure_time": map[string]any{"type": "string", "description": "ISO-8601"},
				"arrival_time":   map[string]any{"type": "string", "description": "ISO-8601"},
			},
			"required": []string{"origin", "destination"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if !d.Configured() {
				return "", &ErrToolUnavailable{ToolName: "directions"}
			}
			origin, _ := args["origin"].(string)
			destination, _ := args["destination"].(string)
			if origin == "" || destination == "" {
				return "origin and destination are required", nil
			}
			var departure, arrival time.Time
			if s, ok := args["departure_time"].(string); ok && s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Sprintf("invalid departure_time: %v", err), nil
				}
				departure = t
			}
			if s, ok := args["arrival_time"].(string); ok && s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Sprintf("invalid arrival_time: %v", err), nil
				}
				arrival = t
			}
			if !departure.IsZero() && !arrival.IsZero() {
				return "only one of departure_time or arrival_time may be set", nil
			}

			route, err := d.Get(ctx, origin, destination, departure, arrival)
			if err != nil {
				return fmt.Sprintf("directions lookup failed: %v", err), nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "From %s to %s: %s travel time.\n", origin, destination, route.BestDuration().Round(time.Minute))
			if !arrival.IsZero() {
				leaveBy := arrival.Add(-route.BestDuration())
				fmt.Fprintf(&sb, "Leave by %s to arrive by %s.\n", leaveBy.Format("15:04"), arrival.Format("15:04"))
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}

func notifyTool(n Notifier) *Tool {
	return &Tool{
		Name:        "notify",
		Description: "Sends a push notification to the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"body":  map[string]any{"type": "string"},
				"tag":   map[string]any{"type": "string"},
			},
			"required": []string{"title", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if !n.Configured() {
				return "", &ErrToolUnavailable{ToolName: "notify"}
			}
			title, _ := args["title"].(string)
			body, _ := args["body"].(string)
			tag, _ := args["tag"].(string)
			if title == "" || body == "" {
				return "title and body are required", nil
			}
			n.Notify(ctx, title, body, tag, "")
			return "Notification sent.", nil
		},
	}
}

func listSkillsTool(sk SkillRegistry) *Tool {
	return &Tool{
		Name:        "list_skills",
		Description: "Lists registered skills and their config schemas.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			list := sk.List()
			if len(list) == 0 {
				return "No skills registered.", nil
			}
			out, err := json.Marshal(list)
			if err != nil {
				return "", coreerr.Wrap(coreerr.Internal, err, "marshal skill list")
			}
			return string(out), nil
		},
	}
}

func registerJobTools(r *Registry, jobs JobStore) {
	r.Register(&Tool{
		Name:        "list_jobs",
		Description: "Lists scheduled jobs.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			list, err := jobs.ListJobs(ctx)
			if err != nil {
				return "", err
			}
			if len(list) == 0 {
				return "No jobs scheduled.", nil
			}
			var sb strings.Builder
			for _, j := range list {
				fmt.Fprintf(&sb, "- id %d: %s (enabled=%v, next_run_at=%s)\n", j.ID, j.Name, j.Enabled, j.NextRunAt.Format(time.RFC3339))
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	})

	r.Register(&Tool{
		Name:        "create_job",
		Description: "Creates a scheduled job. Exactly one of prompt or skill_name+skill_config must be set.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":         map[string]any{"type": "string"},
				"cron":         map[string]any{"type": "string", "description": "5-field cron expression; omit for a one-shot job"},
				"prompt":       map[string]any{"type": "string"},
				"skill_name":   map[string]any{"type": "string"},
				"skill_config": map[string]any{"type": "object"},
				"max_retries":  map[string]any{"type": "integer"},
				"run_at":       map[string]any{"type": "string", "description": "ISO-8601; first/only fire time"},
			},
			"required": []string{"name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			job, err := jobFromArgs(args)
			if err != nil {
				return err.Error(), nil
			}
			created, err := jobs.CreateJob(ctx, job)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created job %d: %s", created.ID, created.Name), nil
		},
	})

	r.Register(&Tool{
		Name:        "update_job",
		Description: "Updates a scheduled job's definition.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":           map[string]any{"type": "integer"},
				"name":         map[string]any{"type": "string"},
				"cron":         map[string]any{"type": "string"},
				"prompt":       map[string]any{"type": "string"},
				"skill_name":   map[string]any{"type": "string"},
				"skill_config": map[string]any{"type": "object"},
				"enabled":      map[string]any{"type": "boolean"},
				"max_retries":  map[string]any{"type": "integer"},
				"run_at":       map[string]any{"type": "string"},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, ok := args["id"].(float64)
			if !ok {
				return "id is required", nil
			}
			existing, err := jobs.GetJob(ctx, int64(id))
			if err != nil {
				return "", err
			}
			job, err := jobFromArgsMergedWith(args, existing)
			if err != nil {
				return err.Error(), nil
			}
			updated, err := jobs.UpdateJob(ctx, int64(id), job)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Updated job %d: %s", updated.ID, updated.Name), nil
		},
	})

	r.Register(&Tool{
		Name:        "delete_job",
		Description: "Deletes a scheduled job.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "integer"}},
			"required":   []string{"id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, ok := args["id"].(float64)
			if !ok {
				return "id is required", nil
			}
			if err := jobs.SoftDeleteJob(ctx, int64(id)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Deleted job %d.", int64(id)), nil
		},
	})
}

// jobFromArgs builds a new Job from create_job tool arguments,
// validating the job-kind and cron-expression invariants.
func jobFromArgs(args map[string]any) (*store.Job, error) {
	return jobFromArgsMergedWith(args, &store.Job{Enabled: true, MaxRetries: 3, NextRunAt: time.Now()})
}

// jobFromArgsMergedWith applies present tool arguments onto base,
// leaving fields base already carries untouched when the caller
// omitted them — the shape update_job needs for a partial update.
func jobFromArgsMergedWith(args map[string]any, base *store.Job) (*store.Job, error) {
	j := *base

	if v, ok := args["name"].(string); ok && v != "" {
		j.Name = v
	}
	if v, ok := args["cron"].(string); ok {
		if v == "" {
			j.Cron = nil
		} else {
			if _, err := cronparser.ParseStandard(v); err != nil {
				return nil, coreerr.New(coreerr.Validation, "invalid cron expression %q: %v", v, err)
			}
			j.Cron = &v
		}
	}
	if v, ok := args["prompt"].(string); ok {
		if v == "" {
			j.Prompt = nil
		} else {
			j.Prompt = &v
		}
	}
	if v, ok := args["skill_name"].(string); ok {
		if v == "" {
			j.SkillName = nil
		} else {
			j.SkillName = &v
		}
	}
	if v, ok := args["skill_config"]; ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Validation, err, "marshal skill_config")
		}
		j.SkillConfig = b
	}
	if v, ok := args["enabled"].(bool); ok {
		j.Enabled = v
	}
	if v, ok := args["max_retries"].(float64); ok {
		j.MaxRetries = int(v)
	}
	if v, ok := args["run_at"].(string); ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, coreerr.New(coreerr.Validation, "invalid run_at: %v", err)
		}
		j.NextRunAt = t
	}

	if (j.Prompt == nil) == (j.SkillName == nil) {
		return nil, coreerr.New(coreerr.Validation, "exactly one of prompt or skill_name must be set")
	}
	if j.Name == "" {
		return nil, coreerr.New(coreerr.Validation, "name is required")
	}

	return &j, nil
}
