package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	cronparser "github.com/robfig/cron/v3"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

const (
	defaultJobMaxRetries = 3
	defaultRunHistory    = 50
)

type jobRequest struct {
	Name        string          `json:"name"`
	Cron        *string         `json:"cron"`
	Prompt      *string         `json:"prompt"`
	SkillName   *string         `json:"skill_name"`
	SkillConfig json.RawMessage `json:"skill_config"`
	Enabled     *bool           `json:"enabled"`
	MaxRetries  int             `json:"max_retries"`
	NextRunAt   *time.Time      `json:"next_run_at"`
}

// resolve validates a job request and returns the next_run_at it
// implies: the cron schedule's next fire if a cron expression is
// present, otherwise the caller-supplied one-shot time.
func (req jobRequest) resolve() (time.Time, error) {
	if req.Name == "" {
		return time.Time{}, coreerr.New(coreerr.Validation, "name is required")
	}
	hasPrompt := req.Prompt != nil && *req.Prompt != ""
	hasSkill := req.SkillName != nil && *req.SkillName != ""
	if hasPrompt == hasSkill {
		return time.Time{}, coreerr.New(coreerr.Validation, "exactly one of prompt or skill_name is required")
	}

	if req.Cron != nil && *req.Cron != "" {
		schedule, err := cronparser.ParseStandard(*req.Cron)
		if err != nil {
			return time.Time{}, coreerr.Wrap(coreerr.Validation, err, "invalid cron expression %q", *req.Cron)
		}
		next := schedule.Next(time.Now())
		if next.IsZero() {
			return time.Time{}, coreerr.New(coreerr.Validation, "cron expression %q never fires", *req.Cron)
		}
		return next, nil
	}

	if req.NextRunAt == nil {
		return time.Time{}, coreerr.New(coreerr.Validation, "next_run_at is required for a one-shot job")
	}
	return *req.NextRunAt, nil
}

func (s *Server) validateSkillName(req jobRequest) error {
	if req.SkillName == nil || *req.SkillName == "" || s.skills == nil {
		return nil
	}
	if _, ok := s.skills.Get(*req.SkillName); !ok {
		return coreerr.New(coreerr.Validation, "unknown skill %q", *req.SkillName)
	}
	return nil
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	nextRunAt, err := req.resolve()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.validateSkillName(req); err != nil {
		s.writeError(w, err)
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultJobMaxRetries
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	job := &store.Job{
		Name:        req.Name,
		Cron:        req.Cron,
		Prompt:      req.Prompt,
		SkillName:   req.SkillName,
		SkillConfig: req.SkillConfig,
		Enabled:     enabled,
		MaxRetries:  maxRetries,
		NextRunAt:   nextRunAt,
	}
	created, err := s.jobs.CreateJob(r.Context(), job)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

type jobWithRuns struct {
	Job  any `json:"job"`
	Runs any `json:"runs"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.jobs.ListRunsForJob(r.Context(), id, defaultRunHistory)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobWithRuns{Job: job, Runs: runs})
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	nextRunAt, err := req.resolve()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.validateSkillName(req); err != nil {
		s.writeError(w, err)
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultJobMaxRetries
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	job := &store.Job{
		Name:        req.Name,
		Cron:        req.Cron,
		Prompt:      req.Prompt,
		SkillName:   req.SkillName,
		SkillConfig: req.SkillConfig,
		Enabled:     enabled,
		MaxRetries:  maxRetries,
		NextRunAt:   nextRunAt,
	}
	updated, err := s.jobs.UpdateJob(r.Context(), id, job)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.jobs.SoftDeleteJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
