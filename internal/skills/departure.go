package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/directions"
)

// DirectionsClient is the subset of *directions.Client a skill needs.
// Matching the method signature exactly lets *directions.Client
// satisfy this interface with no adapter.
type DirectionsClient interface {
	Get(ctx context.Context, origin, destination string, departureTime, arrivalTime time.Time) (*directions.Route, error)
}

// Notifier is the subset of internal/notify.Client a skill needs.
type Notifier interface {
	Notify(ctx context.Context, title, body, tag, clickURL string)
}

// departureConfig is the departure-check skill's config payload.
type departureConfig struct {
	Version             int    `json:"version"`
	Origin              string `json:"origin"`
	Destination         string `json:"destination"`
	ArrivalTime         string `json:"arrivalTime"` // "HH:MM"
	LeadMinutes         int    `json:"leadMinutes"`
	PollIntervalMinutes int    `json:"pollIntervalMinutes"`
}

const (
	defaultLeadMinutes         = 7
	defaultPollIntervalMinutes = 5
)

// DepartureCheck is the reference skill: poll a directions API for
// traffic-aware travel time and notify once it's time to leave to
// make a daily arrival deadline.
type DepartureCheck struct {
	directions DirectionsClient
	notifier   Notifier
	logger     *slog.Logger
	// now is overridable for tests.
	now func() time.Time
}

// NewDepartureCheck creates the departure-check skill.
func NewDepartureCheck(directions DirectionsClient, notifier Notifier, logger *slog.Logger) *DepartureCheck {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepartureCheck{
		directions: directions,
		notifier:   notifier,
		logger:     logger.With("component", "skill.departure-check"),
		now:        time.Now,
	}
}

func (s *DepartureCheck) Name() string        { return "departure-check" }
func (s *DepartureCheck) Description() string { return "Notifies when it's time to leave to make a traffic-aware arrival deadline." }

func (s *DepartureCheck) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"version":             map[string]any{"type": "integer", "const": 1},
			"origin":              map[string]any{"type": "string"},
			"destination":         map[string]any{"type": "string"},
			"arrivalTime":         map[string]any{"type": "string", "description": "HH:MM, local time"},
			"leadMinutes":         map[string]any{"type": "integer", "description": "default 7"},
			"pollIntervalMinutes": map[string]any{"type": "integer", "description": "default 5"},
		},
		"required": []string{"origin", "destination", "arrivalTime"},
	}
}

// Execute polls directions until it's time to leave, the arrival
// deadline has already passed, or the run is cancelled.
func (s *DepartureCheck) Execute(ec ExecContext) Result {
	var cfg departureConfig
	if err := json.Unmarshal(ec.Job.SkillConfig, &cfg); err != nil {
		return Result{Success: false, Message: fmt.Sprintf("invalid skill config: %v", err)}
	}
	if cfg.LeadMinutes <= 0 {
		cfg.LeadMinutes = defaultLeadMinutes
	}
	if cfg.PollIntervalMinutes <= 0 {
		cfg.PollIntervalMinutes = defaultPollIntervalMinutes
	}

	for {
		select {
		case <-ec.Cancel:
			return Result{Success: true, Message: "Aborted"}
		default:
		}

		arrival, err := s.todayArrival(cfg.ArrivalTime)
		if err != nil {
			return Result{Success: false, Message: fmt.Sprintf("invalid arrivalTime: %v", err)}
		}
		if s.now().After(arrival) {
			return Result{Success: true, Message: "Past arrival time", DisableJob: true}
		}

		route, err := s.directions.Get(ec.Context, cfg.Origin, cfg.Destination, time.Time{}, arrival)
		if err != nil {
			s.logger.Warn("directions query failed, will retry", "error", err)
		} else {
			leaveBy := arrival.Add(-route.BestDuration())
			if !leaveBy.After(s.now().Add(time.Duration(cfg.LeadMinutes) * time.Minute)) {
				s.notifier.Notify(ec.Context, "Time to leave", fmt.Sprintf("Leave by %s to arrive by %s.", leaveBy.Format("15:04"), cfg.ArrivalTime), "departure", "")
				return Result{Success: true, Message: "Notification sent", DisableJob: true}
			}
		}

		if !s.sleepInterruptible(ec, time.Duration(cfg.PollIntervalMinutes)*time.Minute) {
			return Result{Success: true, Message: "Aborted"}
		}
	}
}

// todayArrival parses "HH:MM" against today's date in local time.
func (s *DepartureCheck) todayArrival(hhmm string) (time.Time, error) {
	now := s.now()
	t, err := time.ParseInLocation("15:04", hhmm, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
}

// sleepInterruptible sleeps for d or returns false early if cancel fires.
func (s *DepartureCheck) sleepInterruptible(ec ExecContext, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ec.Cancel:
		return false
	case <-ec.Context.Done():
		return false
	}
}
