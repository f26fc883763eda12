package skills

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/directions"
)

type fakeDirections struct {
	route *directions.Route
	err   error
}

func (f *fakeDirections) Get(ctx context.Context, origin, destination string, departureTime, arrivalTime time.Time) (*directions.Route, error) {
	return f.route, f.err
}

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) Notify(ctx context.Context, title, body, tag, clickURL string) {
	f.calls = append(f.calls, title)
}

func newConfig(t *testing.T, cfg departureConfig) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDepartureCheck_TimeToLeave(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 16, 15, 0, 0, time.UTC)
	dirs := &fakeDirections{route: &directions.Route{DurationInTraffic: 25 * time.Minute}}
	notifier := &fakeNotifier{}
	skill := NewDepartureCheck(dirs, notifier, nil)
	skill.now = func() time.Time { return fixedNow }

	cfg := newConfig(t, departureConfig{Version: 1, Origin: "A", Destination: "B", ArrivalTime: "16:45", LeadMinutes: 7})
	result := skill.Execute(ExecContext{
		Context: context.Background(),
		Job:     JobInfo{ID: 1, Name: "departure", SkillConfig: cfg},
		Cancel:  make(chan struct{}),
	})

	if !result.Success || !result.DisableJob {
		t.Fatalf("Execute() = %+v, want success with disable_job", result)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "Time to leave" {
		t.Errorf("notifier calls = %v, want one \"Time to leave\"", notifier.calls)
	}
}

func TestDepartureCheck_PastArrival(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC)
	skill := NewDepartureCheck(&fakeDirections{}, &fakeNotifier{}, nil)
	skill.now = func() time.Time { return fixedNow }

	cfg := newConfig(t, departureConfig{Version: 1, Origin: "A", Destination: "B", ArrivalTime: "16:45"})
	result := skill.Execute(ExecContext{
		Context: context.Background(),
		Job:     JobInfo{SkillConfig: cfg},
		Cancel:  make(chan struct{}),
	})

	if !result.Success || !result.DisableJob || result.Message != "Past arrival time" {
		t.Fatalf("Execute() = %+v, want past-arrival disable", result)
	}
}

func TestDepartureCheck_Cancellation(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	dirs := &fakeDirections{route: &directions.Route{Duration: 2 * time.Hour}}
	skill := NewDepartureCheck(dirs, &fakeNotifier{}, nil)
	skill.now = func() time.Time { return fixedNow }

	cancel := make(chan struct{})
	close(cancel)

	cfg := newConfig(t, departureConfig{Version: 1, Origin: "A", Destination: "B", ArrivalTime: "23:00"})
	result := skill.Execute(ExecContext{
		Context: context.Background(),
		Job:     JobInfo{SkillConfig: cfg},
		Cancel:  cancel,
	})

	if !result.Success || result.Message != "Aborted" {
		t.Fatalf("Execute() = %+v, want Aborted", result)
	}
}

func TestDepartureCheck_InvalidConfig(t *testing.T) {
	skill := NewDepartureCheck(&fakeDirections{}, &fakeNotifier{}, nil)
	result := skill.Execute(ExecContext{
		Context: context.Background(),
		Job:     JobInfo{SkillConfig: json.RawMessage(`{`)},
		Cancel:  make(chan struct{}),
	})
	if result.Success {
		t.Fatal("Execute() with invalid config should fail")
	}
}
