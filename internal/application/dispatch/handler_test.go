package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/coverloop/coverloop/internal/domain/events"
	"github.com/coverloop/coverloop/internal/domain/export"
	"github.com/coverloop/coverloop/internal/infrastructure/jobs"
)

// flakyVisibility reports invisible for the first n calls.
type flakyVisibility struct {
	invisible int32
	calls     atomic.Int32
}

func (v *flakyVisibility) IsVisible(ctx context.Context, ev *events.ApplicationEvent) (bool, error) {
	return v.calls.Add(1) > v.invisible, nil
}

func exportJob(t *testing.T, ev *events.ApplicationEvent, eventType events.EventType) jobs.Job {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return jobs.NewJob(JobTypeIntegrationExport, map[string]string{
		ParamEvent:     string(payload),
		ParamEventType: string(eventType),
		ParamReleaseID: ev.ProductReleaseID,
	})
}

func TestHandle_RunsSubscribedExporters(t *testing.T) {
	var ran atomic.Int32
	var sawJobID string
	action := export.ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		ran.Add(1)
		sawJobID = ev.JobID
		return nil
	})
	e, err := export.NewExporter("exp", []events.EventType{events.PolicyIssued}, nil, action, nil)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	cfg, err := export.NewIntegrationConfiguration([]*export.Exporter{e}, nil, export.ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}

	h := NewHandler(&stubResolver{cfg: cfg}, nil, nil)
	job := exportJob(t, testEvent(events.PolicyIssued), events.PolicyIssued)
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if ran.Load() != 1 {
		t.Errorf("expected exporter to run once, ran %d", ran.Load())
	}
	if sawJobID != job.ID {
		t.Errorf("expected event to carry job id %q, got %q", job.ID, sawJobID)
	}
}

func TestHandle_EventTypeOverridesSerializedEvent(t *testing.T) {
	var sawType events.EventType
	action := export.ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		sawType = ev.EventType
		return nil
	})
	e, err := export.NewExporter("exp", []events.EventType{events.QuoteStateChanged}, nil, action, nil)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	cfg, err := export.NewIntegrationConfiguration([]*export.Exporter{e}, nil, export.ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}

	// The serialized event carries the submission type; the job targets the
	// fanned-out state-change subscription.
	h := NewHandler(&stubResolver{cfg: cfg}, nil, nil)
	job := exportJob(t, testEvent(events.QuoteSubmitted), events.QuoteStateChanged)
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if sawType != events.QuoteStateChanged {
		t.Errorf("expected event type override, got %q", sawType)
	}
}

func TestHandle_WaitsForVisibility(t *testing.T) {
	var ran atomic.Int32
	action := export.ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		ran.Add(1)
		return nil
	})
	e, err := export.NewExporter("exp", []events.EventType{events.PolicyIssued}, nil, action, nil)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	cfg, err := export.NewIntegrationConfiguration([]*export.Exporter{e}, nil, export.ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}

	visibility := &flakyVisibility{invisible: 2}
	h := NewHandler(&stubResolver{cfg: cfg}, visibility, nil)
	if err := h.Handle(context.Background(), exportJob(t, testEvent(events.PolicyIssued), events.PolicyIssued)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if got := visibility.calls.Load(); got != 3 {
		t.Errorf("expected 3 visibility polls, got %d", got)
	}
	if ran.Load() != 1 {
		t.Errorf("expected exporter to run after visibility, ran %d", ran.Load())
	}
}

func TestHandle_CollectsExporterFailures(t *testing.T) {
	var ran atomic.Int32
	ok := export.ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		ran.Add(1)
		return nil
	})
	boom := errors.New("export failed")
	failing := export.ActionFunc(func(ctx context.Context, ev *events.ApplicationEvent) error {
		return boom
	})

	first, err := export.NewExporter("failing", []events.EventType{events.PolicyIssued}, nil, failing, nil)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	second, err := export.NewExporter("healthy", []events.EventType{events.PolicyIssued}, nil, ok, nil)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	cfg, err := export.NewIntegrationConfiguration([]*export.Exporter{first, second}, nil, export.ProductConfig{})
	if err != nil {
		t.Fatalf("NewIntegrationConfiguration failed: %v", err)
	}

	h := NewHandler(&stubResolver{cfg: cfg}, nil, nil)
	err = h.Handle(context.Background(), exportJob(t, testEvent(events.PolicyIssued), events.PolicyIssued))
	if err == nil {
		t.Fatal("expected failure from the failing exporter")
	}
	var handleErr *HandleError
	if !errors.As(err, &handleErr) {
		t.Fatalf("expected *HandleError, got %T", err)
	}
	if len(handleErr.Errors) != 1 || !errors.Is(handleErr.Errors[0], boom) {
		t.Errorf("unexpected aggregated errors %v", handleErr.Errors)
	}
	if ran.Load() != 1 {
		t.Errorf("expected healthy exporter to run despite the failure, ran %d", ran.Load())
	}
}

func TestHandle_ResolverErrorFailsJob(t *testing.T) {
	boom := errors.New("release store down")
	h := NewHandler(&stubResolver{err: boom}, nil, nil)
	err := h.Handle(context.Background(), exportJob(t, testEvent(events.PolicyIssued), events.PolicyIssued))
	if !errors.Is(err, boom) {
		t.Errorf("expected resolver error, got %v", err)
	}
}
