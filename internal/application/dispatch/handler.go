package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/coverloop/coverloop/internal/domain/events"
	"github.com/coverloop/coverloop/internal/infrastructure/jobs"
)

// ErrEventNotVisible indicates the triggering event has not yet become
// readable from the event store.
var ErrEventNotVisible = errors.New("event not yet visible in store")

// EventVisibility reports whether an event's sequence number is readable
// from the store that persists the triggering aggregate.
type EventVisibility interface {
	IsVisible(ctx context.Context, ev *events.ApplicationEvent) (bool, error)
}

// HandleError aggregates per-exporter failures from one job so that one
// failing exporter does not stop the remaining ones from running. The job
// still fails, leaving retry to the queue's policy.
type HandleError struct {
	Errors []error
}

func (e *HandleError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d exporter(s) failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *HandleError) Unwrap() []error { return e.Errors }

// Handler executes integration export jobs. It re-resolves the
// configuration at run time and waits for the triggering event to become
// visible before processing, using bounded backoff rather than a fixed
// delay.
type Handler struct {
	releases   ReleaseResolver
	visibility EventVisibility
	retryCfg   retry.Config
	logger     *slog.Logger
}

// NewHandler wires a job handler. visibility nil disables the read-after-
// write check.
func NewHandler(releases ReleaseResolver, visibility EventVisibility, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		releases:   releases,
		visibility: visibility,
		retryCfg: retry.Config{
			MaxAttempts:   5,
			InitialDelay:  100 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		logger: logger,
	}
}

// Handle runs one job: decode the event, wait for visibility, then iterate
// every subscribed exporter in declaration order.
func (h *Handler) Handle(ctx context.Context, job jobs.Job) error {
	var ev events.ApplicationEvent
	if err := json.Unmarshal([]byte(job.Params[ParamEvent]), &ev); err != nil {
		return fmt.Errorf("handle job %s: decode event: %w", job.ID, err)
	}
	if t := job.Params[ParamEventType]; t != "" {
		ev.EventType = events.EventType(t)
	}
	ev.JobID = job.ID

	if err := h.awaitVisible(ctx, &ev); err != nil {
		return fmt.Errorf("handle job %s: %w", job.ID, err)
	}

	cfg, err := h.releases.Resolve(ctx, ev.ProductReleaseID)
	if err != nil {
		return fmt.Errorf("handle job %s: %w", job.ID, err)
	}

	var failures []error
	for _, id := range cfg.ExportersForEvent(ev.EventType) {
		if _, err := cfg.ExecuteExporter(ctx, id, &ev); err != nil {
			h.logger.Error("exporter execution failed",
				"job_id", job.ID,
				"exporter_id", id,
				"event_id", ev.EventID,
				"error", err)
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return &HandleError{Errors: failures}
	}
	return nil
}

// awaitVisible polls the event store until the triggering event is
// readable, with bounded exponential backoff.
func (h *Handler) awaitVisible(ctx context.Context, ev *events.ApplicationEvent) error {
	if h.visibility == nil {
		return nil
	}
	retryer := retry.New[struct{}](h.retryCfg)
	_, err := retryer.Do(ctx, func(ctx context.Context) (struct{}, error) {
		visible, err := h.visibility.IsVisible(ctx, ev)
		if err != nil {
			return struct{}{}, err
		}
		if !visible {
			return struct{}{}, ErrEventNotVisible
		}
		return struct{}{}, nil
	})
	return err
}
