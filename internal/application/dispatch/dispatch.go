// Package dispatch translates raw domain occurrences into deferred exporter
// executions. Deciding whether any exporter cares is pure and happens
// in-line; enqueueing happens only after the caller's own persistence step
// commits, as an explicit two-phase contract.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coverloop/coverloop/internal/domain/events"
	"github.com/coverloop/coverloop/internal/domain/export"
	"github.com/coverloop/coverloop/internal/domain/quote"
	"github.com/coverloop/coverloop/internal/infrastructure/jobs"
)

// JobTypeIntegrationExport is the job type under which exporter executions
// are queued.
const JobTypeIntegrationExport = "integration-export"

// Job parameter names.
const (
	ParamEvent     = "event"
	ParamEventType = "event_type"
	ParamReleaseID = "release_id"
)

// ReleaseResolver resolves the active configuration for a product release.
// Resolution is expected to be cached and idempotent.
type ReleaseResolver interface {
	Resolve(ctx context.Context, releaseID string) (*export.IntegrationConfiguration, error)
}

// ReplayStatus reports whether an aggregate is currently being bulk-
// replayed to rebuild read models. Integrations are suppressed during
// replay.
type ReplayStatus interface {
	IsReplaying(ref events.AggregateReference) bool
}

// Occurrence kinds the dispatch layer understands.
const (
	KindQuoteStateChanged   = "quote.state.changed"
	KindQuoteVersionCreated = "quote.version.created"
	KindQuoteSubmitted      = "quote.submitted"
	KindPolicyIssued        = "policy.issued"
	KindPolicyRenewed       = "policy.renewed"
	KindPaymentCompleted    = "payment.completed"
	KindFormUpdated         = "form.updated"
)

// DefaultEventTypeMapping maps occurrence kinds to the abstract event types
// exporters subscribe to.
func DefaultEventTypeMapping() map[string][]events.EventType {
	return map[string][]events.EventType{
		KindQuoteStateChanged:   {events.QuoteStateChanged},
		KindQuoteVersionCreated: {events.QuoteVersionCreated},
		KindQuoteSubmitted:      {events.QuoteSubmitted, events.QuoteStateChanged},
		KindPolicyIssued:        {events.PolicyIssued},
		KindPolicyRenewed:       {events.PolicyRenewed},
		KindPaymentCompleted:    {events.PaymentCompleted},
		KindFormUpdated:         {events.FormUpdated},
	}
}

// Plan is the outcome of the pure decision phase. A skipped plan enqueues
// nothing.
type Plan struct {
	Event      *events.ApplicationEvent
	EventTypes []events.EventType
	Skip       bool
	SkipReason string
}

// Service implements both phases of the dispatch protocol.
type Service struct {
	releases ReleaseResolver
	replay   ReplayStatus
	queue    jobs.Queue
	mapping  map[string][]events.EventType
	logger   *slog.Logger
}

// NewService wires the dispatch service. mapping nil uses the default.
func NewService(releases ReleaseResolver, replay ReplayStatus, queue jobs.Queue, mapping map[string][]events.EventType, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if mapping == nil {
		mapping = DefaultEventTypeMapping()
	}
	return &Service{
		releases: releases,
		replay:   replay,
		queue:    queue,
		mapping:  mapping,
		logger:   logger,
	}
}

// Plan decides whether the occurrence warrants background work. It performs
// no writes: callers invoke it against the in-memory aggregate before
// persisting, and call Enqueue only after their transaction commits.
func (s *Service) Plan(ctx context.Context, kind string, ev *events.ApplicationEvent, quoteState quote.State) (*Plan, error) {
	skip := func(reason string) *Plan {
		s.logger.Debug("dispatch skipped", "kind", kind, "event_id", ev.EventID, "reason", reason)
		return &Plan{Event: ev, Skip: true, SkipReason: reason}
	}

	eventTypes, ok := s.mapping[kind]
	if !ok {
		eventTypes = []events.EventType{events.EventType(kind)}
	}

	// Expired quotes are handled by a separate automation mechanism. The
	// workflow machine positions itself at the supplied state, so a caller
	// handing us a state outside the quote vocabulary fails loudly here
	// instead of silently planning work for it.
	if kind == KindQuoteStateChanged {
		if !quote.ValidState(quoteState) {
			return nil, fmt.Errorf("dispatch plan: unknown quote state %q", quoteState)
		}
		machine, err := quote.NewWorkflowMachine(quoteState, ev.EntityID, nil)
		if err != nil {
			return nil, fmt.Errorf("dispatch plan: %w", err)
		}
		if machine.IsExpired() {
			return skip("quote expired"), nil
		}
	}
	if s.replay != nil && s.replay.IsReplaying(ev.Aggregate) {
		return skip("aggregate is being replayed"), nil
	}

	cfg, err := s.releases.Resolve(ctx, ev.ProductReleaseID)
	if err != nil {
		return nil, fmt.Errorf("dispatch plan: %w", err)
	}

	var matched []events.EventType
	for _, t := range eventTypes {
		if len(cfg.ExportersForEvent(t)) > 0 {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return skip("no exporter subscribed"), nil
	}
	return &Plan{Event: ev, EventTypes: matched}, nil
}

// Enqueue submits one job per matched event type. Call it only after the
// originating aggregate's pending changes have been durably persisted; the
// job re-resolves everything it needs, since the instances used by Plan are
// stale by execution time.
func (s *Service) Enqueue(ctx context.Context, plan *Plan) error {
	if plan.Skip {
		return nil
	}

	payload, err := json.Marshal(plan.Event)
	if err != nil {
		return fmt.Errorf("dispatch enqueue: marshal event: %w", err)
	}
	for _, t := range plan.EventTypes {
		job := jobs.NewJob(JobTypeIntegrationExport, map[string]string{
			ParamEvent:     string(payload),
			ParamEventType: string(t),
			ParamReleaseID: plan.Event.ProductReleaseID,
		})
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("dispatch enqueue: %w", err)
		}
		s.logger.Info("integration export job enqueued",
			"job_id", job.ID,
			"event_id", plan.Event.EventID,
			"event_type", t)
	}
	return nil
}
