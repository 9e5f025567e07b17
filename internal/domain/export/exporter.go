package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// Exporter binds an identifier and a set of event types to an action,
// optionally gated by a condition. Immutable after construction.
type Exporter struct {
	id         string
	eventTypes []events.EventType
	condition  Condition
	action     Action
	logger     *slog.Logger
}

// NewExporter constructs an exporter. The replay sentinel is always
// appended to the configured event types, so every exporter can be
// retriggered manually.
func NewExporter(id string, eventTypes []events.EventType, condition Condition, action Action, logger *slog.Logger) (*Exporter, error) {
	if id == "" {
		return nil, errors.New("exporter: id is required")
	}
	if action == nil {
		return nil, fmt.Errorf("exporter %q: action is required", id)
	}
	if logger == nil {
		logger = slog.Default()
	}

	types := make([]events.EventType, 0, len(eventTypes)+1)
	seen := make(map[events.EventType]struct{}, len(eventTypes)+1)
	for _, t := range eventTypes {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	if _, ok := seen[events.Replay]; !ok {
		types = append(types, events.Replay)
	}

	return &Exporter{
		id:         id,
		eventTypes: types,
		condition:  condition,
		action:     action,
		logger:     logger,
	}, nil
}

// ID returns the exporter's configured identifier.
func (e *Exporter) ID() string { return e.id }

// EventTypes returns the subscribed event types in declaration order,
// including the replay sentinel.
func (e *Exporter) EventTypes() []events.EventType {
	out := make([]events.EventType, len(e.eventTypes))
	copy(out, e.eventTypes)
	return out
}

// CanHandleEvent reports whether the exporter subscribes to the event type.
func (e *Exporter) CanHandleEvent(eventType events.EventType) bool {
	for _, t := range e.eventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// HandleEvent runs the exporter against one event. The event-type filter is
// a hard gate; only when it passes is the condition evaluated, and its
// trace is logged whichever way it resolves.
func (e *Exporter) HandleEvent(ctx context.Context, ev *events.ApplicationEvent) error {
	if !e.CanHandleEvent(ev.EventType) {
		e.logger.Debug("exporter ignoring event outside its subscription",
			"exporter_id", e.id,
			"event_type", ev.EventType,
			"event_id", ev.EventID)
		return nil
	}

	if e.condition != nil {
		res, err := e.condition.Evaluate(ctx, ev)
		if err != nil {
			return fmt.Errorf("exporter %q: evaluate condition: %w", e.id, err)
		}
		e.logger.Info("exporter condition evaluated",
			"exporter_id", e.id,
			"event_id", ev.EventID,
			"matched", res.Matched,
			"trace", res.Trace)
		if !res.Matched {
			e.logger.Info("exporter action suppressed by condition",
				"exporter_id", e.id,
				"event_id", ev.EventID)
			return nil
		}
	}

	if err := e.action.Execute(ctx, ev); err != nil {
		return fmt.Errorf("exporter %q: execute action: %w", e.id, err)
	}
	return nil
}

// ExporterSpec is the decoded configuration-time form of an exporter.
type ExporterSpec struct {
	ID         string
	EventTypes []events.EventType
	Condition  ConditionBuilder
	Action     ActionBuilder
}

func decodeExporterSpec(r *Registries, raw json.RawMessage) (*ExporterSpec, error) {
	var spec struct {
		ID        string          `json:"Id"`
		Events    []string        `json:"Events"`
		Condition json.RawMessage `json:"Condition"`
		Action    json.RawMessage `json:"Action"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("exporter: %w", err)
	}
	if spec.ID == "" {
		return nil, errors.New("exporter: Id is required")
	}
	if len(spec.Action) == 0 {
		return nil, fmt.Errorf("exporter %q: Action is required", spec.ID)
	}

	action, err := r.Actions.Decode(spec.Action)
	if err != nil {
		return nil, fmt.Errorf("exporter %q: Action: %w", spec.ID, err)
	}
	condition, err := r.DecodeConditionSlot(spec.Condition)
	if err != nil {
		return nil, fmt.Errorf("exporter %q: Condition: %w", spec.ID, err)
	}

	types := make([]events.EventType, 0, len(spec.Events))
	for _, t := range spec.Events {
		types = append(types, events.EventType(t))
	}
	return &ExporterSpec{
		ID:         spec.ID,
		EventTypes: types,
		Condition:  condition,
		Action:     action,
	}, nil
}

// Build materializes the runtime exporter with the given dependency set.
func (s *ExporterSpec) Build(deps Dependencies, product ProductConfig) (*Exporter, error) {
	var condition Condition
	if s.Condition != nil {
		c, err := s.Condition.Build(deps, product)
		if err != nil {
			return nil, fmt.Errorf("exporter %q: Condition: %w", s.ID, err)
		}
		condition = c
	}
	action, err := s.Action.Build(deps, product)
	if err != nil {
		return nil, fmt.Errorf("exporter %q: Action: %w", s.ID, err)
	}
	return NewExporter(s.ID, s.EventTypes, condition, action, deps.Logger)
}
