// Package events defines the application events consumed by the integration
// export engine. Events are produced by the quote event-sourcing subsystem;
// this package only models what the engine reads.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle occurrence an exporter can subscribe to.
type EventType string

const (
	QuoteStateChanged   EventType = "QuoteStateChanged"
	QuoteVersionCreated EventType = "QuoteVersionCreated"
	QuoteSubmitted      EventType = "QuoteSubmitted"
	PolicyIssued        EventType = "PolicyIssued"
	PolicyRenewed       EventType = "PolicyRenewed"
	PaymentCompleted    EventType = "PaymentCompleted"
	FormUpdated         EventType = "FormUpdated"

	// Replay is the sentinel type carried by events re-emitted during a
	// manual retrigger. Every exporter implicitly subscribes to it.
	Replay EventType = "Replay"
)

// AggregateReference identifies the aggregate an event originated from.
type AggregateReference struct {
	AggregateType string `json:"aggregate_type"`
	EntityID      string `json:"entity_id"`
}

// ApplicationEvent is an immutable record of a quote-lifecycle occurrence.
// The engine never mutates it.
type ApplicationEvent struct {
	EventID          uuid.UUID          `json:"event_id"`
	EventType        EventType          `json:"event_type"`
	Aggregate        AggregateReference `json:"aggregate"`
	EntityID         string             `json:"entity_id"`
	SequenceNumber   int64              `json:"sequence_number"`
	JobID            string             `json:"job_id,omitempty"`
	ProductReleaseID string             `json:"product_release_id"`
	IsRetriggering   bool               `json:"is_retriggering"`
	OccurredAt       time.Time          `json:"occurred_at"`

	// Payload carries the raw snapshot attached by the producer, when any.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewApplicationEvent constructs an event with a fresh id and timestamp.
func NewApplicationEvent(eventType EventType, ref AggregateReference, releaseID string, seq int64) *ApplicationEvent {
	return &ApplicationEvent{
		EventID:          uuid.New(),
		EventType:        eventType,
		Aggregate:        ref,
		EntityID:         ref.EntityID,
		SequenceNumber:   seq,
		ProductReleaseID: releaseID,
		OccurredAt:       time.Now().UTC(),
	}
}
