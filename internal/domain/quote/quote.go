// Package quote models the slice of the insurance-quote domain the export
// engine needs: workflow states, state-change descriptions, and read-only
// collaborator ports. The quote aggregate itself lives in another subsystem.
package quote

import (
	"context"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// State is a quote workflow state.
type State string

const (
	StateNascent    State = "nascent"
	StateIncomplete State = "incomplete"
	StateReview     State = "review"
	StateApproved   State = "approved"
	StateDeclined   State = "declined"
	StateComplete   State = "complete"
	StateExpired    State = "expired"
)

// IsFinal reports whether no further workflow transitions are possible.
// Declined is not final: a declined quote can be reopened for review.
func (s State) IsFinal() bool {
	return s == StateComplete || s == StateExpired
}

// ValidState reports whether s names a quote workflow state.
func ValidState(s State) bool {
	switch s {
	case StateNascent, StateIncomplete, StateReview, StateApproved, StateDeclined, StateComplete, StateExpired:
		return true
	}
	return false
}

// StateChange describes one workflow transition of a quote, as recorded by
// the event-sourcing subsystem alongside the triggering event.
type StateChange struct {
	Operation      string
	OriginalState  State
	ResultingState State
	WorkflowStep   string
	UserRole       string
}

// FormDataReader exposes the latest submitted form data for a quote.
type FormDataReader interface {
	LatestFormData(ctx context.Context, quoteID string) (map[string]any, error)
}

// ApplicationDataReader exposes application-level data captured outside the
// form (referrer, intermediary, channel and similar).
type ApplicationDataReader interface {
	ApplicationData(ctx context.Context, quoteID string) (map[string]any, error)
}

// Lookup resolves quote workflow facts for a triggering event.
type Lookup interface {
	// StateChangeFor returns the workflow transition that produced the
	// event, or ok=false when the event did not arise from a transition.
	StateChangeFor(ctx context.Context, ev *events.ApplicationEvent) (StateChange, bool, error)

	// CurrentState returns the quote's current workflow state.
	CurrentState(ctx context.Context, quoteID string) (State, error)

	// CurrentWorkflowStep returns the quote's current workflow step name.
	CurrentWorkflowStep(ctx context.Context, quoteID string) (string, error)
}
