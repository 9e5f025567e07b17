package export

import (
	"context"
	"strings"
	"testing"

	"github.com/coverloop/coverloop/internal/domain/events"
	"github.com/coverloop/coverloop/internal/domain/quote"
)

// mockQuotes implements quote.Lookup with fixed answers.
type mockQuotes struct {
	change    quote.StateChange
	hasChange bool
	state     quote.State
	step      string
}

func (m *mockQuotes) StateChangeFor(ctx context.Context, ev *events.ApplicationEvent) (quote.StateChange, bool, error) {
	return m.change, m.hasChange, nil
}

func (m *mockQuotes) CurrentState(ctx context.Context, quoteID string) (quote.State, error) {
	return m.state, nil
}

func (m *mockQuotes) CurrentWorkflowStep(ctx context.Context, quoteID string) (string, error) {
	return m.step, nil
}

var _ quote.Lookup = (*mockQuotes)(nil)

func TestQuoteStateEquals_AllUnsetIsVacuousMatch(t *testing.T) {
	builder := &QuoteStateEqualsBuilder{}
	cond, err := builder.Build(Dependencies{Quotes: &mockQuotes{}}, ProductConfig{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	res, err := cond.Evaluate(context.Background(), newTestEvent(events.QuoteStateChanged))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Matched {
		t.Error("expected vacuous match with no constraints")
	}
	if !strings.Contains(res.Trace, "no constraints specified") {
		t.Errorf("trace should state no constraints were specified, got %q", res.Trace)
	}
}

func TestQuoteStateEquals_DecodeValidatesAgainstWorkflow(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "valid transition",
			doc:  `{"OriginalState": "review", "Operation": "approve", "ResultingState": "approved"}`,
		},
		{
			name: "resulting state alone",
			doc:  `{"ResultingState": "approved"}`,
		},
		{
			name:    "unknown state name",
			doc:     `{"OriginalState": "floating"}`,
			wantErr: `unknown quote state "floating"`,
		},
		{
			name:    "unknown operation name",
			doc:     `{"Operation": "vaporize"}`,
			wantErr: `unknown workflow operation "vaporize"`,
		},
		{
			name:    "operation not allowed in original state",
			doc:     `{"OriginalState": "nascent", "Operation": "bind"}`,
			wantErr: "not allowed",
		},
		{
			name:    "resulting state contradicts transition",
			doc:     `{"OriginalState": "review", "Operation": "approve", "ResultingState": "declined"}`,
			wantErr: `to "approved", not "declined"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeQuoteStateEquals([]byte(tt.doc))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected a decode error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteStateEquals_Constraints(t *testing.T) {
	change := quote.StateChange{
		Operation:      quote.OpApprove,
		OriginalState:  quote.StateReview,
		ResultingState: quote.StateApproved,
		WorkflowStep:   "underwriting",
		UserRole:       "underwriter",
	}

	tests := []struct {
		name    string
		builder QuoteStateEqualsBuilder
		want    bool
	}{
		{"all constraints match", QuoteStateEqualsBuilder{
			Operation:      quote.OpApprove,
			OriginalState:  string(quote.StateReview),
			ResultingState: string(quote.StateApproved),
			WorkflowStep:   "underwriting",
			UserRole:       "underwriter",
		}, true},
		{"partial constraints match", QuoteStateEqualsBuilder{
			ResultingState: string(quote.StateApproved),
		}, true},
		{"one constraint mismatched", QuoteStateEqualsBuilder{
			Operation:      quote.OpApprove,
			ResultingState: string(quote.StateDeclined),
		}, false},
		{"wrong role", QuoteStateEqualsBuilder{
			UserRole: "customer",
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Dependencies{Quotes: &mockQuotes{change: change, hasChange: true}}
			cond, err := tt.builder.Build(deps, ProductConfig{})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			res, err := cond.Evaluate(context.Background(), newTestEvent(events.QuoteStateChanged))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if res.Matched != tt.want {
				t.Errorf("expected matched=%t, got %t (trace: %s)", tt.want, res.Matched, res.Trace)
			}
		})
	}
}

func TestQuoteStateEquals_TraceReportsEachConstraint(t *testing.T) {
	deps := Dependencies{Quotes: &mockQuotes{
		change:    quote.StateChange{ResultingState: quote.StateApproved},
		hasChange: true,
	}}
	builder := &QuoteStateEqualsBuilder{ResultingState: string(quote.StateDeclined)}
	cond, err := builder.Build(deps, ProductConfig{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	res, err := cond.Evaluate(context.Background(), newTestEvent(events.QuoteStateChanged))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Matched {
		t.Error("expected mismatch")
	}
	for _, want := range []string{
		"operation: not specified, satisfied",
		`resulting state: expected "declined", actual "approved", not matched`,
		"user role: not specified, satisfied",
	} {
		if !strings.Contains(res.Trace, want) {
			t.Errorf("trace missing %q, got %q", want, res.Trace)
		}
	}
}

func TestQuoteStateEquals_MissingLookupIsUnconstrainedMatch(t *testing.T) {
	builder := &QuoteStateEqualsBuilder{Operation: quote.OpApprove}
	cond, err := builder.Build(Dependencies{}, ProductConfig{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := cond.Evaluate(context.Background(), newTestEvent(events.QuoteStateChanged))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Matched {
		t.Error("expected unconstrained match when the lookup is unavailable")
	}
}

func TestFormFieldValueEquals(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		value string
		want  bool
	}{
		{"equal", map[string]any{"plan": "gold"}, "gold", true},
		{"not equal", map[string]any{"plan": "silver"}, "gold", false},
		{"missing field", map[string]any{}, "gold", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Dependencies{Forms: &mockForms{data: tt.data}}
			builder := &FormFieldValueEqualsBuilder{FieldName: "plan", Value: tt.value}
			cond, err := builder.Build(deps, ProductConfig{})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			res, err := cond.Evaluate(context.Background(), newTestEvent(events.QuoteSubmitted))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if res.Matched != tt.want {
				t.Errorf("expected matched=%t, got %t (trace: %s)", tt.want, res.Matched, res.Trace)
			}
		})
	}
}

func TestReplayOnly(t *testing.T) {
	builder := &ReplayOnlyBuilder{}
	cond, err := builder.Build(Dependencies{}, ProductConfig{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ev := newTestEvent(events.Replay)
	res, err := cond.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Matched {
		t.Error("expected no match for a non-retriggered event")
	}

	ev.IsRetriggering = true
	res, err = cond.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Matched {
		t.Error("expected match for a retriggered event")
	}
}

func TestNewWorkflowStepEquals(t *testing.T) {
	deps := Dependencies{Quotes: &mockQuotes{
		change:    quote.StateChange{WorkflowStep: "payment"},
		hasChange: true,
	}}
	builder := &NewWorkflowStepEqualsBuilder{WorkflowStep: "payment"}
	cond, err := builder.Build(deps, ProductConfig{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := cond.Evaluate(context.Background(), newTestEvent(events.QuoteStateChanged))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Matched {
		t.Errorf("expected match, trace: %s", res.Trace)
	}
}
