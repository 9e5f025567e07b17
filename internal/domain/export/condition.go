package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coverloop/coverloop/internal/domain/events"
	"github.com/coverloop/coverloop/internal/domain/quote"
)

// ConditionResult pairs a predicate outcome with a human-readable trace of
// how it was reached. The trace is an observability contract for operators
// diagnosing why an exporter did or did not fire.
type ConditionResult struct {
	Matched bool
	Trace   string
}

// Condition gates whether an exporter's action fires for an event.
type Condition interface {
	Evaluate(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error)
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc func(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error)

func (f ConditionFunc) Evaluate(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error) {
	return f(ctx, ev)
}

// ConditionBuilder is the configuration-time form of a Condition.
type ConditionBuilder interface {
	Build(deps Dependencies, product ProductConfig) (Condition, error)
}

// trace accumulates per-constraint segments of a condition trace.
type trace struct {
	name string
	segs []string
}

func newTrace(name string) *trace {
	return &trace{name: name}
}

// constraint records one constraint check. Unspecified constraints are
// recorded as satisfied.
func (t *trace) constraint(label string, specified bool, expected, actual string, matched bool) bool {
	if !specified {
		t.segs = append(t.segs, fmt.Sprintf("%s: not specified, satisfied", label))
		return true
	}
	verdict := "matched"
	if !matched {
		verdict = "not matched"
	}
	t.segs = append(t.segs, fmt.Sprintf("%s: expected %q, actual %q, %s", label, expected, actual, verdict))
	return matched
}

func (t *trace) note(s string) {
	t.segs = append(t.segs, s)
}

func (t *trace) result(matched bool) ConditionResult {
	return ConditionResult{
		Matched: matched,
		Trace:   fmt.Sprintf("%s: matched=%t: %s", t.name, matched, strings.Join(t.segs, "; ")),
	}
}

// FormFieldValueEqualsBuilder matches when a named form field equals a
// fixed value.
type FormFieldValueEqualsBuilder struct {
	FieldName string `json:"FieldName"`
	Value     string `json:"Value"`
}

func decodeFormFieldValueEquals(raw json.RawMessage) (*FormFieldValueEqualsBuilder, error) {
	b, err := decodeInto[FormFieldValueEqualsBuilder]("form field value equals condition", raw)
	if err != nil {
		return nil, err
	}
	if b.FieldName == "" {
		return nil, errors.New("form field value equals condition: FieldName is required")
	}
	return b, nil
}

func (b *FormFieldValueEqualsBuilder) Build(deps Dependencies, product ProductConfig) (Condition, error) {
	forms := deps.Forms
	field, expected := b.FieldName, b.Value
	return ConditionFunc(func(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error) {
		t := newTrace("formFieldValueEquals")
		if forms == nil {
			// An absent reader is an unconstrained match, not an error.
			t.note("form data reader unavailable, satisfied")
			return t.result(true), nil
		}
		data, err := forms.LatestFormData(ctx, ev.EntityID)
		if err != nil {
			return ConditionResult{}, fmt.Errorf("form field value equals condition: %w", err)
		}
		actual := formatValue(data[field])
		matched := t.constraint(fmt.Sprintf("field %q", field), true, expected, actual, actual == expected)
		return t.result(matched), nil
	}), nil
}

// QuoteStateEqualsBuilder matches a quote workflow transition. Every field
// is optional; unspecified constraints are automatically satisfied, so a
// fully unset condition is a vacuous match.
type QuoteStateEqualsBuilder struct {
	Operation      string `json:"Operation"`
	OriginalState  string `json:"OriginalState"`
	ResultingState string `json:"ResultingState"`
	WorkflowStep   string `json:"WorkflowStep"`
	UserRole       string `json:"UserRole"`
}

func decodeQuoteStateEquals(raw json.RawMessage) (*QuoteStateEqualsBuilder, error) {
	b, err := decodeInto[QuoteStateEqualsBuilder]("quote state equals condition", raw)
	if err != nil {
		return nil, err
	}
	if err := b.validateWorkflow(); err != nil {
		return nil, fmt.Errorf("quote state equals condition: %w", err)
	}
	return b, nil
}

// validateWorkflow checks the configured names against the quote workflow
// machine. A condition over a state the workflow can never reach, or over a
// transition the machine does not allow, is a configuration mistake and is
// rejected when the release document is parsed rather than evaluating to
// false forever at dispatch time.
func (b *QuoteStateEqualsBuilder) validateWorkflow() error {
	for _, s := range []string{b.OriginalState, b.ResultingState} {
		if s != "" && !quote.ValidState(quote.State(s)) {
			return fmt.Errorf("unknown quote state %q", s)
		}
	}
	if b.Operation != "" && !quote.ValidOperation(b.Operation) {
		return fmt.Errorf("unknown workflow operation %q", b.Operation)
	}
	if b.OriginalState == "" || b.Operation == "" {
		return nil
	}

	machine, err := quote.NewWorkflowMachine(quote.State(b.OriginalState), "", nil)
	if err != nil {
		return err
	}
	if err := machine.Transition(b.Operation); err != nil {
		return err
	}
	if b.ResultingState != "" && machine.Current() != quote.State(b.ResultingState) {
		return fmt.Errorf("operation %q moves a %q quote to %q, not %q",
			b.Operation, b.OriginalState, machine.Current(), b.ResultingState)
	}
	return nil
}

func (b *QuoteStateEqualsBuilder) anySpecified() bool {
	return b.Operation != "" || b.OriginalState != "" || b.ResultingState != "" || b.WorkflowStep != "" || b.UserRole != ""
}

func (b *QuoteStateEqualsBuilder) Build(deps Dependencies, product ProductConfig) (Condition, error) {
	quotes := deps.Quotes
	spec := *b
	return ConditionFunc(func(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error) {
		t := newTrace("quoteStateEquals")
		if !spec.anySpecified() {
			t.note("no constraints specified, satisfied")
			return t.result(true), nil
		}
		if quotes == nil {
			t.note("quote lookup unavailable, satisfied")
			return t.result(true), nil
		}

		sc, ok, err := quotes.StateChangeFor(ctx, ev)
		if err != nil {
			return ConditionResult{}, fmt.Errorf("quote state equals condition: %w", err)
		}
		if !ok {
			t.note("no workflow transition recorded for event, not matched")
			return t.result(false), nil
		}

		matched := t.constraint("operation", spec.Operation != "", spec.Operation, sc.Operation, spec.Operation == sc.Operation)
		matched = t.constraint("original state", spec.OriginalState != "", spec.OriginalState, string(sc.OriginalState), quote.State(spec.OriginalState) == sc.OriginalState) && matched
		matched = t.constraint("resulting state", spec.ResultingState != "", spec.ResultingState, string(sc.ResultingState), quote.State(spec.ResultingState) == sc.ResultingState) && matched
		matched = t.constraint("workflow step", spec.WorkflowStep != "", spec.WorkflowStep, sc.WorkflowStep, spec.WorkflowStep == sc.WorkflowStep) && matched
		matched = t.constraint("user role", spec.UserRole != "", spec.UserRole, sc.UserRole, spec.UserRole == sc.UserRole) && matched
		return t.result(matched), nil
	}), nil
}

// NewWorkflowStepEqualsBuilder matches when the transition landed the quote
// on a named workflow step.
type NewWorkflowStepEqualsBuilder struct {
	WorkflowStep string `json:"WorkflowStep"`
}

func decodeNewWorkflowStepEquals(raw json.RawMessage) (*NewWorkflowStepEqualsBuilder, error) {
	b, err := decodeInto[NewWorkflowStepEqualsBuilder]("new workflow step equals condition", raw)
	if err != nil {
		return nil, err
	}
	if b.WorkflowStep == "" {
		return nil, errors.New("new workflow step equals condition: WorkflowStep is required")
	}
	return b, nil
}

func (b *NewWorkflowStepEqualsBuilder) Build(deps Dependencies, product ProductConfig) (Condition, error) {
	quotes := deps.Quotes
	expected := b.WorkflowStep
	return ConditionFunc(func(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error) {
		t := newTrace("newWorkflowStepEquals")
		if quotes == nil {
			t.note("quote lookup unavailable, satisfied")
			return t.result(true), nil
		}

		var actual string
		if sc, ok, err := quotes.StateChangeFor(ctx, ev); err != nil {
			return ConditionResult{}, fmt.Errorf("new workflow step equals condition: %w", err)
		} else if ok {
			actual = sc.WorkflowStep
		} else {
			step, err := quotes.CurrentWorkflowStep(ctx, ev.EntityID)
			if err != nil {
				return ConditionResult{}, fmt.Errorf("new workflow step equals condition: %w", err)
			}
			actual = step
		}

		matched := t.constraint("workflow step", true, expected, actual, expected == actual)
		return t.result(matched), nil
	}), nil
}

// ReplayOnlyBuilder matches only events carried by a manual retrigger.
type ReplayOnlyBuilder struct{}

func decodeReplayOnly(raw json.RawMessage) (*ReplayOnlyBuilder, error) {
	return decodeInto[ReplayOnlyBuilder]("replay only condition", raw)
}

func (b *ReplayOnlyBuilder) Build(deps Dependencies, product ProductConfig) (Condition, error) {
	return ConditionFunc(func(ctx context.Context, ev *events.ApplicationEvent) (ConditionResult, error) {
		t := newTrace("replayOnly")
		t.note(fmt.Sprintf("is retriggering = %t", ev.IsRetriggering))
		return t.result(ev.IsRetriggering), nil
	}), nil
}
