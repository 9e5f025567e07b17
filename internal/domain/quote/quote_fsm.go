package quote

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Workflow operation names. These double as statekit event types and match
// the Operation field recorded on StateChange.
const (
	OpCompleteDetails = "completeDetails"
	OpSubmit          = "submit"
	OpApprove         = "approve"
	OpDecline         = "decline"
	OpBind            = "bind"
	OpExpire          = "expire"
	OpReopen          = "reopen"
)

// ValidOperation reports whether op names a workflow operation.
func ValidOperation(op string) bool {
	switch op {
	case OpCompleteDetails, OpSubmit, OpApprove, OpDecline, OpBind, OpExpire, OpReopen:
		return true
	}
	return false
}

// WorkflowContext carries state data for the quote machine.
type WorkflowContext struct {
	QuoteID string
	Guard   func(quoteID, operation string) bool
}

// WorkflowMachine validates quote workflow transitions. The dispatch layer
// uses it to reason about state-change events without reaching into the
// quote aggregate.
type WorkflowMachine struct {
	interpreter *statekit.Interpreter[WorkflowContext]
}

// NewWorkflowMachine builds a machine positioned at initialState. The guard
// is consulted before approve and bind; nil means always allowed.
func NewWorkflowMachine(initialState State, quoteID string, guard func(string, string) bool) (*WorkflowMachine, error) {
	if guard == nil {
		guard = func(string, string) bool { return true }
	}

	builder := statekit.NewMachine[WorkflowContext]("quote-workflow").
		WithInitial(statekit.StateID(initialState)).
		WithContext(WorkflowContext{
			QuoteID: quoteID,
			Guard:   guard,
		}).
		WithGuard("workflowGuard", func(ctx WorkflowContext, e statekit.Event) bool {
			return ctx.Guard(ctx.QuoteID, string(e.Type))
		})

	builder.State(statekit.StateID(StateNascent)).
		On(OpCompleteDetails).Target(statekit.StateID(StateIncomplete)).
		Done()

	builder.State(statekit.StateID(StateIncomplete)).
		On(OpSubmit).Target(statekit.StateID(StateReview)).
		On(OpExpire).Target(statekit.StateID(StateExpired)).
		Done()

	builder.State(statekit.StateID(StateReview)).
		On(OpApprove).Target(statekit.StateID(StateApproved)).Guard("workflowGuard").
		On(OpDecline).Target(statekit.StateID(StateDeclined)).
		On(OpExpire).Target(statekit.StateID(StateExpired)).
		Done()

	builder.State(statekit.StateID(StateApproved)).
		On(OpBind).Target(statekit.StateID(StateComplete)).Guard("workflowGuard").
		On(OpDecline).Target(statekit.StateID(StateDeclined)).
		On(OpExpire).Target(statekit.StateID(StateExpired)).
		Done()

	builder.State(statekit.StateID(StateDeclined)).
		On(OpReopen).Target(statekit.StateID(StateReview)).
		Done()

	builder.State(statekit.StateID(StateComplete)).
		Done()

	builder.State(statekit.StateID(StateExpired)).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build quote workflow machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &WorkflowMachine{interpreter: interpreter}, nil
}

// Current returns the current workflow state.
func (m *WorkflowMachine) Current() State {
	return State(m.interpreter.State().Value)
}

// Transition applies a workflow operation. It fails when the operation is
// not valid for the current state or a guard rejected it.
func (m *WorkflowMachine) Transition(operation string) error {
	before := m.Current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(operation)})
	after := m.Current()

	if before == after {
		return fmt.Errorf("operation %q is not allowed while the quote is in the %q state", operation, before)
	}
	return nil
}

// IsExpired reports whether the quote has reached the expired state.
func (m *WorkflowMachine) IsExpired() bool {
	return m.Current() == StateExpired
}
