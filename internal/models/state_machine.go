// Package models provides data structures and state management for spread positions.
package models

import "fmt"

// PositionState represents the current state of a position
type PositionState string

const (
	StatePending  PositionState = "pending"  // Entry order submitted, awaiting fill
	StateOpen     PositionState = "open"     // Fill confirmed, actively managed
	StateClosing  PositionState = "closing"  // Exit triggered, close order working
	StateClosed   PositionState = "closed"   // Close fill confirmed
	StateRejected PositionState = "rejected" // Entry order refused by the broker
)

// Transition conditions carried with each state change.
const (
	ConditionOrderFilled   = "order_filled"
	ConditionOrderRejected = "order_rejected"
	ConditionExitTriggered = "exit_triggered"
	ConditionCloseFilled   = "close_filled"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions is the complete transition table. Anything else is refused.
var ValidTransitions = []StateTransition{
	{StatePending, StateOpen, ConditionOrderFilled, "Entry order filled"},
	{StatePending, StateRejected, ConditionOrderRejected, "Entry order rejected by broker"},
	{StateOpen, StateClosing, ConditionExitTriggered, "Exit rule triggered, close order submitted"},
	{StateClosing, StateClosed, ConditionCloseFilled, "Close order filled"},
}

// IsTerminal reports whether no transition leaves the state.
func (s PositionState) IsTerminal() bool {
	return s == StateClosed || s == StateRejected
}

// IsKnown reports whether s is one of the defined states.
func (s PositionState) IsKnown() bool {
	switch s {
	case StatePending, StateOpen, StateClosing, StateClosed, StateRejected:
		return true
	default:
		return false
	}
}

// StateMachine manages position state transitions
type StateMachine struct {
	currentState PositionState
}

// NewStateMachine creates a state machine for a freshly submitted position.
func NewStateMachine() *StateMachine {
	return NewStateMachineFromState(StatePending)
}

// NewStateMachineFromState rebuilds a machine from a persisted state.
// Unknown states fall back to pending.
func NewStateMachineFromState(state PositionState) *StateMachine {
	if !state.IsKnown() {
		state = StatePending
	}
	return &StateMachine{currentState: state}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to &&
			conditionMatches(transition.Condition, condition) {
			return nil
		}
	}
	return fmt.Errorf("%w: from %s to %s with condition '%s'",
		ErrInvalidTransition, sm.currentState, to, condition)
}

// conditionMatches accepts an empty provided condition as "unspecified".
func conditionMatches(transitionCondition, providedCondition string) bool {
	return providedCondition == "" || providedCondition == transitionCondition
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to PositionState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.currentState = to
	return nil
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StatePending:
		return "Order submitted, waiting for broker confirmation"
	case StateOpen:
		return "Position open, evaluated for exits every cycle"
	case StateClosing:
		return "Exit triggered, waiting for close fill"
	case StateClosed:
		return "Position closed"
	case StateRejected:
		return "Entry order rejected, no exposure"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}

	return &StateMachine{currentState: sm.currentState}
}
