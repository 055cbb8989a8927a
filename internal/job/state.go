package job

import "fmt"

// State is the lifecycle state of a job
type State string

const (
	StateQueued                     State = "queued"
	StateRunning                    State = "running"
	StatePaused                     State = "paused"
	StateWaitingForConflictDecision State = "waiting_for_conflict_decision"
	StateCancelled                  State = "cancelled"
	StateCompleted                  State = "completed"
	StateCompletedWithErrors        State = "completed_with_errors"
	StateFailed                     State = "failed"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether s is a final state
func (s State) IsTerminal() bool {
	switch s {
	case StateCancelled, StateCompleted, StateCompletedWithErrors, StateFailed:
		return true
	}
	return false
}

var allowedTransitions = map[State][]State{
	StateQueued:  {StateRunning, StateCancelled},
	StateRunning: {StatePaused, StateWaitingForConflictDecision, StateCancelled, StateCompleted, StateCompletedWithErrors, StateFailed},
	StatePaused:  {StateRunning, StateCancelled},
	StateWaitingForConflictDecision: {StateRunning, StateCancelled},
	// Terminal states have no valid transitions
	StateCancelled:           {},
	StateCompleted:           {},
	StateCompletedWithErrors: {},
	StateFailed:              {},
}

// CanTransitionTo checks if a transition to the target state is allowed
func (s State) CanTransitionTo(target State) bool {
	for _, valid := range allowedTransitions[s] {
		if valid == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error if the transition is not allowed
func ValidateTransition(from, to State) error {
	if !from.CanTransitionTo(to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// ErrInvalidTransition is returned when an invalid state transition is attempted
type ErrInvalidTransition struct {
	From State
	To   State
}

// Error implements the error interface
func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid job state transition from %s to %s", e.From, e.To)
}
