// internal/workflow/states.go
package workflow

import (
	stderrors "loan-engine/internal/common/errors"
)

// State is one stage of a decision run. FINALIZED is terminal and no
// state is revisited within a run.
type State string

const (
	StateIngested      State = "INGESTED"
	StateInitialReview State = "INITIAL_REVIEW"
	StateDebate        State = "DEBATE"
	StateConsensus     State = "CONSENSUS"
	StateFinalized     State = "FINALIZED"
)

var validTransitions = map[State][]State{
	StateIngested:      {StateInitialReview},
	StateInitialReview: {StateDebate, StateConsensus, StateFinalized},
	StateDebate:        {StateConsensus, StateFinalized},
	StateConsensus:     {StateFinalized},
	StateFinalized:     {},
}

// CanTransition reports whether the transition is allowed by the table.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state change. An illegal transition is a
// programming-logic fault: fatal, never retried.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, stderrors.Newf(stderrors.ErrCodeInvalidStateTransition,
			"illegal workflow transition %s -> %s", from, to)
	}
	return to, nil
}
