// Package task tracks every analysis task through its lifecycle.
//
// Records live in a Registry keyed by task id. Each record has its own
// lock, so handlers for different tasks never contend, and every state
// change is checked against the transition table and written to a Journal.
package task

import (
	"errors"
	"fmt"
)

// State is a task lifecycle state.
type State string

// Task states in protocol order.
const (
	StateCreated           State = "CREATED"
	StateAnalysisRequested State = "ANALYSIS_REQUESTED"
	StateFeedbackPending   State = "FEEDBACK_PENDING"
	StateReviewPending     State = "REVIEW_PENDING"
	StateRevisionPending   State = "REVISION_PENDING"
	StatePresented         State = "PRESENTED"
	StateTerminal          State = "TERMINAL"
	StateFailed            State = "FAILED"
)

var (
	// ErrUnknownTask is returned for a task id the registry has never seen.
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrInvalidUpdate is returned when an update breaks a record invariant.
	ErrInvalidUpdate = errors.New("invalid task update")
)

var transitions = map[State][]State{
	StateCreated:           {StateAnalysisRequested},
	StateAnalysisRequested: {StateFeedbackPending, StateReviewPending},
	StateFeedbackPending:   {StateFeedbackPending, StateReviewPending},
	StateReviewPending:     {StateRevisionPending, StatePresented},
	StateRevisionPending:   {StatePresented},
	StatePresented:         {StateTerminal},
	StateFailed:            {StateTerminal},
}

// Final reports whether no further work happens for a task in s.
func (s State) Final() bool {
	return s == StateTerminal || s == StateFailed
}

// CanTransition reports whether from -> to is allowed. Every state that is
// not final may also move to StateFailed.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Final()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
