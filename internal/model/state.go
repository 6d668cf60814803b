package model

import "fmt"

// State is a position in the pipeline lifecycle.
//
// STATE MACHINE:
//
//	created → artifacts_written → dependencies_resolved → built → tested → succeeded
//	   └──────────────┴──────────────────┴───────────────┴───────┴──→ failed
//
// The direct-execution path is a single step: created → succeeded | failed.
// succeeded and failed are absorbing: nothing moves out of them.
type State string

const (
	StateCreated              State = "created"
	StateArtifactsWritten     State = "artifacts_written"
	StateDependenciesResolved State = "dependencies_resolved"
	StateBuilt                State = "built"
	StateTested               State = "tested"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

// next lists the only forward transition from each non-terminal state.
var next = map[State]State{
	StateCreated:              StateArtifactsWritten,
	StateArtifactsWritten:     StateDependenciesResolved,
	StateDependenciesResolved: StateBuilt,
	StateBuilt:                StateTested,
	StateTested:               StateSucceeded,
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Advance returns the state after s in the full-test pipeline.
func (s State) Advance() (State, error) {
	n, ok := next[s]
	if !ok {
		return s, fmt.Errorf("no transition out of state %q", s)
	}
	return n, nil
}

// CanTransition reports whether from → to is legal. Failing is legal from any
// non-terminal state; created → succeeded is the direct-execution shortcut.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if from == StateCreated && to == StateSucceeded {
		return true
	}
	return next[from] == to
}
