package ledger

// State is the lifecycle state of a molecule's docking job.
//
// NOTE: These values are persisted in the ledger database and are part
// of the stable on-disk contract.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCurated   State = "curated"
)

// transitions is the job state machine:
//
//	pending → running
//	running → succeeded | failed | timed_out
//	succeeded → curated
//
// curated, failed, and timed_out are terminal. Progress is keyed on
// which states have been durably recorded, never on scraping engine log
// text.
var transitions = map[State][]State{
	StatePending:   {StateRunning},
	StateRunning:   {StateSucceeded, StateFailed, StateTimedOut},
	StateSucceeded: {StateCurated},
}

// CanTransition reports whether moving from one state to another is
// legal. Transitions are monotonic; nothing leaves a terminal state.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s absorbs: no further transitions exist.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Finished reports whether the molecule's docking completed successfully
// (its compact output is expected on disk).
func (s State) Finished() bool {
	return s == StateSucceeded || s == StateCurated
}

// Retryable reports whether a prior outcome is eligible for re-dispatch
// under --retry-failed.
func (s State) Retryable() bool {
	return s == StateFailed || s == StateTimedOut
}
