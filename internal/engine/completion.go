package engine

import "time"

// CompletionState is the lifecycle state of a homework assignment as
// tracked by the warehouse.
type CompletionState string

const (
	// StateInProgress is the only non-terminal state.
	StateInProgress CompletionState = "IN_PROGRESS"
	// StateCompleted means the homework was reported done in time.
	StateCompleted CompletionState = "COMPLETED"
	// StateOverDue means the homework passed its due date, completed late
	// or not at all.
	StateOverDue CompletionState = "OVER_DUE"
	// StateUnknown means the homework was already completed on its very
	// first sighting, so no completion duration can be attributed.
	StateUnknown CompletionState = "UNKNOWN"
)

// Default thresholds for the overdue windows. The source behavior uses a
// one-day tolerance on completed work and a three-day grace before an
// unfinished homework is written off; both are overridable via Config.
const (
	DefaultDueTolerance = 24 * time.Hour
	DefaultOverdueGrace = 72 * time.Hour
)

// CompletionInput is everything the state machine looks at for one crawl
// pass over one homework.
type CompletionInput struct {
	// Current state; transitions only ever leave StateInProgress.
	Current CompletionState
	// Completed is the source-reported completion flag.
	Completed bool
	// FirstObservation is true when no prior fact row exists for the key.
	FirstObservation bool

	Now      time.Time // crawl timestamp
	Due      time.Time
	Assigned time.Time
}

// CompletionResult is the outcome of one transition evaluation.
type CompletionResult struct {
	State CompletionState
	// CompletedAt is set when the transition records a completion (or an
	// effective write-off for overdue unfinished work).
	CompletedAt *time.Time
	// Duration is the attributed completion duration (crawl - assigned).
	Duration *time.Duration
}

// EvaluateCompletion applies the homework completion state machine:
//
//	IN_PROGRESS -> {COMPLETED, OVER_DUE, UNKNOWN}
//
// Any state other than IN_PROGRESS is terminal for this engine: the input
// state is returned unchanged with no timestamps, so repeated evaluation
// can never revert or recompute a settled state.
func EvaluateCompletion(in CompletionInput, dueTolerance, overdueGrace time.Duration) CompletionResult {
	if in.Current != StateInProgress {
		return CompletionResult{State: in.Current}
	}

	if in.Completed {
		if in.FirstObservation {
			// Completed before we ever saw it: the duration cannot be
			// attributed to any observation window.
			return CompletionResult{State: StateUnknown}
		}
		d := in.Now.Sub(in.Assigned)
		state := StateCompleted
		if in.Now.After(in.Due.Add(dueTolerance)) {
			state = StateOverDue
		}
		completedAt := in.Now
		return CompletionResult{State: state, CompletedAt: &completedAt, Duration: &d}
	}

	if in.Now.After(in.Due.Add(overdueGrace)) {
		// Effectively over, unresolved.
		d := in.Now.Sub(in.Assigned)
		completedAt := in.Now
		return CompletionResult{State: StateOverDue, CompletedAt: &completedAt, Duration: &d}
	}

	return CompletionResult{State: StateInProgress}
}
