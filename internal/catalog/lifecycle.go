package catalog

import (
	"fmt"
	"time"
)

// Run lifecycle state machine.
//
// Valid transitions:
//   - NEW -> {RUNNING, COMPLETED, FAILED, ABORTED}
//     (a run may reach a terminal state directly when its RUNNING observation
//     was missed or arrived out of order)
//   - RUNNING -> {RUNNING, COMPLETED, FAILED, ABORTED}
//     (RUNNING -> RUNNING is an idempotent heartbeat)
//   - NEW -> NEW is accepted idempotently (duplicate declaration)
//
// Terminal states are absorbing: any transition attempt out of COMPLETED,
// FAILED, or ABORTED fails with ErrInvalidTransition and leaves the run
// unchanged.

// ValidateRunTransition checks whether a run may move from one state to
// another. Self-transitions on non-terminal states are accepted.
func ValidateRunTransition(from, to RunState) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s (terminal states are absorbing)", ErrInvalidTransition, from, to)
	}

	switch from {
	case RunStateNew:
		// NEW may move anywhere, including staying NEW.
		return nil
	case RunStateRunning:
		if to == RunStateNew {
			return fmt.Errorf("%w: RUNNING -> NEW", ErrInvalidTransition)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
}

// ApplyRunTransition validates and applies a state change to the run record,
// maintaining its timestamps:
//
//   - StartedAt is set on first entry to RUNNING, or to a terminal state when
//     RUNNING was skipped. Out-of-order arrivals merge min-by-value: a later
//     event carrying an earlier timestamp pulls StartedAt back, an earlier
//     one never pushes it forward.
//   - EndedAt is set on entry to a terminal state. Terminal states are
//     absorbing, so it is written exactly once.
//
// State itself is last-writer-by-arrival. The run is mutated in place; on
// error it is left untouched.
func ApplyRunTransition(run *Run, to RunState, eventTime time.Time) error {
	if err := ValidateRunTransition(run.State, to); err != nil {
		return err
	}

	run.State = to

	if to == RunStateRunning || to.IsTerminal() {
		run.StartedAt = minTime(run.StartedAt, eventTime)
	}

	if to.IsTerminal() {
		ended := eventTime
		run.EndedAt = &ended
	}

	return nil
}

// minTime merges a timestamp min-by-value: returns the earlier of the
// existing value and the candidate, or the candidate when unset.
func minTime(existing *time.Time, candidate time.Time) *time.Time {
	if existing != nil && existing.Before(candidate) {
		return existing
	}

	return &candidate
}
