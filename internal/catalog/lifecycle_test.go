package catalog

import (
	"errors"
	"testing"
	"time"
)

func TestValidateRunTransition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		from    RunState
		to      RunState
		wantErr bool
	}{
		{name: "NEW to RUNNING", from: RunStateNew, to: RunStateRunning, wantErr: false},
		{name: "NEW to NEW is idempotent", from: RunStateNew, to: RunStateNew, wantErr: false},
		{name: "NEW straight to COMPLETED", from: RunStateNew, to: RunStateCompleted, wantErr: false},
		{name: "NEW straight to FAILED", from: RunStateNew, to: RunStateFailed, wantErr: false},
		{name: "NEW straight to ABORTED", from: RunStateNew, to: RunStateAborted, wantErr: false},
		{name: "RUNNING heartbeat", from: RunStateRunning, to: RunStateRunning, wantErr: false},
		{name: "RUNNING to COMPLETED", from: RunStateRunning, to: RunStateCompleted, wantErr: false},
		{name: "RUNNING to FAILED", from: RunStateRunning, to: RunStateFailed, wantErr: false},
		{name: "RUNNING to ABORTED", from: RunStateRunning, to: RunStateAborted, wantErr: false},
		{name: "RUNNING back to NEW", from: RunStateRunning, to: RunStateNew, wantErr: true},
		{name: "COMPLETED is absorbing", from: RunStateCompleted, to: RunStateRunning, wantErr: true},
		{name: "COMPLETED to FAILED", from: RunStateCompleted, to: RunStateFailed, wantErr: true},
		{name: "FAILED is absorbing", from: RunStateFailed, to: RunStateCompleted, wantErr: true},
		{name: "ABORTED is absorbing", from: RunStateAborted, to: RunStateRunning, wantErr: true},
		{name: "unknown target state", from: RunStateNew, to: RunState("PAUSED"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunTransition(tt.from, tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}

				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyRunTransitionTimestamps(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("started set on first RUNNING", func(t *testing.T) {
		run := &Run{ID: "run-1", State: RunStateNew}

		if err := ApplyRunTransition(run, RunStateRunning, base); err != nil {
			t.Fatalf("ApplyRunTransition() failed: %v", err)
		}

		if run.StartedAt == nil || !run.StartedAt.Equal(base) {
			t.Errorf("expected StartedAt %v, got %v", base, run.StartedAt)
		}

		if run.EndedAt != nil {
			t.Errorf("EndedAt must be unset before terminal entry, got %v", run.EndedAt)
		}
	})

	t.Run("started merges min by value", func(t *testing.T) {
		run := &Run{ID: "run-1", State: RunStateNew}

		// RUNNING events arrive out of order; the earlier timestamp wins
		// regardless of arrival order.
		if err := ApplyRunTransition(run, RunStateRunning, base.Add(time.Minute)); err != nil {
			t.Fatalf("first RUNNING failed: %v", err)
		}

		if err := ApplyRunTransition(run, RunStateRunning, base); err != nil {
			t.Fatalf("earlier RUNNING failed: %v", err)
		}

		if !run.StartedAt.Equal(base) {
			t.Errorf("expected StartedAt pulled back to %v, got %v", base, run.StartedAt)
		}

		// A later timestamp never pushes it forward.
		if err := ApplyRunTransition(run, RunStateRunning, base.Add(2*time.Minute)); err != nil {
			t.Fatalf("later RUNNING failed: %v", err)
		}

		if !run.StartedAt.Equal(base) {
			t.Errorf("later event pushed StartedAt forward to %v", run.StartedAt)
		}
	})

	t.Run("terminal entry sets ended", func(t *testing.T) {
		run := &Run{ID: "run-1", State: RunStateRunning}
		started := base
		run.StartedAt = &started

		ended := base.Add(10 * time.Minute)
		if err := ApplyRunTransition(run, RunStateCompleted, ended); err != nil {
			t.Fatalf("terminal transition failed: %v", err)
		}

		if run.EndedAt == nil || !run.EndedAt.Equal(ended) {
			t.Errorf("expected EndedAt %v, got %v", ended, run.EndedAt)
		}

		if !run.StartedAt.Equal(base) {
			t.Errorf("terminal entry must not move StartedAt, got %v", run.StartedAt)
		}
	})

	t.Run("skipped RUNNING still sets started", func(t *testing.T) {
		run := &Run{ID: "run-1", State: RunStateNew}

		if err := ApplyRunTransition(run, RunStateFailed, base); err != nil {
			t.Fatalf("direct terminal transition failed: %v", err)
		}

		if run.StartedAt == nil || !run.StartedAt.Equal(base) {
			t.Errorf("expected StartedAt backfilled to %v, got %v", base, run.StartedAt)
		}

		if run.EndedAt == nil || !run.EndedAt.Equal(base) {
			t.Errorf("expected EndedAt %v, got %v", base, run.EndedAt)
		}
	})

	t.Run("rejected transition leaves run untouched", func(t *testing.T) {
		started := base
		ended := base.Add(time.Minute)
		run := &Run{ID: "run-1", State: RunStateCompleted, StartedAt: &started, EndedAt: &ended}

		err := ApplyRunTransition(run, RunStateRunning, base.Add(time.Hour))
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}

		if run.State != RunStateCompleted || !run.EndedAt.Equal(ended) {
			t.Errorf("rejected transition mutated the run: %+v", run)
		}
	})
}

func TestRunStatePredicates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, state := range ValidRunStates() {
		if !state.IsValid() {
			t.Errorf("%s must be valid", state)
		}
	}

	if RunState("PAUSED").IsValid() {
		t.Error("PAUSED must not be a valid state")
	}

	terminals := map[RunState]bool{
		RunStateNew:       false,
		RunStateRunning:   false,
		RunStateCompleted: true,
		RunStateFailed:    true,
		RunStateAborted:   true,
	}

	for state, want := range terminals {
		if state.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, state.IsTerminal(), want)
		}
	}
}
