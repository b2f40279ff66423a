package task

import "fmt"

// isAllowedTransition is the allow-list for the four-state task machine,
// grounded on internal/dag/state_machine.go's isAllowedTransition (the same
// shape, generalized to this spec's states): any non-Syncing state may
// start a run, and a run ends in Success, Failed, or — if the task was
// disabled mid-run — back in Paused (spec.md §4.D step 9).
func isAllowedTransition(from, to State) bool {
	switch from {
	case Paused, Success, Failed:
		return to == Syncing
	case Syncing:
		return to == Success || to == Failed || to == Paused
	default:
		return false
	}
}

// Transition performs a validated state change. Caller must hold t's lock.
// Invariant 3 (spec.md §3): "A task may transition to Syncing only if it
// was not Syncing, while the global lock is held" is enforced by the
// allow-list above together with the caller's lock discipline.
func Transition(t *Task, from, to State) error {
	if t.State != from {
		return fmt.Errorf("task %q: invalid transition, expected state %s, got %s", t.Name, from, t.State)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("task %q: disallowed transition %s -> %s", t.Name, from, to)
	}
	t.State = to
	return nil
}
