// Package statemachine implements the pure transition relation a Task's
// state may move along. It never touches persistence or time beyond
// stamping the timestamp callers give it onto the task.
package statemachine

import (
	"fmt"
	"time"

	"github.com/othala-run/othala/pkg/task"
)

// InvalidTransitionError reports an attempt to move a task along an edge
// absent from the transition table.
type InvalidTransitionError struct {
	From task.State
	To   task.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// edges is the allowed transition relation from spec.md §4.3. NEEDS_HUMAN's
// "any non-terminal state on operator action" rule is handled specially in
// Allowed rather than enumerated here.
var edges = map[task.State]map[task.State]bool{
	task.StateInitializing: {
		task.StateDraftPROpen: true,
		task.StateFailed:      true,
	},
	task.StateDraftPROpen: {
		task.StateRunning: true,
	},
	task.StateRunning: {
		task.StateRestacking:     true,
		task.StateVerifyingQuick: true,
		task.StateVerifyingFull:  true,
		task.StateNeedsHuman:     true,
		task.StateFailed:         true,
	},
	task.StateRestacking: {
		task.StateVerifyingQuick:  true,
		task.StateRestackConflict: true,
		task.StateFailed:          true,
	},
	task.StateRestackConflict: {
		task.StateRestacking:  true,
		task.StateNeedsHuman:  true,
		task.StateFailed:      true,
	},
	task.StateVerifyingQuick: {
		task.StateReviewing:      true,
		task.StateRunning:        true,
		task.StateVerifyingFull:  true,
		task.StateFailed:         true,
	},
	task.StateVerifyingFull: {
		task.StateAwaitingMerge: true,
		task.StateRunning:       true,
		task.StateReady:         true,
		task.StateFailed:        true,
	},
	task.StateReviewing: {
		task.StateReady:        true,
		task.StateNeedsHuman:   true,
		task.StateRunning:      true,
		task.StateVerifyingFull: true,
	},
	task.StateReady: {
		task.StateSubmitting:   true,
		task.StateVerifyingFull: true,
		task.StateNeedsHuman:   true,
	},
	task.StateSubmitting: {
		task.StateAwaitingMerge: true,
		task.StateFailed:        true,
		task.StateRestacking:    true,
	},
	task.StateAwaitingMerge: {
		task.StateMerged:    true,
		task.StateFailed:    true,
		task.StateNeedsHuman: true,
	},
}

// Allowed reports whether moving from `from` to `to` is a permitted edge.
func Allowed(from, to task.State) bool {
	if from == task.StateFailed || from == task.StateMerged {
		return false
	}
	if from == task.StateNeedsHuman {
		return !to.Terminal() && to != task.StateNeedsHuman
	}
	return edges[from][to]
}

// Transition describes a single applied state change.
type Transition struct {
	From task.State
	To   task.State
}

// Apply validates `to` against the transition table for t.State, and if
// permitted mutates t in place (State and UpdatedAt) and returns the
// Transition recorded. It never appends events — callers (pkg/service) own
// event emission.
func Apply(t *task.Task, to task.State, at time.Time) (Transition, error) {
	from := t.State
	if !Allowed(from, to) {
		return Transition{}, &InvalidTransitionError{From: from, To: to}
	}
	t.State = to
	t.UpdatedAt = at
	return Transition{From: from, To: to}, nil
}

// Tag returns the wire-format name for a state, used as the string stored in
// TaskStateChanged events.
func Tag(s task.State) string {
	return string(s)
}
