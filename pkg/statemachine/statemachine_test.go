package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othala-run/othala/pkg/task"
)

func mkTask(state task.State) *task.Task {
	return &task.Task{ID: "t1", RepoID: "repo", State: state}
}

func TestApply_AllowedEdge(t *testing.T) {
	tsk := mkTask(task.StateInitializing)
	now := time.Now().UTC()

	tr, err := Apply(tsk, task.StateDraftPROpen, now)
	require.NoError(t, err)
	assert.Equal(t, task.StateInitializing, tr.From)
	assert.Equal(t, task.StateDraftPROpen, tr.To)
	assert.Equal(t, task.StateDraftPROpen, tsk.State)
	assert.Equal(t, now, tsk.UpdatedAt)
}

func TestApply_RejectsInvalidEdge(t *testing.T) {
	tsk := mkTask(task.StateInitializing)
	_, err := Apply(tsk, task.StateMerged, time.Now())
	require.Error(t, err)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, task.StateInitializing, invalid.From)
	assert.Equal(t, task.StateMerged, invalid.To)
	// state must not have changed on rejection
	assert.Equal(t, task.StateInitializing, tsk.State)
}

func TestAllowed_TerminalStatesAreSinks(t *testing.T) {
	assert.False(t, Allowed(task.StateFailed, task.StateRunning))
	assert.False(t, Allowed(task.StateMerged, task.StateRunning))
}

func TestAllowed_NeedsHumanGoesAnywhereNonTerminal(t *testing.T) {
	assert.True(t, Allowed(task.StateNeedsHuman, task.StateRunning))
	assert.True(t, Allowed(task.StateNeedsHuman, task.StateReviewing))
	assert.False(t, Allowed(task.StateNeedsHuman, task.StateFailed))
	assert.False(t, Allowed(task.StateNeedsHuman, task.StateMerged))
	assert.False(t, Allowed(task.StateNeedsHuman, task.StateNeedsHuman))
}

func TestAllowed_FullTableSpotChecks(t *testing.T) {
	cases := []struct {
		from, to task.State
		want     bool
	}{
		{task.StateRunning, task.StateRestacking, true},
		{task.StateRestacking, task.StateVerifyingQuick, true},
		{task.StateRestacking, task.StateRestackConflict, true},
		{task.StateRestackConflict, task.StateRestacking, true},
		{task.StateVerifyingQuick, task.StateReviewing, true},
		{task.StateVerifyingQuick, task.StateVerifyingFull, true},
		{task.StateVerifyingFull, task.StateAwaitingMerge, true},
		{task.StateVerifyingFull, task.StateReady, true},
		{task.StateReviewing, task.StateReady, true},
		{task.StateReady, task.StateSubmitting, true},
		{task.StateSubmitting, task.StateRestacking, true},
		{task.StateAwaitingMerge, task.StateMerged, true},
		{task.StateDraftPROpen, task.StateReady, false},
		{task.StateReady, task.StateMerged, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, Allowed(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTag(t *testing.T) {
	assert.Equal(t, "RUNNING", Tag(task.StateRunning))
}
