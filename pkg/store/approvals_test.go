package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othala-run/othala/pkg/task"
)

func TestUpsertApproval_SecondVerdictReplacesFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertTask(ctx, mkTask("t1")))

	a := task.Approval{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictRequestChange, IssuedAt: time.Now().UTC()}
	require.NoError(t, st.UpsertApproval(ctx, a))

	a.Verdict = task.VerdictApprove
	a.IssuedAt = a.IssuedAt.Add(time.Minute)
	require.NoError(t, st.UpsertApproval(ctx, a))

	approvals, err := st.ListApprovalsForTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, task.VerdictApprove, approvals[0].Verdict)
}

func TestListApprovalsForTask_MultipleReviewers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertTask(ctx, mkTask("t1")))

	require.NoError(t, st.UpsertApproval(ctx, task.Approval{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictApprove, IssuedAt: time.Now().UTC()}))
	require.NoError(t, st.UpsertApproval(ctx, task.Approval{TaskID: "t1", Reviewer: task.ModelCodex, Verdict: task.VerdictComment, IssuedAt: time.Now().UTC()}))

	approvals, err := st.ListApprovalsForTask(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, approvals, 2)
}
