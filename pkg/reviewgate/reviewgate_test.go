package reviewgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/othala-run/othala/pkg/task"
)

func TestComputeRequirement_StrictAllAvailable(t *testing.T) {
	cfg := Config{EnabledModels: []task.ModelKind{task.ModelClaude, task.ModelCodex}, Policy: Strict, MinApprovals: 2}
	req := ComputeRequirement(cfg, Availability{task.ModelClaude: true, task.ModelCodex: true})
	assert.Equal(t, []task.ModelKind{task.ModelClaude, task.ModelCodex}, req.Required)
	assert.Equal(t, 2, req.ApprovalsRequired)
	assert.Equal(t, CapacitySufficient, req.Capacity)
}

func TestComputeRequirement_StrictOneUnavailableNeedsHuman(t *testing.T) {
	cfg := Config{EnabledModels: []task.ModelKind{task.ModelClaude, task.ModelCodex}, Policy: Strict, MinApprovals: 2}
	req := ComputeRequirement(cfg, Availability{task.ModelClaude: true, task.ModelCodex: false})
	assert.Equal(t, CapacityNeedsHuman, req.Capacity)
}

func TestComputeRequirement_AdaptiveShrinksToAvailable(t *testing.T) {
	cfg := Config{EnabledModels: []task.ModelKind{task.ModelClaude, task.ModelCodex, task.ModelGemini}, Policy: Adaptive, MinApprovals: 1}
	req := ComputeRequirement(cfg, Availability{task.ModelClaude: true, task.ModelCodex: false, task.ModelGemini: true})
	assert.Equal(t, []task.ModelKind{task.ModelClaude, task.ModelGemini}, req.Required)
	assert.Equal(t, CapacitySufficient, req.Capacity)
}

func TestComputeRequirement_AdaptiveInsufficientNeedsHuman(t *testing.T) {
	cfg := Config{EnabledModels: []task.ModelKind{task.ModelClaude, task.ModelCodex}, Policy: Adaptive, MinApprovals: 2}
	req := ComputeRequirement(cfg, Availability{task.ModelClaude: true, task.ModelCodex: false})
	assert.Equal(t, CapacityNeedsHuman, req.Capacity)
	assert.Equal(t, 0, req.ApprovalsRequired)
}

func TestEvaluateGate_ApprovedWhenEnoughApprovalsNoBlocking(t *testing.T) {
	req := Requirement{Required: []task.ModelKind{task.ModelClaude, task.ModelCodex}, ApprovalsRequired: 2, Capacity: CapacitySufficient}
	approvals := []task.Approval{
		{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictApprove, IssuedAt: time.Now()},
		{TaskID: "t1", Reviewer: task.ModelCodex, Verdict: task.VerdictApprove, IssuedAt: time.Now()},
	}
	eval := EvaluateGate(req, approvals)
	assert.True(t, eval.Approved)
	assert.Equal(t, 2, eval.ApprovalsReceived)
	assert.Empty(t, eval.Blocking)
}

func TestEvaluateGate_BlockingRequestChangesWins(t *testing.T) {
	req := Requirement{Required: []task.ModelKind{task.ModelClaude, task.ModelCodex}, ApprovalsRequired: 1, Capacity: CapacitySufficient}
	approvals := []task.Approval{
		{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictApprove, IssuedAt: time.Now()},
		{TaskID: "t1", Reviewer: task.ModelCodex, Verdict: task.VerdictRequestChange, IssuedAt: time.Now()},
	}
	eval := EvaluateGate(req, approvals)
	assert.False(t, eval.Approved)
	assert.Len(t, eval.Blocking, 1)
}

func TestEvaluateGate_SecondVerdictReplacesFirst(t *testing.T) {
	req := Requirement{Required: []task.ModelKind{task.ModelClaude}, ApprovalsRequired: 1, Capacity: CapacitySufficient}
	base := time.Now()
	approvals := []task.Approval{
		{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictRequestChange, IssuedAt: base},
		{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictApprove, IssuedAt: base.Add(time.Minute)},
	}
	eval := EvaluateGate(req, approvals)
	assert.True(t, eval.Approved)
	assert.Empty(t, eval.Blocking)
}

func TestEvaluateGate_IgnoresNonRequiredReviewers(t *testing.T) {
	req := Requirement{Required: []task.ModelKind{task.ModelClaude}, ApprovalsRequired: 1, Capacity: CapacitySufficient}
	approvals := []task.Approval{
		{TaskID: "t1", Reviewer: task.ModelGemini, Verdict: task.VerdictRequestChange, IssuedAt: time.Now()},
		{TaskID: "t1", Reviewer: task.ModelClaude, Verdict: task.VerdictApprove, IssuedAt: time.Now()},
	}
	eval := EvaluateGate(req, approvals)
	assert.True(t, eval.Approved)
}

func TestEvaluateGate_NeedsHumanCapacityBlocksApproval(t *testing.T) {
	req := Requirement{Required: nil, ApprovalsRequired: 0, Capacity: CapacityNeedsHuman}
	eval := EvaluateGate(req, nil)
	assert.False(t, eval.Approved)
	assert.True(t, eval.NeedsHuman)
}
