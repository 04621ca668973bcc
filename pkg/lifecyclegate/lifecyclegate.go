// Package lifecyclegate decides when a task is ready to submit and whether
// it should be auto-submitted, composing the verify and review gates'
// outputs. Pure, no I/O.
package lifecyclegate

import (
	"github.com/othala-run/othala/pkg/reviewgate"
	"github.com/othala-run/othala/pkg/task"
)

// ReadyGateInput bundles the signals evaluate_ready_gate needs.
type ReadyGateInput struct {
	VerifyStatus      task.VerifyStatus
	ReviewEvaluation  reviewgate.Evaluation
	GraphiteHygieneOK bool
}

// ReadyGate is the outcome of evaluate_ready_gate: whether a task is ready
// to move to READY / be submitted.
type ReadyGate struct {
	Ready bool
}

// EvaluateReadyGate implements spec.md §4.7's evaluate_ready_gate.
func EvaluateReadyGate(in ReadyGateInput) ReadyGate {
	ready := in.VerifyStatus.Kind == task.VerifyStatusPassed &&
		in.ReviewEvaluation.Approved &&
		in.GraphiteHygieneOK
	return ReadyGate{Ready: ready}
}

// SubmitPolicy controls whether and how a ready task is auto-submitted.
type SubmitPolicy struct {
	AutoSubmit   bool
	OrgDefault   task.SubmitMode
	RepoOverride *task.SubmitMode
}

// AutoSubmitDecision is the outcome of decide_auto_submit.
type AutoSubmitDecision struct {
	ShouldSubmit bool
	Mode         *task.SubmitMode
}

// DecideAutoSubmit implements spec.md §4.7's decide_auto_submit: a ready
// task is submitted under policy.repo_override if set, else the org
// default, but only when the policy allows auto-submission at all.
func DecideAutoSubmit(policy SubmitPolicy, gate ReadyGate) AutoSubmitDecision {
	if !gate.Ready || !policy.AutoSubmit {
		return AutoSubmitDecision{ShouldSubmit: false, Mode: nil}
	}
	mode := policy.OrgDefault
	if policy.RepoOverride != nil {
		mode = *policy.RepoOverride
	}
	return AutoSubmitDecision{ShouldSubmit: true, Mode: &mode}
}
