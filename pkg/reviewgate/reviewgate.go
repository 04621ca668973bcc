// Package reviewgate computes which reviewer models a task must collect
// approvals from, and whether the approvals on file satisfy that
// requirement. It is a pure function of its inputs.
package reviewgate

import (
	"sort"

	"github.com/othala-run/othala/pkg/task"
)

// Policy selects how the required reviewer set is derived from availability.
type Policy string

const (
	// Strict requires every enabled reviewer model regardless of current
	// availability; if any enabled model is unavailable the task needs a
	// human.
	Strict Policy = "strict"
	// Adaptive shrinks the required set to whichever enabled models are
	// currently available, as long as enough remain to satisfy MinApprovals.
	Adaptive Policy = "adaptive"
)

// Config describes an org or repo's review policy.
type Config struct {
	EnabledModels []task.ModelKind
	Policy        Policy
	MinApprovals  int
}

// Availability reports, per model, whether a reviewer of that kind can be
// dispatched right now (e.g. not rate-limited, not circuit-broken).
type Availability map[task.ModelKind]bool

// Capacity is whether the current requirement can actually be satisfied.
type Capacity string

const (
	CapacitySufficient Capacity = "sufficient"
	CapacityNeedsHuman Capacity = "needs_human"
)

// Requirement is the computed set of reviewers a task must collect verdicts
// from before it can be approved.
type Requirement struct {
	Required          []task.ModelKind
	ApprovalsRequired int
	// Unanimous is true when every required reviewer must approve (the
	// required set and the approval threshold coincide), as opposed to a
	// quorum smaller than the full required set.
	Unanimous bool
	Capacity  Capacity
}

func sortedModels(set map[task.ModelKind]bool) []task.ModelKind {
	out := make([]task.ModelKind, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ComputeRequirement implements spec.md §4.6's compute_review_requirement.
func ComputeRequirement(cfg Config, availability Availability) Requirement {
	switch cfg.Policy {
	case Adaptive:
		available := make(map[task.ModelKind]bool)
		for _, m := range cfg.EnabledModels {
			if availability[m] {
				available[m] = true
			}
		}
		required := sortedModels(available)
		if len(required) < cfg.MinApprovals {
			return Requirement{Required: required, ApprovalsRequired: 0, Capacity: CapacityNeedsHuman}
		}
		return Requirement{
			Required:          required,
			ApprovalsRequired: cfg.MinApprovals,
			Unanimous:         cfg.MinApprovals == len(required),
			Capacity:          CapacitySufficient,
		}

	default: // Strict
		required := append([]task.ModelKind(nil), cfg.EnabledModels...)
		sort.Slice(required, func(i, j int) bool { return required[i] < required[j] })
		capacity := CapacitySufficient
		for _, m := range cfg.EnabledModels {
			if !availability[m] {
				capacity = CapacityNeedsHuman
				break
			}
		}
		return Requirement{
			Required:          required,
			ApprovalsRequired: cfg.MinApprovals,
			Unanimous:         cfg.MinApprovals == len(required),
			Capacity:          capacity,
		}
	}
}

// Evaluation is the outcome of checking approvals on file against a
// Requirement.
type Evaluation struct {
	ApprovalsReceived int
	Blocking          []task.Approval
	Approved          bool
	NeedsHuman        bool
}

// EvaluateGate implements spec.md §4.6's evaluate_review_gate: count
// approvals from required reviewers, collect any blocking RequestChanges
// verdict from a required reviewer, and decide whether the gate passes.
func EvaluateGate(requirement Requirement, approvals []task.Approval) Evaluation {
	required := make(map[task.ModelKind]bool, len(requirement.Required))
	for _, m := range requirement.Required {
		required[m] = true
	}

	// Latest verdict per required reviewer (a second approval replaces the
	// first, per task.Approval's upsert semantics).
	latest := make(map[task.ModelKind]task.Approval)
	for _, a := range approvals {
		if !required[a.Reviewer] {
			continue
		}
		if prev, ok := latest[a.Reviewer]; !ok || a.IssuedAt.After(prev.IssuedAt) {
			latest[a.Reviewer] = a
		}
	}

	eval := Evaluation{NeedsHuman: requirement.Capacity == CapacityNeedsHuman}
	for _, a := range latest {
		switch a.Verdict {
		case task.VerdictApprove:
			eval.ApprovalsReceived++
		case task.VerdictRequestChange:
			eval.Blocking = append(eval.Blocking, a)
		}
	}
	sort.Slice(eval.Blocking, func(i, j int) bool { return eval.Blocking[i].Reviewer < eval.Blocking[j].Reviewer })

	eval.Approved = !eval.NeedsHuman &&
		len(eval.Blocking) == 0 &&
		eval.ApprovalsReceived >= requirement.ApprovalsRequired

	return eval
}
