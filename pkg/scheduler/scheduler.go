// Package scheduler computes an admission plan for ready-to-run tasks under
// per-repo and per-model concurrency limits. It is a pure function of its
// inputs: it never mutates tasks and never observes wall-clock time.
package scheduler

import (
	"sort"

	"github.com/othala-run/othala/pkg/task"
)

// Limits bounds how many tasks may run concurrently.
type Limits struct {
	PerRepoLimit  int
	PerModelLimit map[task.ModelKind]int
}

// Candidate is one ready-to-run task considered for admission.
type Candidate struct {
	TaskID   string
	RepoID   string
	Model    task.ModelKind
	Priority int
}

// RunningCounts is the current in-flight load the scheduler must respect
// before admitting more work.
type RunningCounts struct {
	PerRepo  map[string]int
	PerModel map[task.ModelKind]int
}

// Input bundles everything a plan needs.
type Input struct {
	Candidates []Candidate
	Running    RunningCounts
}

// Decision is the admission decision for one tick.
type Decision struct {
	Admitted []string
	Deferred []string
}

// Scheduler holds a fixed set of concurrency limits and plans admission
// against them.
type Scheduler struct {
	limits Limits
}

// New constructs a Scheduler bound to a fixed set of concurrency limits.
func New(limits Limits) Scheduler {
	return Scheduler{limits: limits}
}

// Plan computes which candidate task ids may start this tick. Ordering is
// priority-first (stable descending), FIFO within a priority tier (stable
// sort preserves Candidates' input order among equal priorities). The
// scheduler never drops work — everything not admitted is deferred.
func (s Scheduler) Plan(input Input) Decision {
	candidates := append([]Candidate(nil), input.Candidates...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	repoUsed := make(map[string]int, len(input.Running.PerRepo))
	for k, v := range input.Running.PerRepo {
		repoUsed[k] = v
	}
	modelUsed := make(map[task.ModelKind]int, len(input.Running.PerModel))
	for k, v := range input.Running.PerModel {
		modelUsed[k] = v
	}

	var decision Decision
	for _, c := range candidates {
		repoLimit := s.limits.PerRepoLimit
		modelLimit := s.limits.PerModelLimit[c.Model]

		if repoLimit > 0 && repoUsed[c.RepoID] >= repoLimit {
			decision.Deferred = append(decision.Deferred, c.TaskID)
			continue
		}
		if modelLimit > 0 && modelUsed[c.Model] >= modelLimit {
			decision.Deferred = append(decision.Deferred, c.TaskID)
			continue
		}

		repoUsed[c.RepoID]++
		modelUsed[c.Model]++
		decision.Admitted = append(decision.Admitted, c.TaskID)
	}

	return decision
}
