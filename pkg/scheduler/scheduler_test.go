package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/othala-run/othala/pkg/task"
)

func limits() Limits {
	return Limits{
		PerRepoLimit: 10,
		PerModelLimit: map[task.ModelKind]int{
			task.ModelClaude: 10,
			task.ModelCodex:  10,
			task.ModelGemini: 10,
		},
	}
}

func TestPlan_AdmitsUnderLimits(t *testing.T) {
	s := New(limits())
	d := s.Plan(Input{
		Candidates: []Candidate{
			{TaskID: "a", RepoID: "r1", Model: task.ModelClaude},
			{TaskID: "b", RepoID: "r1", Model: task.ModelCodex},
		},
	})
	assert.Equal(t, []string{"a", "b"}, d.Admitted)
	assert.Empty(t, d.Deferred)
}

func TestPlan_PerRepoLimitDefers(t *testing.T) {
	s := New(Limits{PerRepoLimit: 1, PerModelLimit: map[task.ModelKind]int{task.ModelClaude: 10}})
	d := s.Plan(Input{
		Candidates: []Candidate{
			{TaskID: "a", RepoID: "r1", Model: task.ModelClaude},
			{TaskID: "b", RepoID: "r1", Model: task.ModelClaude},
		},
	})
	assert.Equal(t, []string{"a"}, d.Admitted)
	assert.Equal(t, []string{"b"}, d.Deferred)
}

func TestPlan_PerModelLimitDefers(t *testing.T) {
	s := New(Limits{PerRepoLimit: 10, PerModelLimit: map[task.ModelKind]int{task.ModelClaude: 1}})
	d := s.Plan(Input{
		Candidates: []Candidate{
			{TaskID: "a", RepoID: "r1", Model: task.ModelClaude},
			{TaskID: "b", RepoID: "r2", Model: task.ModelClaude},
		},
	})
	assert.Equal(t, []string{"a"}, d.Admitted)
	assert.Equal(t, []string{"b"}, d.Deferred)
}

func TestPlan_PriorityFirstThenFIFO(t *testing.T) {
	s := New(Limits{PerRepoLimit: 1, PerModelLimit: map[task.ModelKind]int{task.ModelClaude: 10}})
	d := s.Plan(Input{
		Candidates: []Candidate{
			{TaskID: "low-first", RepoID: "r1", Model: task.ModelClaude, Priority: 0},
			{TaskID: "high", RepoID: "r1", Model: task.ModelClaude, Priority: 5},
			{TaskID: "low-second", RepoID: "r1", Model: task.ModelClaude, Priority: 0},
		},
	})
	// only one slot in r1, priority 5 wins regardless of input order
	assert.Equal(t, []string{"high"}, d.Admitted)
	assert.Equal(t, []string{"low-first", "low-second"}, d.Deferred)
}

func TestPlan_RunningCountsConsumeCapacityUpfront(t *testing.T) {
	s := New(Limits{PerRepoLimit: 1, PerModelLimit: map[task.ModelKind]int{task.ModelClaude: 10}})
	d := s.Plan(Input{
		Candidates: []Candidate{{TaskID: "a", RepoID: "r1", Model: task.ModelClaude}},
		Running:    RunningCounts{PerRepo: map[string]int{"r1": 1}},
	})
	assert.Empty(t, d.Admitted)
	assert.Equal(t, []string{"a"}, d.Deferred)
}

func TestPlan_ZeroLimitMeansUnbounded(t *testing.T) {
	s := New(Limits{})
	d := s.Plan(Input{
		Candidates: []Candidate{
			{TaskID: "a", RepoID: "r1", Model: task.ModelClaude},
			{TaskID: "b", RepoID: "r1", Model: task.ModelClaude},
		},
	})
	assert.Equal(t, []string{"a", "b"}, d.Admitted)
	assert.Empty(t, d.Deferred)
}
