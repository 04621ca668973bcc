package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/othala-run/othala/pkg/task"
)

func mkTask(id string, dependsOn ...string) task.Task {
	return task.Task{ID: id, DependsOn: dependsOn}
}

func TestDescendants_ExplicitChain(t *testing.T) {
	tasks := []task.Task{
		mkTask("A"),
		mkTask("B", "A"),
		mkTask("C", "B"),
		mkTask("D", "A"),
	}
	g := Build(tasks, nil)
	assert.Equal(t, []string{"B", "D", "C"}, g.Descendants("A"))
}

func TestDescendants_InferredEdgesUnion(t *testing.T) {
	tasks := []task.Task{mkTask("A"), mkTask("B")}
	inferred := []InferredDependency{{Parent: "A", Child: "B"}}
	g := Build(tasks, inferred)
	assert.Equal(t, []string{"B"}, g.Descendants("A"))
}

func TestDescendants_CycleSafe(t *testing.T) {
	tasks := []task.Task{
		mkTask("A", "C"),
		mkTask("B", "A"),
		mkTask("C", "B"),
	}
	g := Build(tasks, nil)
	// A -> B -> C -> A: first-seen BFS must terminate and never revisit A.
	desc := g.Descendants("A")
	assert.ElementsMatch(t, []string{"B", "C"}, desc)
}

func TestDescendants_NoChildren(t *testing.T) {
	g := Build([]task.Task{mkTask("A")}, nil)
	assert.Empty(t, g.Descendants("A"))
}

func TestDescendants_DeterministicTieBreak(t *testing.T) {
	tasks := []task.Task{
		mkTask("A"),
		mkTask("Z", "A"),
		mkTask("B", "A"),
		mkTask("M", "A"),
	}
	g := Build(tasks, nil)
	assert.Equal(t, []string{"B", "M", "Z"}, g.Descendants("A"))
}

func TestParentHeadUpdateTrigger(t *testing.T) {
	id, ok := ParentHeadUpdateTrigger("A", task.EventRestackCompleted)
	assert.True(t, ok)
	assert.Equal(t, "A", id)

	_, ok = ParentHeadUpdateTrigger("A", task.EventVerifyCompleted)
	assert.False(t, ok)
}
