// Package depgraph computes the effective task dependency graph — the union
// of explicit task.DependsOn declarations and caller-supplied inferred
// edges (e.g. from branch-stack analysis) — and walks it for descendants.
package depgraph

import (
	"sort"

	"github.com/othala-run/othala/pkg/task"
)

// InferredDependency is a caller-supplied parent->child edge not present in
// a task's explicit DependsOn list (e.g. derived from the stack tool's own
// branch tracking).
type InferredDependency struct {
	Parent string
	Child  string
}

// Graph is the effective edge set: parent -> set of children.
type Graph struct {
	children map[string]map[string]bool
}

// Build unions explicit depends_on edges (child depends on parent, so the
// edge runs parent->child) with the supplied inferred edges.
func Build(tasks []task.Task, inferred []InferredDependency) *Graph {
	g := &Graph{children: make(map[string]map[string]bool)}
	addEdge := func(parent, child string) {
		if g.children[parent] == nil {
			g.children[parent] = make(map[string]bool)
		}
		g.children[parent][child] = true
	}
	for _, t := range tasks {
		for _, parent := range t.DependsOn {
			addEdge(parent, t.ID)
		}
	}
	for _, e := range inferred {
		addEdge(e.Parent, e.Child)
	}
	return g
}

// Descendants returns every task reachable from parentID by following
// child edges, in deterministic order: topological-ish BFS with a stable
// tie-break by task id. Cycles are broken by first-seen traversal — a node
// already visited is never re-queued, so a cycle never causes non-termination
// or failure.
func (g *Graph) Descendants(parentID string) []string {
	visited := map[string]bool{parentID: true}
	queue := []string{parentID}
	var out []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children := make([]string, 0, len(g.children[current]))
		for child := range g.children[current] {
			children = append(children, child)
		}
		sort.Strings(children)

		for _, child := range children {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// RestackDescendantsForParentHeadUpdate is the named operation from
// spec.md §4.4: the set of tasks that must be re-restacked when parentID's
// branch head moves.
func RestackDescendantsForParentHeadUpdate(g *Graph, parentID string) []string {
	return g.Descendants(parentID)
}

// ParentHeadUpdateTrigger inspects an event kind and, if it represents a
// parent branch head moving (a successful restack or submit completing for
// that task), returns the task id whose descendants must restack.
func ParentHeadUpdateTrigger(taskID string, kind task.EventKindTag) (string, bool) {
	switch kind {
	case task.EventRestackCompleted, task.EventSubmitCompleted:
		return taskID, true
	default:
		return "", false
	}
}
