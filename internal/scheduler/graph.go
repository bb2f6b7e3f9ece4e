// Package scheduler runs the background scheduling loop described in
// spec.md §4.5: parallel-batch selection, per-story circular-dependency
// detection, stale-task recovery, and completion propagation up the
// PRD/story/task hierarchy. Grounded on the teacher's
// internal/loop.Controller.RunLoop and internal/selector graph algorithms,
// generalized from a flat task list to per-story scoping.
package scheduler

import (
	"sort"

	"github.com/ralph-labs/orchestrator/internal/store"
)

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// graph is a dependency graph over one story's tasks. Dependencies that
// point outside the story are not represented as edges at all — spec.md
// §4.5.1 treats them as always-satisfied, so they can never participate in
// a cycle this analysis would catch.
type graph struct {
	nodes []int64
	edges map[int64][]int64
}

// buildGraph constructs a graph from tasks, keeping only depends_on edges
// that point at another task in the same slice.
func buildGraph(tasks []*store.Task) *graph {
	inSet := make(map[int64]bool, len(tasks))
	for _, t := range tasks {
		inSet[t.ID] = true
	}

	g := &graph{edges: make(map[int64][]int64, len(tasks))}
	for _, t := range tasks {
		g.nodes = append(g.nodes, t.ID)
		for _, dep := range t.DependsOn {
			if inSet[dep] {
				g.edges[t.ID] = append(g.edges[t.ID], dep)
			}
		}
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i] < g.nodes[j] })
	return g
}

// detectCycles returns the set of task ids that sit on any cycle. Per
// spec.md §4.5.1: DFS with WHITE/GRAY/BLACK coloring; visiting a GRAY
// successor means every task currently on the DFS stack is cyclic.
func (g *graph) detectCycles() map[int64]bool {
	color := make(map[int64]int, len(g.nodes))
	cyclic := make(map[int64]bool)
	var stack []int64

	var dfs func(id int64)
	dfs = func(id int64) {
		color[id] = colorGray
		stack = append(stack, id)

		for _, dep := range g.edges[id] {
			switch color[dep] {
			case colorGray:
				for _, s := range stack {
					cyclic[s] = true
				}
			case colorWhite:
				dfs(dep)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = colorBlack
	}

	for _, id := range g.nodes {
		if color[id] == colorWhite {
			dfs(id)
		}
	}
	return cyclic
}
