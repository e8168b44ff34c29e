package dag

import (
	"fmt"
	"sort"

	"github.com/nexus-fleet/nexus/internal/config"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// Node represents a task vertex in the execution DAG. An edge a->b means
// b depends on a, so a must finish before b starts.
type Node struct {
	Name       string
	Task       *config.Task
	DependsOn  []*Node
	Dependents []*Node
}

// Graph encapsulates the DAG structure and its derived phase layering.
type Graph struct {
	Nodes  map[string]*Node
	Phases [][]string
}

// MissingDep records a task referencing a dependency that does not exist.
type MissingDep struct {
	Task    string
	Missing string
}

// ValidateDeps reports every (task, missing-dep) pair in the task set.
// An empty result means all dependency references resolve.
func ValidateDeps(tasks map[string]config.Task) []MissingDep {
	var missing []MissingDep
	for _, name := range sortedTaskNames(tasks) {
		task := tasks[name]
		for _, dep := range task.Deps {
			if _, ok := tasks[dep]; !ok {
				missing = append(missing, MissingDep{Task: name, Missing: dep})
			}
		}
	}
	return missing
}

// Build constructs the DAG for a task set. Unknown dependencies yield a
// ValidationError; cycles (self-edges included) yield a CycleError whose
// path witnesses the cycle as v0 -> ... -> v0.
func Build(tasks map[string]config.Task) (*Graph, error) {
	if missing := ValidateDeps(tasks); len(missing) > 0 {
		first := missing[0]
		return nil, nexuserrors.NewValidationError(
			fmt.Sprintf("tasks.%s.deps", first.Task),
			fmt.Sprintf("references unknown task %q", first.Missing), nil)
	}

	g := &Graph{Nodes: make(map[string]*Node, len(tasks))}
	for _, name := range sortedTaskNames(tasks) {
		task := tasks[name]
		g.Nodes[name] = &Node{Name: name, Task: &task}
	}

	for _, name := range sortedTaskNames(tasks) {
		node := g.Nodes[name]
		for _, dep := range node.Task.Deps {
			source := g.Nodes[dep]
			source.Dependents = append(source.Dependents, node)
			node.DependsOn = append(node.DependsOn, source)
		}
	}

	if path := g.findCycle(); len(path) > 0 {
		return nil, nexuserrors.NewCycleError(path)
	}

	g.Phases = g.computePhases()
	return g, nil
}

// TopologicalSort returns the vertex names in dependency order. Independent
// vertices are tie-broken ascending by name.
func (g *Graph) TopologicalSort() []string {
	order := make([]string, 0, len(g.Nodes))
	for _, phase := range g.Phases {
		order = append(order, phase...)
	}
	return order
}

// Dependencies returns the transitive predecessors of a vertex, sorted
// ascending by name.
func (g *Graph) Dependencies(name string) []string {
	node, ok := g.Nodes[name]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.DependsOn {
			if seen[dep.Name] {
				continue
			}
			seen[dep.Name] = true
			walk(dep)
		}
	}
	walk(node)

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// SubgraphFor returns the induced subgraph on the targets and all their
// transitive dependencies.
func (g *Graph) SubgraphFor(targets []string) (*Graph, error) {
	keep := make(map[string]bool, len(targets))
	for _, target := range targets {
		node, ok := g.Nodes[target]
		if !ok {
			return nil, nexuserrors.NewUnknownTasksError([]string{target})
		}
		keep[node.Name] = true
		for _, dep := range g.Dependencies(target) {
			keep[dep] = true
		}
	}

	tasks := make(map[string]config.Task, len(keep))
	for name := range keep {
		tasks[name] = *g.Nodes[name].Task
	}

	return Build(tasks)
}

// computePhases layers the graph with Kahn's algorithm. Phase 0 holds the
// vertices with in-degree 0; each later phase holds vertices whose
// predecessors all sit in earlier phases. Members are name-sorted.
func (g *Graph) computePhases() [][]string {
	indegree := make(map[string]int, len(g.Nodes))
	for name, node := range g.Nodes {
		indegree[name] = len(node.DependsOn)
	}

	var queue []string
	for name, degree := range indegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var phases [][]string
	for len(queue) > 0 {
		current := append([]string(nil), queue...)
		phases = append(phases, current)

		var next []string
		for _, name := range current {
			for _, dependent := range g.Nodes[name].Dependents {
				indegree[dependent.Name]--
				if indegree[dependent.Name] == 0 {
					next = append(next, dependent.Name)
				}
			}
		}

		sort.Strings(next)
		queue = next
	}

	return phases
}

// findCycle runs a DFS over the dependency edges and returns the first
// cycle found as v0 -> ... -> v0, or nil if the graph is acyclic. Vertices
// are visited in name order so the witness is deterministic.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	color := make(map[string]int, len(g.Nodes))
	var stack []string

	var visit func(n *Node) []string
	visit = func(n *Node) []string {
		color[n.Name] = grey
		stack = append(stack, n.Name)

		deps := append([]*Node(nil), n.Dependents...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

		for _, next := range deps {
			switch color[next.Name] {
			case grey:
				// Found a back edge; slice the stack from the repeat vertex.
				for i, name := range stack {
					if name == next.Name {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, next.Name)
					}
				}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[n.Name] = black
		return nil
	}

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white {
			stack = stack[:0]
			if cycle := visit(g.Nodes[name]); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

func sortedTaskNames(tasks map[string]config.Task) []string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
