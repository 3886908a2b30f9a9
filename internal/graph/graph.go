// Package graph provides the dependency graph coordination sessions run on.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kmorand/ensemble/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrEmptyGraph indicates a graph was built from zero tasks.
var ErrEmptyGraph = errors.New("task graph is empty")

// ErrDuplicateTask indicates two tasks share an ID.
var ErrDuplicateTask = errors.New("duplicate task id")

// ErrUnknownDependency indicates a task depends on an ID not in the graph.
var ErrUnknownDependency = errors.New("unknown dependency")

// TaskGraph is a directed acyclic graph of tasks. Edges point from a task to
// the tasks it depends on. The topology is fixed at construction and safe for
// concurrent reads; task status mutation is the engine's concern.
type TaskGraph struct {
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// order preserves submission order for deterministic scheduling.
	order []string
}

// Build constructs and validates a task graph. It rejects empty input,
// duplicate IDs, self-dependencies, references to unknown tasks, and cycles.
func Build(tasks []*models.Task) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyGraph
	}

	g := &TaskGraph{
		nodes:      make(map[string]*models.Task, len(tasks)),
		edges:      make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string),
		order:      make([]string, 0, len(tasks)),
	}

	// First pass: validate and register all tasks as nodes.
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.nodes[task.ID]; exists {
			return nil, fmt.Errorf("task %s: %w", task.ID, ErrDuplicateTask)
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
		g.order = append(g.order, task.ID)
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("task %s depends on %s: %w", task.ID, depID, ErrUnknownDependency)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// findCycle runs depth-first search with coloring to detect back edges.
// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
// Returns the task IDs along one cycle, or nil if the graph is acyclic.
func (g *TaskGraph) findCycle() []string {
	colors := make(map[string]int, len(g.nodes))

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: slice the stack from the repeated node.
				for i, s := range stack {
					if s == depID {
						cycle = append(append([]string(nil), stack[i:]...), depID)
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// Waves partitions the graph into execution waves using Kahn's algorithm.
// Wave k is the maximal set of tasks whose dependencies all sit in waves
// before k. Within a wave, tasks appear in submission order. Every task
// appears in exactly one wave.
func (g *TaskGraph) Waves() [][]string {
	indegree := make(map[string]int, len(g.nodes))
	for id, deps := range g.edges {
		indegree[id] = len(deps)
	}

	scheduled := make(map[string]bool, len(g.nodes))
	var waves [][]string

	for len(scheduled) < len(g.nodes) {
		var wave []string
		for _, id := range g.order {
			if !scheduled[id] && indegree[id] == 0 {
				wave = append(wave, id)
			}
		}
		// Build guarantees acyclicity, so progress is always possible.
		if len(wave) == 0 {
			break
		}
		for _, id := range wave {
			scheduled[id] = true
			for _, dep := range g.dependents[id] {
				indegree[dep]--
			}
		}
		waves = append(waves, wave)
	}

	return waves
}

// Flatten returns the full topological order: waves concatenated, submission
// order within each wave.
func (g *TaskGraph) Flatten() []string {
	var flat []string
	for _, wave := range g.Waves() {
		flat = append(flat, wave...)
	}
	return flat
}

// Task returns the task for a given ID, or nil if not found.
func (g *TaskGraph) Task(id string) *models.Task {
	return g.nodes[id]
}

// Tasks returns all tasks in submission order.
func (g *TaskGraph) Tasks() []*models.Task {
	tasks := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id])
	}
	return tasks
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	return len(g.nodes)
}

// Dependencies returns the IDs the given task depends on.
func (g *TaskGraph) Dependencies(id string) []string {
	return g.edges[id]
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (g *TaskGraph) Dependents(id string) []string {
	return g.dependents[id]
}

// TransitiveDependents returns every task downstream of the given one,
// in submission order.
func (g *TaskGraph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range g.dependents[cur] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	var out []string
	for _, tid := range g.order {
		if seen[tid] {
			out = append(out, tid)
		}
	}
	return out
}
