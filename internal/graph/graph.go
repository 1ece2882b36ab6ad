// Package graph provides the dependency graph behind task scheduling.
package graph

import (
	"errors"
	"slices"
	"sort"
	"sync"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph tracks "blocked by" relationships between task IDs.
//
// Edges may reference IDs that are not registered yet. Such forward
// references are kept on the reverse side so that a task registered later
// immediately sees the dependents that were waiting for it.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes is the set of registered task IDs.
	nodes map[string]struct{}
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string]map[string]struct{}
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// Hop is a single node reached by Walk.
type Hop struct {
	ID    string
	Depth int
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]struct{}),
		edges:      make(map[string][]string),
		dependents: make(map[string]map[string]struct{}),
		debugLog:   func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// AddTask registers a node and records an edge for every dependency.
// Duplicate dependency IDs are collapsed.
func (g *DependencyGraph) AddTask(id string, dependencies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.AddTask] id=%s depends_on=%v", id, dependencies)
	g.nodes[id] = struct{}{}
	if _, ok := g.edges[id]; !ok {
		g.edges[id] = nil
	}
	for _, depID := range dependencies {
		g.addEdgeLocked(depID, id)
	}
}

// AddEdge records that dependentID is blocked by dependencyID.
func (g *DependencyGraph) AddEdge(dependencyID, dependentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeLocked(dependencyID, dependentID)
}

func (g *DependencyGraph) addEdgeLocked(dependencyID, dependentID string) {
	if slices.Contains(g.edges[dependentID], dependencyID) {
		return
	}
	g.edges[dependentID] = append(g.edges[dependentID], dependencyID)
	set, ok := g.dependents[dependencyID]
	if !ok {
		set = make(map[string]struct{})
		g.dependents[dependencyID] = set
	}
	set[dependentID] = struct{}{}
}

// RemoveTask drops a node and its outgoing dependency edges.
// Edges from remaining tasks that still name id are preserved as forward
// references.
func (g *DependencyGraph) RemoveTask(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.RemoveTask] id=%s", id)
	for _, depID := range g.edges[id] {
		if set, ok := g.dependents[depID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.dependents, depID)
			}
		}
	}
	delete(g.edges, id)
	delete(g.nodes, id)
}

// Has reports whether id is a registered node.
func (g *DependencyGraph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Size returns the number of registered nodes.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.edges[taskID])
}

// GetDependents returns the IDs of tasks that depend on the given task, sorted.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[taskID])
}

// WouldCreateCycle reports whether registering taskID with the proposed
// dependencies would close a cycle.
func (g *DependencyGraph) WouldCreateCycle(taskID string, proposed []string) bool {
	_, found := g.FindCycle(taskID, proposed)
	return found
}

// FindCycle walks the existing dependency chains starting from every proposed
// dependency and returns the path back to taskID if one exists. The path
// starts and ends with taskID. Traversal stops at unregistered IDs, so
// forward references never contribute a cycle on their own.
func (g *DependencyGraph) FindCycle(taskID string, proposed []string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, start := range proposed {
		if start == taskID {
			return []string{taskID, taskID}, true
		}
	}

	// parent records how each node was first reached, to rebuild the path.
	parent := make(map[string]string)
	visited := make(map[string]bool)
	stack := make([]string, 0, len(proposed))

	for _, start := range proposed {
		if visited[start] {
			continue
		}
		visited[start] = true
		parent[start] = taskID
		stack = append(stack, start)

		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if _, known := g.nodes[id]; !known {
				continue
			}
			for _, depID := range g.edges[id] {
				if depID == taskID {
					parent[taskID] = id
					return g.cyclePath(parent, taskID), true
				}
				if !visited[depID] {
					visited[depID] = true
					parent[depID] = id
					stack = append(stack, depID)
				}
			}
		}
	}

	return nil, false
}

// cyclePath rebuilds taskID -> ... -> taskID from the parent links, in
// "depends on" direction.
func (g *DependencyGraph) cyclePath(parent map[string]string, taskID string) []string {
	path := []string{taskID}
	cur := parent[taskID]
	for i := 0; cur != taskID && i <= len(parent); i++ {
		path = append(path, cur)
		cur = parent[cur]
	}
	path = append(path, taskID)
	slices.Reverse(path)
	return path
}

// Walk performs a breadth-first walk along dependency edges starting at id.
// Each reachable ID is reported once, at its shortest depth, and IDs at the
// same depth are sorted. Hops deeper than maxDepth are not reported; a
// non-positive maxDepth returns only the start node.
func (g *DependencyGraph) Walk(id string, maxDepth int) []Hop {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hops := []Hop{{ID: id, Depth: 0}}
	seen := map[string]bool{id: true}
	frontier := []string{id}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, depID := range g.edges[cur] {
				if seen[depID] {
					continue
				}
				seen[depID] = true
				next = append(next, depID)
			}
		}
		sort.Strings(next)
		for _, n := range next {
			hops = append(hops, Hop{ID: n, Depth: depth})
		}
		frontier = next
	}

	return hops
}

// Descendants returns every task transitively reachable through dependent
// edges from id, in breadth-first order. id itself is not included.
func (g *DependencyGraph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range sortedKeys(g.dependents[cur]) {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
