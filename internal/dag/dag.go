// Package dag provides directed acyclic graph operations for model dependencies.
// Node order is insertion order; every traversal that has a choice breaks ties
// by it, so callers that insert in document order get document-ordered output.
package dag

import (
	"fmt"
	"slices"
)

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (model name)
	ID string
	// Data holds arbitrary node data
	Data any

	index int
}

// Graph represents a directed acyclic graph.
type Graph struct {
	nodes   map[string]*Node
	order   []string
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// CycleError is returned by ordering operations when the graph has a cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %v", e.Path)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Re-adding an existing id only replaces its data.
func (g *Graph) AddNode(id string, data any) {
	if node, exists := g.nodes[id]; exists {
		node.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data, index: len(g.order)}
	g.order = append(g.order, id)
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return &CycleError{Path: []string{parentID, parentID}}
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node in insertion order.
func (g *Graph) GetParents(id string) []string {
	return g.byIndex(g.parents[id])
}

// GetChildren returns the children (dependents) of a node in insertion order.
func (g *Graph) GetChildren(id string) []string {
	return g.byIndex(g.edges[id])
}

// IDs returns all node ids in insertion order.
func (g *Graph) IDs() []string {
	return slices.Clone(g.order)
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
// The path starts and ends with the same node.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, childID := range g.GetChildren(id) {
			if !visited[childID] {
				if dfs(childID) {
					return true
				}
			} else if onStack[childID] {
				start := slices.Index(stack, childID)
				cyclePath = append(slices.Clone(stack[start:]), childID)
				return true
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// TopologicalSort returns nodes with dependencies before dependents. Among
// nodes that are ready at the same time the earliest inserted one goes first.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, &CycleError{Path: cyclePath}
	}

	pending := make(map[string]int, len(g.nodes))
	for id, parents := range g.parents {
		pending[id] = len(parents)
	}

	result := make([]*Node, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))
	for len(result) < len(g.nodes) {
		// Pick the first ready node in insertion order.
		var next string
		for _, id := range g.order {
			if !done[id] && pending[id] == 0 {
				next = id
				break
			}
		}
		done[next] = true
		result = append(result, g.nodes[next])
		for _, childID := range g.edges[next] {
			pending[childID]--
		}
	}
	return result, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Nodes at level N only depend on nodes at levels below N.
// Level 0 contains nodes with no dependencies.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]int, len(sorted))
	maxLevel := -1
	for _, node := range sorted {
		level := 0
		for _, parentID := range g.parents[node.ID] {
			if l := assigned[parentID] + 1; l > level {
				level = l
			}
		}
		assigned[node.ID] = level
		maxLevel = max(maxLevel, level)
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range g.order {
		levels[assigned[id]] = append(levels[assigned[id]], id)
	}
	return levels, nil
}

// GetAffectedNodes returns the given nodes and all their downstream dependents.
func (g *Graph) GetAffectedNodes(changedIDs []string) []string {
	affected := make(map[string]bool)

	var markAffected func(id string)
	markAffected = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, childID := range g.edges[id] {
			markAffected(childID)
		}
	}

	for _, id := range changedIDs {
		if _, exists := g.nodes[id]; exists {
			markAffected(id)
		}
	}
	return g.filterOrder(affected)
}

// GetUpstreamNodes returns all transitive dependencies of the given node.
func (g *Graph) GetUpstreamNodes(id string) []string {
	upstream := make(map[string]bool)

	var markUpstream func(nodeID string)
	markUpstream = func(nodeID string) {
		for _, parentID := range g.parents[nodeID] {
			if !upstream[parentID] {
				upstream[parentID] = true
				markUpstream(parentID)
			}
		}
	}

	markUpstream(id)
	return g.filterOrder(upstream)
}

// GetRoots returns nodes with no parents (no dependencies).
func (g *Graph) GetRoots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeaves returns nodes with no children (no dependents).
func (g *Graph) GetLeaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Subgraph returns a new graph containing only the specified nodes and the
// edges between them. Insertion order of the original graph is kept.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	keep := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		keep[id] = true
	}

	subgraph := NewGraph()
	for _, id := range g.order {
		if keep[id] {
			subgraph.AddNode(id, g.nodes[id].Data)
		}
	}
	for _, id := range subgraph.order {
		for _, childID := range g.edges[id] {
			if keep[childID] {
				_ = subgraph.AddEdge(id, childID)
			}
		}
	}
	return subgraph
}

func (g *Graph) byIndex(ids []string) []string {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int {
		return g.nodes[a].index - g.nodes[b].index
	})
	return out
}

func (g *Graph) filterOrder(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for _, id := range g.order {
		if set[id] {
			result = append(result, id)
		}
	}
	return result
}
