package builder

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/specpipe/internal/dag"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Graph builds the model dependency graph. Nodes are inserted in document
// order and carry their *spec.ModelSpec; an edge A -> B means B reads A.
func Graph(ps *spec.PipelineSpec) (*dag.Graph, error) {
	g := dag.NewGraph()
	for _, m := range ps.Models {
		g.AddNode(m.Name, m)
	}
	for _, m := range ps.Models {
		for _, dep := range ps.DependsOn(m) {
			if err := g.AddEdge(dep, m.Name); err != nil {
				return nil, convertCycle(err)
			}
		}
	}
	return g, nil
}

// ResolveOrder returns model names with every dependency before its
// dependents. Unrelated models keep document order.
func ResolveOrder(ps *spec.PipelineSpec) ([]string, error) {
	g, err := Graph(ps)
	if err != nil {
		return nil, err
	}
	nodes, err := g.TopologicalSort()
	if err != nil {
		return nil, convertCycle(err)
	}
	order := make([]string, len(nodes))
	for i, n := range nodes {
		order[i] = n.ID
	}
	return order, nil
}

// Levels groups models so that each level only depends on earlier ones.
func Levels(ps *spec.PipelineSpec) ([][]string, error) {
	g, err := Graph(ps)
	if err != nil {
		return nil, err
	}
	levels, err := g.GetExecutionLevels()
	if err != nil {
		return nil, convertCycle(err)
	}
	return levels, nil
}

// Select narrows ps to the named models and everything they read from, so
// the result compiles on its own. With downstream set, models that depend on
// the selection are included too, along with their own dependencies.
func Select(ps *spec.PipelineSpec, names []string, downstream bool) (*spec.PipelineSpec, error) {
	g, err := Graph(ps)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if _, ok := g.GetNode(name); !ok {
			return nil, fmt.Errorf("unknown model %q", name)
		}
	}

	seeds := names
	if downstream {
		seeds = g.GetAffectedNodes(names)
	}
	keep := make([]string, 0, len(seeds))
	for _, name := range seeds {
		keep = append(keep, name)
		keep = append(keep, g.GetUpstreamNodes(name)...)
	}

	sub := g.Subgraph(keep)
	out := &spec.PipelineSpec{Namespaces: ps.Namespaces, Models: make([]*spec.ModelSpec, 0, sub.NodeCount())}
	for _, id := range sub.IDs() {
		out.Models = append(out.Models, ps.Model(id))
	}
	return out, nil
}

func convertCycle(err error) error {
	var ce *dag.CycleError
	if errors.As(err, &ce) {
		return &spec.CyclicDependencyError{Cycle: ce.Path}
	}
	return err
}
