package engine

import (
	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Plan describes the compilation order of a pipeline without generating
// anything.
type Plan struct {
	Order  []string    `json:"order"`
	Levels [][]string  `json:"levels"`
	Models []PlanModel `json:"models"`
	Roots  []string    `json:"roots"`
	Leaves []string    `json:"leaves"`
	Edges  int         `json:"edges"`
}

// PlanModel is one model of a plan.
type PlanModel struct {
	Name      string   `json:"name"`
	Layer     string   `json:"layer"`
	Schema    string   `json:"schema"`
	File      string   `json:"file"`
	DependsOn []string `json:"depends_on"`
	UsedBy    []string `json:"used_by"`
	Sources   []string `json:"sources"`
}

// Plan resolves the order and levels of ps. Models are listed in
// compilation order.
func (e *Engine) Plan(ps *spec.PipelineSpec) (*Plan, error) {
	g, err := builder.Graph(ps)
	if err != nil {
		return nil, err
	}
	order, err := builder.ResolveOrder(ps)
	if err != nil {
		return nil, err
	}
	levels, err := builder.Levels(ps)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Order:  order,
		Levels: levels,
		Models: make([]PlanModel, 0, len(order)),
		Roots:  g.GetRoots(),
		Leaves: g.GetLeaves(),
		Edges:  g.EdgeCount(),
	}
	for _, name := range order {
		m := ps.Model(name)
		p.Models = append(p.Models, PlanModel{
			Name:      m.Name,
			Layer:     string(m.Layer),
			Schema:    ps.SchemaFor(m),
			File:      m.Name + e.platform.Extension,
			DependsOn: g.GetParents(name),
			UsedBy:    g.GetChildren(name),
			Sources:   m.Sources,
		})
	}
	return p, nil
}
