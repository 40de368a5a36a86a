// Package codegen compiles models of a pipeline spec into SQL for a target
// platform.
//
// Each model becomes one unit: a chain of CTEs (source projections, the join,
// the transform step and the optional aggregation) followed by a final select,
// preceded by the platform's configuration block.
package codegen

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// Unit is one compiled model.
type Unit struct {
	Model     string
	Path      string
	SQL       string
	DependsOn []string
}

// Checksum is the xxh3 hash of the unit's SQL.
func (u *Unit) Checksum() string {
	return fmt.Sprintf("%016x", xxh3.HashString(u.SQL))
}

// Config configures a Generator.
type Config struct {
	Platform   *platform.Platform
	Namespaces spec.Namespaces
	Logger     *slog.Logger
}

// Generator compiles models for one platform.
type Generator struct {
	platform   *platform.Platform
	namespaces spec.Namespaces
	logger     *slog.Logger
}

// New creates a generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Platform == nil {
		return nil, platform.ErrPlatformRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{
		platform:   cfg.Platform,
		namespaces: cfg.Namespaces.WithDefaults(),
		logger:     logger,
	}, nil
}

// Platform returns the generator's target platform.
func (g *Generator) Platform() *platform.Platform {
	return g.platform
}

// Compile compiles one model. models maps every model name of the pipeline
// to its spec; sources found there are rendered as model references, all
// others as raw source tables.
func (g *Generator) Compile(m *spec.ModelSpec, models map[string]*spec.ModelSpec) (*Unit, error) {
	q, err := g.Query(m, func(source string) (string, error) {
		if up, ok := models[source]; ok && source != m.Name {
			return g.platform.RenderRef(platform.Relation{Schema: g.schemaFor(up), Name: source})
		}
		return g.platform.RenderSource(platform.Relation{Schema: g.namespaces.Raw, Name: source})
	})
	if err != nil {
		return nil, err
	}

	var deps []string
	for _, s := range m.Sources {
		if _, ok := models[s]; ok && s != m.Name {
			deps = append(deps, s)
		}
	}

	cfg, err := g.platform.RenderConfig(g.platformModel(m, deps))
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", m.Name, err)
	}

	var b strings.Builder
	if cfg != "" {
		b.WriteString(cfg)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "-- %s (%s)\n", m.Name, m.Layer)
	b.WriteString(q.String())
	b.WriteString("\n")

	g.logger.Debug("compiled model", "model", m.Name, "platform", g.platform.Name, "ctes", len(q.CTEs))
	return &Unit{
		Model:     m.Name,
		Path:      m.Name + g.platform.Extension,
		SQL:       b.String(),
		DependsOn: deps,
	}, nil
}

// Query compiles the model body with sources rendered by resolve.
func (g *Generator) Query(m *spec.ModelSpec, resolve Resolver) (*Query, error) {
	p, err := newPlan(m, g.platform.QuoteIdent)
	if err != nil {
		return nil, err
	}
	return p.build(resolve)
}

// CompileAll compiles models sequentially in the given order.
func (g *Generator) CompileAll(ps *spec.PipelineSpec, order []string) ([]*Unit, error) {
	models := Models(ps)
	units := make([]*Unit, 0, len(order))
	for _, name := range order {
		m, ok := models[name]
		if !ok {
			return nil, fmt.Errorf("unknown model %q", name)
		}
		u, err := g.Compile(m, models)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// Models indexes a pipeline's models by name.
func Models(ps *spec.PipelineSpec) map[string]*spec.ModelSpec {
	out := make(map[string]*spec.ModelSpec, len(ps.Models))
	for _, m := range ps.Models {
		out[m.Name] = m
	}
	return out
}

func (g *Generator) schemaFor(m *spec.ModelSpec) string {
	if m.Schema != "" {
		return m.Schema
	}
	return g.namespaces.For(m.Layer)
}

func (g *Generator) platformModel(m *spec.ModelSpec, deps []string) platform.Model {
	pm := platform.Model{
		Name:        m.Name,
		Schema:      g.schemaFor(m),
		Layer:       string(m.Layer),
		Description: m.Description,
		PrimaryKey:  m.Constraints.PrimaryKey,
		PartitionBy: m.Constraints.PartitionBy,
		ClusterBy:   m.Constraints.ClusterBy,
		DependsOn:   deps,
	}
	add := func(name string, tests []spec.TestRef) {
		for _, t := range tests {
			switch t.Name {
			case spec.TestUnique:
				pm.Tests.Unique = append(pm.Tests.Unique, name)
			case spec.TestNotNull:
				pm.Tests.NotNull = append(pm.Tests.NotNull, name)
			case spec.TestAcceptedValues:
				pm.Tests.AcceptedValues = append(pm.Tests.AcceptedValues, platform.AcceptedValues{Column: name, Values: t.Args})
			}
		}
	}
	if m.IsAggregated() {
		for _, k := range m.GroupBy {
			if c, ok := m.Column(k); ok {
				add(k, c.Tests)
			}
		}
	} else {
		for _, c := range m.Columns {
			add(c.TargetColumn, c.Tests)
		}
	}
	for _, a := range m.Aggregations {
		add(a.MetricColumn, a.Tests)
	}
	return pm
}

// Manifest lists compiled units in compilation order.
type Manifest struct {
	Platform string          `json:"platform"`
	Models   []ManifestEntry `json:"models"`
}

// ManifestEntry describes one compiled unit.
type ManifestEntry struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	Layer     string   `json:"layer"`
	Schema    string   `json:"schema"`
	DependsOn []string `json:"depends_on"`
	Checksum  string   `json:"checksum"`
}

// NewManifest builds the manifest for units compiled from ps.
func (g *Generator) NewManifest(ps *spec.PipelineSpec, units []*Unit) *Manifest {
	models := Models(ps)
	mf := &Manifest{Platform: g.platform.Name, Models: make([]ManifestEntry, 0, len(units))}
	for _, u := range units {
		entry := ManifestEntry{
			Name:      u.Model,
			File:      u.Path,
			DependsOn: u.DependsOn,
			Checksum:  u.Checksum(),
		}
		if entry.DependsOn == nil {
			entry.DependsOn = []string{}
		}
		if m, ok := models[u.Model]; ok {
			entry.Layer = string(m.Layer)
			entry.Schema = g.schemaFor(m)
		}
		mf.Models = append(mf.Models, entry)
	}
	return mf
}

// JSON encodes the manifest with a trailing newline.
func (mf *Manifest) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}
