// Package builder turns parsed requirement documents into a validated
// PipelineSpec.
package builder

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/codegen"
	"github.com/leapstack-labs/specpipe/internal/reqdoc"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Builder converts parsed documents into pipeline specs.
type Builder struct {
	logger *slog.Logger
}

// New creates a builder. A nil logger discards output.
func New(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{logger: logger}
}

// Build converts every model block of doc and checks the dependency graph.
// The first error aborts the build.
func (b *Builder) Build(doc *reqdoc.Document) (*spec.PipelineSpec, error) {
	ps := &spec.PipelineSpec{
		Namespaces: doc.Namespaces.WithDefaults(),
		Models:     make([]*spec.ModelSpec, 0, len(doc.Models)),
	}
	seen := make(map[string]bool, len(doc.Models))
	for i := range doc.Models {
		block := &doc.Models[i]
		if seen[block.Name] {
			return nil, &spec.MalformedTableError{Model: block.Name, Table: spec.TableColumnMapping,
				Message: fmt.Sprintf("model defined twice (line %d)", block.Line)}
		}
		seen[block.Name] = true

		m, err := BuildModel(block)
		if err != nil {
			return nil, err
		}
		b.logger.Debug("built model", "model", m.Name, "layer", m.Layer,
			"columns", len(m.Columns), "sources", len(m.Sources))
		ps.Models = append(ps.Models, m)
	}

	order, err := ResolveOrder(ps)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("resolved model order", "order", order)
	return ps, nil
}

// BuildModel converts one model block into a validated ModelSpec.
func BuildModel(block *reqdoc.ModelBlock) (*spec.ModelSpec, error) {
	m := &spec.ModelSpec{
		Name:        block.Name,
		Layer:       block.Layer,
		Schema:      block.Schema,
		Description: block.Description,
		Sources:     slices.Clone(block.Sources),
	}
	if len(m.Sources) == 0 {
		return nil, &spec.MissingSourceError{Model: m.Name}
	}

	// Constraints come first since nullability checks need the primary key.
	if c := block.Constraints; c != nil {
		m.Constraints = spec.Constraints{
			PrimaryKey:  splitKeys(c.PrimaryKey),
			PartitionBy: strings.TrimSpace(c.PartitionBy),
			ClusterBy:   splitKeys(c.ClusterBy),
		}
		if len(m.Constraints.PrimaryKey) == 0 {
			return nil, &spec.MalformedTableError{Model: m.Name, Table: spec.TableConstraints, Message: "empty primary_key"}
		}
	}

	for _, row := range block.Columns {
		col, err := buildColumn(m, row)
		if err != nil {
			return nil, err
		}
		m.Columns = append(m.Columns, col)
	}
	for _, row := range block.Joins {
		kind, ok := spec.ParseJoinKind(row.Type)
		if !ok {
			return nil, &spec.MalformedTableError{Model: m.Name, Table: spec.TableJoins, Row: row.Row,
				Message: fmt.Sprintf("unknown join type %q", row.Type)}
		}
		m.Joins = append(m.Joins, spec.Join{
			LeftTable:  row.LeftTable,
			RightTable: row.RightTable,
			Kind:       kind,
			Condition:  row.Condition,
		})
	}
	for _, row := range block.Filters {
		m.Filters = append(m.Filters, spec.Filter{
			AppliesTo: row.AppliesTo,
			Predicate: row.Predicate,
			Rationale: row.Rationale,
		})
	}
	for _, row := range block.GroupBy {
		if key := strings.TrimSpace(row.GroupKey); key != "" {
			m.GroupBy = append(m.GroupBy, key)
		}
	}
	for _, row := range block.Aggregations {
		agg, err := buildAggregation(m, row)
		if err != nil {
			return nil, err
		}
		m.Aggregations = append(m.Aggregations, agg)
	}

	if err := checkModel(m); err != nil {
		return nil, err
	}
	return m, nil
}

// checkModel runs the structural checks and then resolves every transform,
// join condition and filter predicate against the model's sources.
func checkModel(m *spec.ModelSpec) error {
	_, err := codegen.Resolve(m)
	return err
}

// Check validates a spec that did not come from a document, such as a
// persisted spec file, with the same checks Build applies.
func Check(ps *spec.PipelineSpec) error {
	if err := ps.Validate(); err != nil {
		return err
	}
	for _, m := range ps.Models {
		if err := checkModel(m); err != nil {
			return err
		}
	}
	_, err := ResolveOrder(ps)
	return err
}

func buildColumn(m *spec.ModelSpec, row reqdoc.ColumnMappingRow) (spec.ColumnMapping, error) {
	col := spec.ColumnMapping{
		TargetColumn: row.TargetColumn,
		FromTable:    row.FromTable,
		FromColumn:   row.FromColumn,
		Transform:    row.Transform,
		Description:  row.Description,
	}

	dt, ok := spec.NormalizeType(row.Type)
	if !ok {
		return col, &spec.UnknownTypeError{Model: m.Name, Column: row.TargetColumn, Type: row.Type}
	}
	col.Type = dt

	tests, err := spec.ParseTestRefs(row.Tests)
	if err != nil {
		return col, &spec.MalformedTableError{Model: m.Name, Table: spec.TableColumnMapping, Row: row.Row, Message: err.Error()}
	}
	for _, t := range tests {
		if !t.Known() {
			return col, &spec.MalformedTableError{Model: m.Name, Table: spec.TableColumnMapping, Row: row.Row,
				Message: fmt.Sprintf("unknown test %q on column %q", t.String(), row.TargetColumn)}
		}
	}
	col.Tests = tests

	nullable, explicit, err := parseNullable(row.Nullable)
	if err != nil {
		return col, &spec.MalformedTableError{Model: m.Name, Table: spec.TableColumnMapping, Row: row.Row, Message: err.Error()}
	}
	if explicit && nullable && col.HasTest(spec.TestUnique) && !m.InPrimaryKey(col.TargetColumn) {
		return col, &spec.ConflictingConstraintError{Model: m.Name, Column: col.TargetColumn, Message: "declared nullable and unique"}
	}
	if col.HasTest(spec.TestUnique) || col.HasTest(spec.TestNotNull) {
		nullable = false
	}
	col.Nullable = nullable
	return col, nil
}

func buildAggregation(m *spec.ModelSpec, row reqdoc.AggregationRow) (spec.Aggregation, error) {
	agg := spec.Aggregation{
		MetricColumn: row.MetricColumn,
		Formula:      row.Formula,
		Description:  row.Description,
	}
	dt, ok := spec.NormalizeType(row.Type)
	if !ok {
		return agg, &spec.UnknownTypeError{Model: m.Name, Column: row.MetricColumn, Type: row.Type}
	}
	agg.Type = dt
	tests, err := spec.ParseTestRefs(row.Tests)
	if err != nil {
		return agg, &spec.MalformedTableError{Model: m.Name, Table: spec.TableAggregations, Row: row.Row, Message: err.Error()}
	}
	agg.Tests = tests
	return agg, nil
}

// parseNullable reads a nullable cell. Blank means nullable.
func parseNullable(cell string) (nullable, explicit bool, err error) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "":
		return true, false, nil
	case "yes", "y", "true", "nullable", "null":
		return true, true, nil
	case "no", "n", "false", "not null", "required":
		return false, true, nil
	}
	return false, false, fmt.Errorf("invalid nullable value %q", cell)
}

func splitKeys(s string) []string {
	var out []string
	for _, part := range strings.Split(strings.ReplaceAll(s, "`", ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
