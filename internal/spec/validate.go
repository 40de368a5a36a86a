package spec

import (
	"fmt"
	"slices"
)

// Validate checks every model invariant that does not need the dependency
// graph or expression analysis. The first violation is returned.
func (p *PipelineSpec) Validate() error {
	seen := make(map[string]bool, len(p.Models))
	for _, m := range p.Models {
		if m == nil {
			return fmt.Errorf("nil model in pipeline")
		}
		if seen[m.Name] {
			return &MalformedTableError{Model: m.Name, Table: TableColumnMapping, Message: "duplicate model name"}
		}
		seen[m.Name] = true
		if err := ValidateModel(m); err != nil {
			return err
		}
	}
	return nil
}

// ValidateModel checks the structural and cross-reference invariants of one
// model in a fixed order: sources, columns, joins, filters, grouping,
// aggregations, constraints.
func ValidateModel(m *ModelSpec) error {
	if m.Name == "" {
		return fmt.Errorf("model without a name")
	}
	if len(m.Sources) == 0 {
		return &MissingSourceError{Model: m.Name}
	}
	if !m.Layer.Valid() {
		return fmt.Errorf("model %q: invalid layer %q", m.Name, m.Layer)
	}
	for i, s := range m.Sources {
		if slices.Contains(m.Sources[:i], s) {
			return &MalformedTableError{Model: m.Name, Table: TableJoins, Message: fmt.Sprintf("source %q declared twice", s)}
		}
	}

	if err := validateColumns(m); err != nil {
		return err
	}
	if err := validateJoins(m); err != nil {
		return err
	}
	for i, f := range m.Filters {
		if !m.HasSource(f.AppliesTo) {
			return &UnknownSourceReferenceError{Model: m.Name, Table: f.AppliesTo, Context: "filter"}
		}
		if f.Predicate == "" {
			return &MalformedTableError{Model: m.Name, Table: TableFilters, Row: i + 1, Message: "empty predicate"}
		}
	}
	if err := validateAggregations(m); err != nil {
		return err
	}
	return validateConstraints(m)
}

func validateColumns(m *ModelSpec) error {
	targets := make(map[string]bool, len(m.Columns))
	for i := range m.Columns {
		c := &m.Columns[i]
		row := i + 1
		if c.TargetColumn == "" {
			return &MalformedTableError{Model: m.Name, Table: TableColumnMapping, Row: row, Message: "empty target_column"}
		}
		if targets[c.TargetColumn] {
			return &MalformedTableError{Model: m.Name, Table: TableColumnMapping, Row: row,
				Message: fmt.Sprintf("duplicate target_column %q", c.TargetColumn)}
		}
		targets[c.TargetColumn] = true
		if !c.Type.Valid() {
			return &UnknownTypeError{Model: m.Name, Column: c.TargetColumn, Type: string(c.Type)}
		}
		if c.FromTable != "" && !m.HasSource(c.FromTable) {
			return &UnknownSourceReferenceError{Model: m.Name, Column: c.TargetColumn, Table: c.FromTable, Context: "column mapping"}
		}
		for _, t := range c.Tests {
			if !t.Known() {
				return &MalformedTableError{Model: m.Name, Table: TableColumnMapping, Row: row,
					Message: fmt.Sprintf("unknown test %q on column %q", t.String(), c.TargetColumn)}
			}
		}
		if c.Nullable && c.HasTest(TestUnique) && !m.InPrimaryKey(c.TargetColumn) {
			return &ConflictingConstraintError{Model: m.Name, Column: c.TargetColumn, Message: "declared nullable and unique"}
		}
	}
	return nil
}

func validateJoins(m *ModelSpec) error {
	joined := make(map[string]bool, len(m.Sources))
	for i, j := range m.Joins {
		if !m.HasSource(j.LeftTable) {
			return &UnknownSourceReferenceError{Model: m.Name, Table: j.LeftTable, Context: "join"}
		}
		if !m.HasSource(j.RightTable) {
			return &UnknownSourceReferenceError{Model: m.Name, Table: j.RightTable, Context: "join"}
		}
		if !j.Kind.Valid() {
			return &MalformedTableError{Model: m.Name, Table: TableJoins, Row: i + 1, Message: fmt.Sprintf("unknown join type %q", j.Kind)}
		}
		if j.Condition == "" {
			return &MalformedTableError{Model: m.Name, Table: TableJoins, Row: i + 1, Message: "empty join condition"}
		}
		if i == 0 {
			joined[j.LeftTable] = true
		} else if !joined[j.LeftTable] {
			return &MalformedTableError{Model: m.Name, Table: TableJoins, Row: i + 1,
				Message: fmt.Sprintf("left table %q is not part of the join chain yet", j.LeftTable)}
		}
		if joined[j.RightTable] {
			return &MalformedTableError{Model: m.Name, Table: TableJoins, Row: i + 1,
				Message: fmt.Sprintf("table %q is already part of the join chain", j.RightTable)}
		}
		joined[j.RightTable] = true
	}
	if len(m.Sources) > 1 {
		for _, s := range m.Sources {
			if !joined[s] {
				return &MalformedTableError{Model: m.Name, Table: TableJoins, Message: fmt.Sprintf("source %q is not joined", s)}
			}
		}
	}
	return nil
}

func validateAggregations(m *ModelSpec) error {
	for i, key := range m.GroupBy {
		if _, ok := m.Column(key); !ok {
			return &MalformedTableError{Model: m.Name, Table: TableGroupBy, Row: i + 1,
				Message: fmt.Sprintf("group key %q is not a mapped column", key)}
		}
	}
	metrics := make(map[string]bool, len(m.Aggregations))
	for i, a := range m.Aggregations {
		row := i + 1
		if a.MetricColumn == "" || a.Formula == "" {
			return &MalformedTableError{Model: m.Name, Table: TableAggregations, Row: row, Message: "metric_column and formula are required"}
		}
		if metrics[a.MetricColumn] || slices.Contains(m.GroupBy, a.MetricColumn) {
			return &MalformedTableError{Model: m.Name, Table: TableAggregations, Row: row,
				Message: fmt.Sprintf("duplicate output column %q", a.MetricColumn)}
		}
		metrics[a.MetricColumn] = true
		if !a.Type.Valid() {
			return &UnknownTypeError{Model: m.Name, Column: a.MetricColumn, Type: string(a.Type)}
		}
		for _, t := range a.Tests {
			if !t.Known() {
				return &MalformedTableError{Model: m.Name, Table: TableAggregations, Row: row,
					Message: fmt.Sprintf("unknown test %q on metric %q", t.String(), a.MetricColumn)}
			}
		}
	}
	return nil
}

func validateConstraints(m *ModelSpec) error {
	outputs := m.OutputColumns()
	check := func(col, role string) error {
		if !slices.Contains(outputs, col) {
			return &ConflictingConstraintError{Model: m.Name, Column: col, Message: role + " column is not an output column"}
		}
		return nil
	}
	for i, k := range m.Constraints.PrimaryKey {
		if slices.Contains(m.Constraints.PrimaryKey[:i], k) {
			return &MalformedTableError{Model: m.Name, Table: TableConstraints, Message: fmt.Sprintf("primary key column %q listed twice", k)}
		}
		if err := check(k, "primary key"); err != nil {
			return err
		}
	}
	if p := m.Constraints.PartitionBy; p != "" {
		if err := check(p, "partition"); err != nil {
			return err
		}
	}
	for _, c := range m.Constraints.ClusterBy {
		if err := check(c, "cluster"); err != nil {
			return err
		}
	}
	return nil
}
