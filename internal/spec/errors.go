package spec

import (
	"fmt"
	"strings"
)

// TableKind names a recognized requirements table.
type TableKind string

// Recognized table kinds.
const (
	TableColumnMapping TableKind = "column mapping"
	TableJoins         TableKind = "joins"
	TableFilters       TableKind = "filters"
	TableAggregations  TableKind = "aggregations"
	TableGroupBy       TableKind = "group by"
	TableConstraints   TableKind = "output constraints"
)

// MalformedTableError reports a table that cannot be read or whose rows
// contradict the model they belong to.
type MalformedTableError struct {
	Model   string
	Table   TableKind
	Row     int // 1-based data row, 0 for the header or the table as a whole
	Message string
}

func (e *MalformedTableError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("model %q: malformed %s table (row %d): %s", e.Model, e.Table, e.Row, e.Message)
	}
	return fmt.Sprintf("model %q: malformed %s table: %s", e.Model, e.Table, e.Message)
}

// MissingSourceError reports a model without any declared source.
type MissingSourceError struct {
	Model string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("model %q: no sources declared", e.Model)
}

// UnknownTypeError reports a declared type that has no canonical mapping.
type UnknownTypeError struct {
	Model  string
	Column string
	Type   string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("model %q: column %q has unknown type %q", e.Model, e.Column, e.Type)
}

// ConflictingConstraintError reports column properties that cannot hold together.
type ConflictingConstraintError struct {
	Model   string
	Column  string
	Message string
}

func (e *ConflictingConstraintError) Error() string {
	return fmt.Sprintf("model %q: column %q: %s", e.Model, e.Column, e.Message)
}

// CyclicDependencyError reports a dependency cycle between models.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency between models: " + strings.Join(e.Cycle, " -> ")
}

// UnknownSourceReferenceError reports a reference to a table the model does
// not declare as a source.
type UnknownSourceReferenceError struct {
	Model   string
	Column  string // target column, or empty for joins and filters
	Table   string
	Context string // column mapping, transform, join, filter
}

func (e *UnknownSourceReferenceError) Error() string {
	where := e.Context
	if e.Column != "" {
		where = fmt.Sprintf("%s for column %q", e.Context, e.Column)
	}
	return fmt.Sprintf("model %q: %s references undeclared source %q", e.Model, where, e.Table)
}

// TransformResolutionError reports a column whose value cannot be resolved
// to a source column.
type TransformResolutionError struct {
	Model   string
	Column  string
	Message string
}

func (e *TransformResolutionError) Error() string {
	return fmt.Sprintf("model %q: cannot resolve column %q: %s", e.Model, e.Column, e.Message)
}

// SchemaError reports a persisted spec that does not match the spec schema.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return "spec schema violation: " + e.Message
}
