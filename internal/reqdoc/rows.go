package reqdoc

import "github.com/leapstack-labs/specpipe/internal/spec"

// ColumnMappingRow is one row of a Column mapping table.
type ColumnMappingRow struct {
	Row          int    `mapstructure:"-"`
	TargetColumn string `mapstructure:"target_column"`
	Type         string `mapstructure:"type"`
	FromTable    string `mapstructure:"from_table"`
	FromColumn   string `mapstructure:"from_column"`
	Transform    string `mapstructure:"transform"`
	Nullable     string `mapstructure:"nullable"`
	Tests        string `mapstructure:"tests"`
	Description  string `mapstructure:"description"`
}

// JoinRow is one row of a Joins table.
type JoinRow struct {
	Row        int    `mapstructure:"-"`
	LeftTable  string `mapstructure:"left_table"`
	RightTable string `mapstructure:"right_table"`
	Type       string `mapstructure:"type"`
	Condition  string `mapstructure:"condition"`
}

// FilterRow is one row of a Filters table.
type FilterRow struct {
	Row       int    `mapstructure:"-"`
	AppliesTo string `mapstructure:"applies_to"`
	Predicate string `mapstructure:"predicate"`
	Rationale string `mapstructure:"rationale"`
}

// AggregationRow is one row of an Aggregations or Pivot table.
type AggregationRow struct {
	Row          int    `mapstructure:"-"`
	MetricColumn string `mapstructure:"metric_column"`
	Type         string `mapstructure:"type"`
	Formula      string `mapstructure:"formula"`
	Tests        string `mapstructure:"tests"`
	Description  string `mapstructure:"description"`
}

// GroupByRow is one row of a Group by table.
type GroupByRow struct {
	Row      int    `mapstructure:"-"`
	GroupKey string `mapstructure:"group_key"`
}

// ConstraintsRow holds the Output constraints of a model. Key lists are
// comma separated.
type ConstraintsRow struct {
	PrimaryKey  string `mapstructure:"primary_key"`
	PartitionBy string `mapstructure:"partition_by"`
	ClusterBy   string `mapstructure:"cluster_by"`
}

// ModelBlock is the typed content of one model section.
type ModelBlock struct {
	Name        string
	Schema      string // from the heading, may be empty
	Layer       spec.Layer
	Line        int
	Description string
	Sources     []string

	Columns      []ColumnMappingRow
	Joins        []JoinRow
	Filters      []FilterRow
	Aggregations []AggregationRow
	GroupBy      []GroupByRow
	Constraints  *ConstraintsRow
}

// Document is a parsed requirements document.
type Document struct {
	Config     Config
	Namespaces spec.Namespaces // effective namespaces, defaults applied
	Models     []ModelBlock
}

// tableSpec describes the headers of one table kind.
type tableSpec struct {
	kind     spec.TableKind
	required []string
	optional []string
}

var tableSpecs = map[spec.TableKind]tableSpec{
	spec.TableColumnMapping: {
		kind:     spec.TableColumnMapping,
		required: []string{"target_column", "type", "from_table", "from_column", "transform", "nullable", "tests", "description"},
	},
	spec.TableJoins: {
		kind:     spec.TableJoins,
		required: []string{"left_table", "right_table", "type", "condition"},
	},
	spec.TableFilters: {
		kind:     spec.TableFilters,
		required: []string{"applies_to", "predicate", "rationale"},
	},
	spec.TableAggregations: {
		kind:     spec.TableAggregations,
		required: []string{"metric_column", "type", "formula"},
		optional: []string{"tests", "description"},
	},
	spec.TableGroupBy: {
		kind:     spec.TableGroupBy,
		required: []string{"group_key"},
	},
	spec.TableConstraints: {
		kind:     spec.TableConstraints,
		required: []string{"primary_key"},
		optional: []string{"partition_by", "cluster_by"},
	},
}

// titles maps normalized section titles to table kinds.
var titles = map[string]spec.TableKind{
	"column_mapping":     spec.TableColumnMapping,
	"column_mappings":    spec.TableColumnMapping,
	"columns":            spec.TableColumnMapping,
	"joins":              spec.TableJoins,
	"join":               spec.TableJoins,
	"filters":            spec.TableFilters,
	"filter":             spec.TableFilters,
	"aggregations":       spec.TableAggregations,
	"aggregation":        spec.TableAggregations,
	"pivot":              spec.TableAggregations,
	"aggregations_pivot": spec.TableAggregations,
	"group_by":           spec.TableGroupBy,
	"output_constraints": spec.TableConstraints,
	"constraints":        spec.TableConstraints,
}
