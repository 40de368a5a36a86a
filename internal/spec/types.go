// Package spec defines the normalized pipeline specification shared by the
// builder, the generators and the exporters.
//
// A PipelineSpec is built once per run, either by the builder from a parsed
// requirements document or by Unmarshal from a persisted file, and is treated
// as read-only afterwards.
package spec

import (
	"regexp"
	"strings"
)

// Layer is a model's position in the pipeline.
type Layer string

// Pipeline layers.
const (
	LayerRaw     Layer = "raw"
	LayerStaging Layer = "staging"
	LayerFinal   Layer = "final"
)

// ParseLayer parses a layer name case-insensitively.
func ParseLayer(s string) (Layer, bool) {
	switch Layer(strings.ToLower(strings.TrimSpace(s))) {
	case LayerRaw:
		return LayerRaw, true
	case LayerStaging:
		return LayerStaging, true
	case LayerFinal:
		return LayerFinal, true
	}
	return "", false
}

// Valid reports whether l is one of the known layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerRaw, LayerStaging, LayerFinal:
		return true
	}
	return false
}

// Namespaces holds the schema (dataset) used for each layer.
type Namespaces struct {
	Raw     string `json:"raw,omitempty" yaml:"raw,omitempty" koanf:"raw"`
	Staging string `json:"staging,omitempty" yaml:"staging,omitempty" koanf:"staging"`
	Final   string `json:"final,omitempty" yaml:"final,omitempty" koanf:"final"`
}

// DefaultNamespaces returns the namespaces used when a document sets none.
func DefaultNamespaces() Namespaces {
	return Namespaces{Raw: "raw", Staging: "temp", Final: "analytics"}
}

// WithDefaults fills blank namespaces from DefaultNamespaces.
func (n Namespaces) WithDefaults() Namespaces {
	def := DefaultNamespaces()
	if n.Raw == "" {
		n.Raw = def.Raw
	}
	if n.Staging == "" {
		n.Staging = def.Staging
	}
	if n.Final == "" {
		n.Final = def.Final
	}
	return n
}

// For returns the namespace of a layer.
func (n Namespaces) For(l Layer) string {
	n = n.WithDefaults()
	switch l {
	case LayerRaw:
		return n.Raw
	case LayerStaging:
		return n.Staging
	default:
		return n.Final
	}
}

// LayerOf maps a schema name back to a layer. Unknown schemas are final.
func (n Namespaces) LayerOf(schema string) Layer {
	n = n.WithDefaults()
	switch strings.TrimSpace(schema) {
	case n.Raw:
		return LayerRaw
	case n.Staging:
		return LayerStaging
	default:
		return LayerFinal
	}
}

// DataType is the canonical column type.
type DataType string

// Canonical data types.
const (
	TypeString    DataType = "STRING"
	TypeInt64     DataType = "INT64"
	TypeFloat64   DataType = "FLOAT64"
	TypeNumeric   DataType = "NUMERIC"
	TypeBool      DataType = "BOOL"
	TypeDate      DataType = "DATE"
	TypeDatetime  DataType = "DATETIME"
	TypeTimestamp DataType = "TIMESTAMP"
	TypeTime      DataType = "TIME"
	TypeBytes     DataType = "BYTES"
	TypeJSON      DataType = "JSON"
)

var typeAliases = map[string]DataType{
	"string": TypeString, "text": TypeString, "varchar": TypeString, "char": TypeString,
	"nvarchar": TypeString, "character varying": TypeString,
	"int": TypeInt64, "integer": TypeInt64, "bigint": TypeInt64, "smallint": TypeInt64,
	"tinyint": TypeInt64, "int64": TypeInt64, "long": TypeInt64,
	"float": TypeFloat64, "double": TypeFloat64, "double precision": TypeFloat64,
	"real": TypeFloat64, "float64": TypeFloat64,
	"numeric": TypeNumeric, "decimal": TypeNumeric, "bignumeric": TypeNumeric, "number": TypeNumeric,
	"bool": TypeBool, "boolean": TypeBool,
	"date":     TypeDate,
	"datetime": TypeDatetime,
	"timestamp": TypeTimestamp, "timestamptz": TypeTimestamp, "timestamp_tz": TypeTimestamp,
	"time":  TypeTime,
	"bytes": TypeBytes, "binary": TypeBytes, "bytea": TypeBytes, "blob": TypeBytes,
	"json": TypeJSON, "jsonb": TypeJSON,
}

var typeParams = regexp.MustCompile(`\s*\(.*\)\s*$`)

// NormalizeType maps a declared type token to the canonical enum.
// Parameters such as VARCHAR(255) or NUMERIC(10,2) are ignored.
func NormalizeType(token string) (DataType, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	t = typeParams.ReplaceAllString(t, "")
	t = strings.Join(strings.Fields(t), " ")
	dt, ok := typeAliases[t]
	return dt, ok
}

// Valid reports whether t is a canonical type.
func (t DataType) Valid() bool {
	dt, ok := typeAliases[strings.ToLower(string(t))]
	return ok && dt == t
}

// IsNumeric reports whether values of t are numbers.
func (t DataType) IsNumeric() bool {
	return t == TypeInt64 || t == TypeFloat64 || t == TypeNumeric
}

// IsTemporal reports whether values of t are dates or times.
func (t DataType) IsTemporal() bool {
	return t == TypeDate || t == TypeDatetime || t == TypeTimestamp || t == TypeTime
}

// JoinKind is the SQL join type.
type JoinKind string

// Join kinds.
const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
)

// ParseJoinKind parses a join type cell. Blank means LEFT.
func ParseJoinKind(s string) (JoinKind, bool) {
	k := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	k = strings.TrimSuffix(k, " JOIN")
	k = strings.TrimSuffix(k, " OUTER")
	switch JoinKind(k) {
	case "":
		return JoinLeft, true
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return JoinKind(k), true
	}
	return "", false
}

// Valid reports whether k is a canonical join kind.
func (k JoinKind) Valid() bool {
	switch k {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return true
	}
	return false
}

// ColumnMapping describes how one output column is computed.
type ColumnMapping struct {
	TargetColumn string    `json:"target_column" yaml:"target_column"`
	Type         DataType  `json:"type" yaml:"type"`
	FromTable    string    `json:"from_table,omitempty" yaml:"from_table,omitempty"`
	FromColumn   string    `json:"from_column,omitempty" yaml:"from_column,omitempty"`
	Transform    string    `json:"transform,omitempty" yaml:"transform,omitempty"`
	Nullable     bool      `json:"nullable" yaml:"nullable"`
	Tests        []TestRef `json:"tests,omitempty" yaml:"tests,omitempty"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasTest reports whether the column declares the named test.
func (c *ColumnMapping) HasTest(name string) bool {
	return hasTest(c.Tests, name)
}

// Join links two declared sources.
type Join struct {
	LeftTable  string   `json:"left_table" yaml:"left_table"`
	RightTable string   `json:"right_table" yaml:"right_table"`
	Kind       JoinKind `json:"type" yaml:"type"`
	Condition  string   `json:"condition" yaml:"condition"`
}

// Filter restricts the rows read from one source.
type Filter struct {
	AppliesTo string `json:"applies_to" yaml:"applies_to"`
	Predicate string `json:"predicate" yaml:"predicate"`
	Rationale string `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Aggregation is a metric computed over the model's group keys.
type Aggregation struct {
	MetricColumn string    `json:"metric_column" yaml:"metric_column"`
	Type         DataType  `json:"type" yaml:"type"`
	Formula      string    `json:"formula" yaml:"formula"`
	Tests        []TestRef `json:"tests,omitempty" yaml:"tests,omitempty"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasTest reports whether the metric declares the named test.
func (a *Aggregation) HasTest(name string) bool {
	return hasTest(a.Tests, name)
}

// Constraints are output-level properties of a model.
type Constraints struct {
	PrimaryKey  []string `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	PartitionBy string   `json:"partition_by,omitempty" yaml:"partition_by,omitempty"`
	ClusterBy   []string `json:"cluster_by,omitempty" yaml:"cluster_by,omitempty"`
}

// ModelSpec is one model of the pipeline.
type ModelSpec struct {
	Name         string          `json:"name" yaml:"name"`
	Layer        Layer           `json:"layer" yaml:"layer"`
	Schema       string          `json:"schema,omitempty" yaml:"schema,omitempty"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Sources      []string        `json:"sources" yaml:"sources"`
	Columns      []ColumnMapping `json:"column_mapping,omitempty" yaml:"column_mapping,omitempty"`
	Joins        []Join          `json:"joins,omitempty" yaml:"joins,omitempty"`
	Filters      []Filter        `json:"filters,omitempty" yaml:"filters,omitempty"`
	Aggregations []Aggregation   `json:"aggregations,omitempty" yaml:"aggregations,omitempty"`
	GroupBy      []string        `json:"group_by,omitempty" yaml:"group_by,omitempty"`
	Constraints  Constraints     `json:"constraints" yaml:"constraints,omitempty"`
}

// HasSource reports whether name is one of the model's declared sources.
func (m *ModelSpec) HasSource(name string) bool {
	for _, s := range m.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// Column returns the mapping producing the named target column.
func (m *ModelSpec) Column(name string) (*ColumnMapping, bool) {
	for i := range m.Columns {
		if m.Columns[i].TargetColumn == name {
			return &m.Columns[i], true
		}
	}
	return nil, false
}

// Aggregation returns the aggregation producing the named metric.
func (m *ModelSpec) Aggregation(name string) (*Aggregation, bool) {
	for i := range m.Aggregations {
		if m.Aggregations[i].MetricColumn == name {
			return &m.Aggregations[i], true
		}
	}
	return nil, false
}

// IsAggregated reports whether the model groups its rows.
func (m *ModelSpec) IsAggregated() bool {
	return len(m.Aggregations) > 0 || len(m.GroupBy) > 0
}

// OutputColumns returns the model's output columns in emission order.
// Aggregated models expose their group keys followed by their metrics.
func (m *ModelSpec) OutputColumns() []string {
	var cols []string
	if m.IsAggregated() {
		cols = append(cols, m.GroupBy...)
		for _, a := range m.Aggregations {
			cols = append(cols, a.MetricColumn)
		}
		return cols
	}
	for _, c := range m.Columns {
		cols = append(cols, c.TargetColumn)
	}
	return cols
}

// OutputType returns the declared type of an output column.
func (m *ModelSpec) OutputType(name string) DataType {
	if a, ok := m.Aggregation(name); ok {
		return a.Type
	}
	if c, ok := m.Column(name); ok {
		return c.Type
	}
	return TypeString
}

// InPrimaryKey reports whether column is part of the primary key.
func (m *ModelSpec) InPrimaryKey(column string) bool {
	for _, k := range m.Constraints.PrimaryKey {
		if k == column {
			return true
		}
	}
	return false
}

// PipelineSpec is an ordered set of models plus namespace configuration.
type PipelineSpec struct {
	Namespaces Namespaces   `json:"namespaces" yaml:"namespaces"`
	Models     []*ModelSpec `json:"models" yaml:"models"`
}

// Model returns the named model or nil.
func (p *PipelineSpec) Model(name string) *ModelSpec {
	for _, m := range p.Models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Names returns model names in document order.
func (p *PipelineSpec) Names() []string {
	names := make([]string, len(p.Models))
	for i, m := range p.Models {
		names[i] = m.Name
	}
	return names
}

// NameSet returns the set of model names.
func (p *PipelineSpec) NameSet() map[string]bool {
	set := make(map[string]bool, len(p.Models))
	for _, m := range p.Models {
		set[m.Name] = true
	}
	return set
}

// DependsOn returns the sources of m that are models of this pipeline. A
// model listing itself is returned too, so the graph reports the cycle.
func (p *PipelineSpec) DependsOn(m *ModelSpec) []string {
	var deps []string
	for _, s := range m.Sources {
		if p.Model(s) != nil {
			deps = append(deps, s)
		}
	}
	return deps
}

// SchemaFor returns the namespace a model is materialized in.
func (p *PipelineSpec) SchemaFor(m *ModelSpec) string {
	if m.Schema != "" {
		return m.Schema
	}
	return p.Namespaces.For(m.Layer)
}
