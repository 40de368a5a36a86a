package platform

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func init() {
	Register(Dataform)
	Register(DBT)
	Register(LeapSQL)
}

// Dataform emits SQLX files with a config block and ${ref()} references.
var Dataform = &Platform{
	Name:        "dataform",
	Description: "Dataform SQLX (BigQuery)",
	Extension:   ".sqlx",
	Quote:       "`",
	Ref: func(rel Relation) (string, error) {
		return fmt.Sprintf("${ref(%s)}", strconv.Quote(rel.Name)), nil
	},
	Source: func(rel Relation) (string, error) {
		if rel.Schema == "" {
			return fmt.Sprintf("${ref(%s)}", strconv.Quote(rel.Name)), nil
		}
		return fmt.Sprintf("${ref(%s, %s)}", strconv.Quote(rel.Schema), strconv.Quote(rel.Name)), nil
	},
	Config: dataformConfig,
}

func dataformConfig(m Model) (string, error) {
	var b strings.Builder
	b.WriteString("config {\n")
	b.WriteString("  type: \"table\",\n")
	fmt.Fprintf(&b, "  schema: %s", strconv.Quote(m.Schema))
	if m.Description != "" {
		fmt.Fprintf(&b, ",\n  description: %s", strconv.Quote(m.Description))
	}
	if m.PartitionBy != "" || len(m.ClusterBy) > 0 {
		var parts []string
		if m.PartitionBy != "" {
			parts = append(parts, "    partitionBy: "+strconv.Quote(m.PartitionBy))
		}
		if len(m.ClusterBy) > 0 {
			parts = append(parts, "    clusterBy: "+jsList(m.ClusterBy))
		}
		fmt.Fprintf(&b, ",\n  bigquery: {\n%s\n  }", strings.Join(parts, ",\n"))
	}

	var assertions []string
	if len(m.PrimaryKey) > 0 {
		assertions = append(assertions, "    uniqueKey: "+jsList(m.PrimaryKey))
	}
	if len(m.Tests.NotNull) > 0 {
		assertions = append(assertions, "    nonNull: "+jsList(m.Tests.NotNull))
	}
	if len(m.Tests.AcceptedValues) > 0 {
		conds := make([]string, len(m.Tests.AcceptedValues))
		for i, av := range m.Tests.AcceptedValues {
			conds[i] = acceptedCondition(av)
		}
		assertions = append(assertions, "    rowConditions: "+jsList(conds))
	}
	if len(assertions) > 0 {
		fmt.Fprintf(&b, ",\n  assertions: {\n%s\n  }", strings.Join(assertions, ",\n"))
	}
	b.WriteString("\n}")
	return b.String(), nil
}

func jsList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func acceptedCondition(av AcceptedValues) string {
	vals := make([]string, len(av.Values))
	for i, v := range av.Values {
		vals[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return fmt.Sprintf("%s IS NULL OR %s IN (%s)", av.Column, av.Column, strings.Join(vals, ", "))
}

// DBT emits dbt models with Jinja config, ref and source calls.
var DBT = &Platform{
	Name:        "dbt",
	Description: "dbt Core models",
	Extension:   ".sql",
	Quote:       `"`,
	Ref: func(rel Relation) (string, error) {
		return fmt.Sprintf("{{ ref(%s) }}", pyString(rel.Name)), nil
	},
	Source: func(rel Relation) (string, error) {
		schema := rel.Schema
		if schema == "" {
			schema = "raw"
		}
		return fmt.Sprintf("{{ source(%s, %s) }}", pyString(schema), pyString(rel.Name)), nil
	},
	Config: func(m Model) (string, error) {
		args := []string{"materialized='table'"}
		if m.Schema != "" {
			args = append(args, "schema="+pyString(m.Schema))
		}
		if m.PartitionBy != "" {
			args = append(args, fmt.Sprintf("partition_by={'field': %s}", pyString(m.PartitionBy)))
		}
		if len(m.ClusterBy) > 0 {
			items := make([]string, len(m.ClusterBy))
			for i, c := range m.ClusterBy {
				items[i] = pyString(c)
			}
			args = append(args, "cluster_by=["+strings.Join(items, ", ")+"]")
		}
		return "{{ config(" + strings.Join(args, ", ") + ") }}", nil
	},
}

func pyString(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}

// LeapSQL emits plain SQL with a YAML frontmatter comment and schema
// qualified references.
var LeapSQL = &Platform{
	Name:        "leapsql",
	Description: "LeapSQL models with YAML frontmatter",
	Extension:   ".sql",
	Quote:       `"`,
	Config:      leapsqlConfig,
}

type leapsqlFrontmatter struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description,omitempty"`
	Materialized string            `yaml:"materialized"`
	UniqueKey    string            `yaml:"unique_key,omitempty"`
	Schema       string            `yaml:"schema,omitempty"`
	Tags         []string          `yaml:"tags,omitempty"`
	Tests        []leapsqlTest     `yaml:"tests,omitempty"`
	Meta         map[string]string `yaml:"meta,omitempty"`
}

type leapsqlTest struct {
	Unique         []string            `yaml:"unique,omitempty"`
	NotNull        []string            `yaml:"not_null,omitempty"`
	AcceptedValues *leapsqlAcceptedSet `yaml:"accepted_values,omitempty"`
}

type leapsqlAcceptedSet struct {
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

func leapsqlConfig(m Model) (string, error) {
	fm := leapsqlFrontmatter{
		Name:         m.Name,
		Description:  m.Description,
		Materialized: "table",
		UniqueKey:    strings.Join(m.PrimaryKey, ", "),
		Schema:       m.Schema,
	}
	if m.Layer != "" {
		fm.Tags = []string{m.Layer}
	}
	if len(m.Tests.Unique) > 0 {
		fm.Tests = append(fm.Tests, leapsqlTest{Unique: m.Tests.Unique})
	}
	if len(m.Tests.NotNull) > 0 {
		fm.Tests = append(fm.Tests, leapsqlTest{NotNull: m.Tests.NotNull})
	}
	for _, av := range m.Tests.AcceptedValues {
		fm.Tests = append(fm.Tests, leapsqlTest{AcceptedValues: &leapsqlAcceptedSet{Column: av.Column, Values: av.Values}})
	}
	if m.PartitionBy != "" || len(m.ClusterBy) > 0 {
		fm.Meta = map[string]string{}
		if m.PartitionBy != "" {
			fm.Meta["partition_by"] = m.PartitionBy
		}
		if len(m.ClusterBy) > 0 {
			fm.Meta["cluster_by"] = strings.Join(m.ClusterBy, ", ")
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter for %s: %w", m.Name, err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return "/*---\n" + buf.String() + "---*/", nil
}
