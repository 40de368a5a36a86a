package export

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

// MarkdownOptions controls markdown rendering.
type MarkdownOptions struct {
	Title string
}

type frontmatter struct {
	Title  string            `yaml:"title,omitempty"`
	Schema frontmatterSchema `yaml:"schema"`
}

type frontmatterSchema struct {
	RawSchema     string `yaml:"raw_schema"`
	StagingSchema string `yaml:"staging_schema"`
	FinalSchema   string `yaml:"final_schema"`
}

// Markdown renders the whole spec as one requirements document in the table
// format the parser reads. Parsing and building the result yields an equal
// spec.
func Markdown(ps *spec.PipelineSpec, opts MarkdownOptions) ([]byte, error) {
	if _, err := validate(ps); err != nil {
		return nil, err
	}
	return render(ps, ps.Models, opts)
}

// ModelMarkdown renders a standalone mapping document for one model.
func ModelMarkdown(ps *spec.PipelineSpec, name string) ([]byte, error) {
	if _, err := validate(ps); err != nil {
		return nil, err
	}
	m := ps.Model(name)
	if m == nil {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return render(ps, []*spec.ModelSpec{m}, MarkdownOptions{Title: m.Name})
}

func render(ps *spec.PipelineSpec, models []*spec.ModelSpec, opts MarkdownOptions) ([]byte, error) {
	ns := ps.Namespaces.WithDefaults()
	fm, err := yaml.Marshal(frontmatter{
		Title: opts.Title,
		Schema: frontmatterSchema{
			RawSchema:     ns.Raw,
			StagingSchema: ns.Staging,
			FinalSchema:   ns.Final,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n")
	if opts.Title != "" {
		fmt.Fprintf(&b, "\n# %s\n", oneLine(opts.Title))
	}
	for _, m := range models {
		writeModel(&b, m)
	}
	return []byte(b.String()), nil
}

func writeModel(b *strings.Builder, m *spec.ModelSpec) {
	fmt.Fprintf(b, "\n## Model: %s (layer: %s)\n\n", m.Name, m.Layer)
	if d := oneLine(m.Description); d != "" {
		fmt.Fprintf(b, "%s\n\n", d)
	}
	if m.Schema != "" {
		fmt.Fprintf(b, "Schema: %s\n\n", m.Schema)
	}
	fmt.Fprintf(b, "Sources: %s\n", strings.Join(m.Sources, ", "))

	if len(m.Columns) > 0 {
		rows := make([][]string, len(m.Columns))
		for i, c := range m.Columns {
			rows[i] = []string{c.TargetColumn, string(c.Type), c.FromTable, c.FromColumn, c.Transform,
				yesNo(c.Nullable), spec.FormatTestRefs(c.Tests), c.Description}
		}
		writeTable(b, "Column mapping",
			[]string{"target_column", "type", "from_table", "from_column", "transform", "nullable", "tests", "description"}, rows)
	}
	if len(m.Joins) > 0 {
		rows := make([][]string, len(m.Joins))
		for i, j := range m.Joins {
			rows[i] = []string{j.LeftTable, j.RightTable, string(j.Kind), j.Condition}
		}
		writeTable(b, "Joins", []string{"left_table", "right_table", "type", "condition"}, rows)
	}
	if len(m.Filters) > 0 {
		rows := make([][]string, len(m.Filters))
		for i, f := range m.Filters {
			rows[i] = []string{f.AppliesTo, f.Predicate, f.Rationale}
		}
		writeTable(b, "Filters", []string{"applies_to", "predicate", "rationale"}, rows)
	}
	if len(m.GroupBy) > 0 {
		rows := make([][]string, len(m.GroupBy))
		for i, k := range m.GroupBy {
			rows[i] = []string{k}
		}
		writeTable(b, "Group by", []string{"group_key"}, rows)
	}
	if len(m.Aggregations) > 0 {
		rows := make([][]string, len(m.Aggregations))
		for i, a := range m.Aggregations {
			rows[i] = []string{a.MetricColumn, string(a.Type), a.Formula, spec.FormatTestRefs(a.Tests), a.Description}
		}
		writeTable(b, "Aggregations", []string{"metric_column", "type", "formula", "tests", "description"}, rows)
	}
	// The parser requires a primary key in a constraints table.
	if c := m.Constraints; len(c.PrimaryKey) > 0 {
		rows := [][]string{{"primary_key", strings.Join(c.PrimaryKey, ", ")}}
		if c.PartitionBy != "" {
			rows = append(rows, []string{"partition_by", c.PartitionBy})
		}
		if len(c.ClusterBy) > 0 {
			rows = append(rows, []string{"cluster_by", strings.Join(c.ClusterBy, ", ")})
		}
		writeTable(b, "Output constraints", []string{"constraint", "value"}, rows)
	}
}

func writeTable(b *strings.Builder, title string, header []string, rows [][]string) {
	fmt.Fprintf(b, "\n### %s\n\n", title)
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(header)) + "\n")
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = cell(c)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}

// cell escapes a value for a pipe table cell.
func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func oneLine(s string) string {
	return strings.TrimSpace(newlines.Replace(s))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
