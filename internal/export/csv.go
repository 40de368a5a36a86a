package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Table is one CSV sheet.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// CSV encodes the table with a header row.
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, fmt.Errorf("write %s header: %w", t.Name, err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("write %s rows: %w", t.Name, err)
	}
	return buf.Bytes(), nil
}

// Tables builds the review sheets: overview, columns, joins, tests and
// lineage.
func Tables(ps *spec.PipelineSpec) ([]*Table, error) {
	g, err := validate(ps)
	if err != nil {
		return nil, err
	}

	overview := &Table{Name: "overview", Header: []string{"model", "layer", "schema", "sources",
		"columns", "aggregations", "joins", "filters", "primary_key", "description"}}
	columns := &Table{Name: "columns", Header: []string{"model", "layer", "kind", "column", "type",
		"from_table", "from_column", "expression", "nullable", "tests", "description"}}
	joins := &Table{Name: "joins", Header: []string{"model", "layer", "left_table", "right_table", "type", "condition"}}
	tests := &Table{Name: "tests", Header: []string{"model", "layer", "column", "test"}}
	lineage := &Table{Name: "lineage", Header: []string{"model", "layer", "depends_on", "external_sources", "used_by"}}

	models := ps.NameSet()
	for _, m := range ps.Models {
		layer := string(m.Layer)
		overview.Rows = append(overview.Rows, []string{
			m.Name, layer, ps.SchemaFor(m), strings.Join(m.Sources, ", "),
			strconv.Itoa(len(m.Columns)), strconv.Itoa(len(m.Aggregations)),
			strconv.Itoa(len(m.Joins)), strconv.Itoa(len(m.Filters)),
			strings.Join(m.Constraints.PrimaryKey, ", "), m.Description,
		})

		for _, c := range m.Columns {
			columns.Rows = append(columns.Rows, []string{
				m.Name, layer, "column", c.TargetColumn, string(c.Type), c.FromTable, c.FromColumn,
				c.Transform, strconv.FormatBool(c.Nullable), spec.FormatTestRefs(c.Tests), c.Description,
			})
			for _, t := range c.Tests {
				tests.Rows = append(tests.Rows, []string{m.Name, layer, c.TargetColumn, t.String()})
			}
		}
		for _, a := range m.Aggregations {
			columns.Rows = append(columns.Rows, []string{
				m.Name, layer, "metric", a.MetricColumn, string(a.Type), "", "",
				a.Formula, "", spec.FormatTestRefs(a.Tests), a.Description,
			})
			for _, t := range a.Tests {
				tests.Rows = append(tests.Rows, []string{m.Name, layer, a.MetricColumn, t.String()})
			}
		}
		if pk := m.Constraints.PrimaryKey; len(pk) > 0 {
			tests.Rows = append(tests.Rows, []string{m.Name, layer, strings.Join(pk, ", "), spec.TestPrimaryKey})
		}

		for _, j := range m.Joins {
			joins.Rows = append(joins.Rows, []string{m.Name, layer, j.LeftTable, j.RightTable, string(j.Kind), j.Condition})
		}

		var external []string
		for _, s := range m.Sources {
			if !models[s] {
				external = append(external, s)
			}
		}
		lineage.Rows = append(lineage.Rows, []string{
			m.Name, layer,
			strings.Join(g.GetParents(m.Name), ", "),
			strings.Join(external, ", "),
			strings.Join(g.GetChildren(m.Name), ", "),
		})
	}
	return []*Table{overview, columns, joins, tests, lineage}, nil
}

// WriteCSV writes one <name>.csv file per sheet into dir and returns the
// written paths.
func WriteCSV(dir string, ps *spec.PipelineSpec) ([]string, error) {
	tables, err := Tables(ps)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		data, err := t.CSV()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, t.Name+".csv")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
