package reqdoc

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type rawTable struct {
	line    int
	headers []string
	rows    [][]string
}

var (
	separatorCell = regexp.MustCompile(`^:?-+:?$`)
	nonWord       = regexp.MustCompile(`[\s\-/]+`)
	folder        = cases.Fold()
)

// normalizeName turns a header or section title into its lookup key:
// NFC, case folded, decoration stripped, separators collapsed to underscores.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	s = folder.String(s)
	s = strings.Trim(s, " \t*_`#:")
	s = nonWord.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// splitRow splits a pipe table line into trimmed cells. Pipes inside code
// spans and escaped pipes (\|) are literal.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = line[:len(line)-1]
	}

	var cells []string
	var cur strings.Builder
	inCode := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case c == '`':
			inCode = !inCode
			cur.WriteByte(c)
		case c == '|' && !inCode:
			cells = append(cells, cleanCell(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(cells, cleanCell(cur.String()))
}

func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && !strings.Contains(s[1:len(s)-1], "`") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "-" || s == "—" {
		return ""
	}
	return s
}

func isSeparator(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if !separatorCell.MatchString(strings.ReplaceAll(c, " ", "")) {
			return false
		}
	}
	return true
}

// buildTable turns consecutive pipe lines into a header plus data rows.
func buildTable(model string, kind spec.TableKind, startLine int, lines []string) (*rawTable, error) {
	if len(lines) < 2 || !isSeparator(splitRow(lines[1])) {
		return nil, &spec.MalformedTableError{Model: model, Table: kind, Message: fmt.Sprintf("table at line %d has no header separator", startLine)}
	}
	t := &rawTable{line: startLine}
	for _, h := range splitRow(lines[0]) {
		t.headers = append(t.headers, normalizeName(h))
	}
	for _, line := range lines[2:] {
		cells := splitRow(line)
		if allEmpty(cells) {
			continue
		}
		t.rows = append(t.rows, cells)
	}
	return t, nil
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// records checks headers and arity and returns one map per data row.
// Optional headers missing from the table are present as empty strings.
func (t *rawTable) records(model string, ts tableSpec) ([]map[string]string, error) {
	for _, h := range ts.required {
		if !slices.Contains(t.headers, h) {
			return nil, &spec.MalformedTableError{Model: model, Table: ts.kind, Message: fmt.Sprintf("missing required header %q", h)}
		}
	}
	out := make([]map[string]string, 0, len(t.rows))
	for i, cells := range t.rows {
		if len(cells) != len(t.headers) {
			return nil, &spec.MalformedTableError{Model: model, Table: ts.kind, Row: i + 1,
				Message: fmt.Sprintf("expected %d cells, got %d", len(t.headers), len(cells))}
		}
		rec := make(map[string]string, len(cells)+len(ts.optional))
		for _, h := range ts.optional {
			rec[h] = ""
		}
		for j, h := range t.headers {
			rec[h] = cells[j]
		}
		out = append(out, rec)
	}
	return out, nil
}

// constraintRecord folds a constraints table into a single record. Both the
// horizontal form (one column per constraint) and the vertical form
// (constraint | value) are accepted.
func (t *rawTable) constraintRecord(model string) (map[string]string, error) {
	ts := tableSpecs[spec.TableConstraints]
	if len(t.headers) == 2 && t.headers[1] == "value" &&
		(t.headers[0] == "constraint" || t.headers[0] == "key" || t.headers[0] == "property") {
		rec := make(map[string]string)
		for i, cells := range t.rows {
			if len(cells) != 2 {
				return nil, &spec.MalformedTableError{Model: model, Table: ts.kind, Row: i + 1,
					Message: fmt.Sprintf("expected 2 cells, got %d", len(cells))}
			}
			rec[normalizeName(cells[0])] = cells[1]
		}
		if _, ok := rec["primary_key"]; !ok {
			return nil, &spec.MalformedTableError{Model: model, Table: ts.kind, Message: `missing required constraint "primary_key"`}
		}
		return rec, nil
	}

	recs, err := t.records(model, ts)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string)
	for _, rec := range recs {
		for k, v := range rec {
			if merged[k] == "" {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

func decodeRecord(model string, kind spec.TableKind, row int, rec map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(rec); err != nil {
		return &spec.MalformedTableError{Model: model, Table: kind, Row: row, Message: err.Error()}
	}
	return nil
}

// addTable decodes a raw table of the given kind into the model block.
func (m *ModelBlock) addTable(kind spec.TableKind, t *rawTable) error {
	if kind == spec.TableConstraints {
		rec, err := t.constraintRecord(m.Name)
		if err != nil {
			return err
		}
		var row ConstraintsRow
		if err := decodeRecord(m.Name, kind, 0, rec, &row); err != nil {
			return err
		}
		m.Constraints = &row
		return nil
	}

	recs, err := t.records(m.Name, tableSpecs[kind])
	if err != nil {
		return err
	}
	for i, rec := range recs {
		switch kind {
		case spec.TableColumnMapping:
			row := ColumnMappingRow{Row: len(m.Columns) + 1}
			if err := decodeRecord(m.Name, kind, i+1, rec, &row); err != nil {
				return err
			}
			m.Columns = append(m.Columns, row)
		case spec.TableJoins:
			row := JoinRow{Row: len(m.Joins) + 1}
			if err := decodeRecord(m.Name, kind, i+1, rec, &row); err != nil {
				return err
			}
			m.Joins = append(m.Joins, row)
		case spec.TableFilters:
			row := FilterRow{Row: len(m.Filters) + 1}
			if err := decodeRecord(m.Name, kind, i+1, rec, &row); err != nil {
				return err
			}
			m.Filters = append(m.Filters, row)
		case spec.TableAggregations:
			row := AggregationRow{Row: len(m.Aggregations) + 1}
			if err := decodeRecord(m.Name, kind, i+1, rec, &row); err != nil {
				return err
			}
			m.Aggregations = append(m.Aggregations, row)
		case spec.TableGroupBy:
			row := GroupByRow{Row: len(m.GroupBy) + 1}
			if err := decodeRecord(m.Name, kind, i+1, rec, &row); err != nil {
				return err
			}
			m.GroupBy = append(m.GroupBy, row)
		}
	}
	return nil
}
