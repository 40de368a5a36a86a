// Package testgen derives data tests from a model's declared test intents.
//
// Every case carries a synthesized fixture (per-source input rows and the
// expected model output replayed in Go) and an assertion that is evaluable
// in Go and rendered as SQL over the model's own compiled query, with source
// references replaced by fixture CTEs.
package testgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/codegen"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/sqlexpr"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// ExpectPass is the expected outcome of every generated case.
const ExpectPass = "pass"

// Case is one generated test.
type Case struct {
	Name      string
	Model     string
	Kind      Kind
	Column    string
	Assertion *Assertion
	Fixture   *Fixture
	Expect    string
}

// Skipped records a test intent no case could be generated for.
type Skipped struct {
	Model  string `json:"model"`
	Column string `json:"column,omitempty"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// Suite is the generated tests of one model.
type Suite struct {
	Model   string
	Path    string
	Cases   []*Case
	Skipped []Skipped
	SQL     string
}

// Result is one entry of the machine readable results list.
type Result struct {
	Name   string `json:"name"`
	Model  string `json:"model"`
	Kind   Kind   `json:"kind"`
	Column string `json:"column,omitempty"`
	Expect string `json:"expect"`
}

// Config configures a Generator.
type Config struct {
	Platform *platform.Platform
	Logger   *slog.Logger
}

// Generator builds test suites.
type Generator struct {
	compiler *codegen.Generator
	quote    func(string) string
	logger   *slog.Logger
}

// New creates a generator. SQL is rendered with the platform's quoting;
// sources are always read from fixture CTEs.
func New(cfg Config) (*Generator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	compiler, err := codegen.New(codegen.Config{Platform: cfg.Platform, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Generator{compiler: compiler, quote: cfg.Platform.QuoteIdent, logger: logger}, nil
}

// Generate builds the suite of one model.
func (g *Generator) Generate(m *spec.ModelSpec) (*Suite, error) {
	s, err := newSynth(m)
	if err != nil {
		return nil, err
	}
	suite := &Suite{Model: m.Name, Path: "tests/" + m.Name + "_test.sql"}

	add := func(kind Kind, column string, a *Assertion, n int, pins override) {
		name := caseName(m.Name, column, kind)
		f, err := s.build(n, pins)
		if err == nil {
			err = check(a, f)
		}
		if err != nil {
			g.logger.Debug("skipping test", "model", m.Name, "case", name, "error", err)
			suite.Skipped = append(suite.Skipped, Skipped{Model: m.Name, Column: column, Kind: kind, Reason: err.Error()})
			return
		}
		suite.Cases = append(suite.Cases, &Case{
			Name:      name,
			Model:     m.Name,
			Kind:      kind,
			Column:    column,
			Assertion: a,
			Fixture:   f,
			Expect:    ExpectPass,
		})
	}

	outputs := m.OutputColumns()
	addTests := func(column string, tests []spec.TestRef) {
		for _, t := range tests {
			if !slices.Contains(outputs, column) {
				suite.Skipped = append(suite.Skipped, Skipped{Model: m.Name, Column: column, Kind: Kind(t.Name),
					Reason: "column is not an output of the aggregated model"})
				continue
			}
			switch Kind(t.Name) {
			case KindNotNull:
				add(KindNotNull, column, &Assertion{Kind: KindNotNull, Columns: []string{column}}, 2, nil)
			case KindUnique:
				add(KindUnique, column, &Assertion{Kind: KindUnique, Columns: []string{column}}, 3, nil)
			case KindAcceptedValues:
				add(KindAcceptedValues, column, &Assertion{Kind: KindAcceptedValues, Columns: []string{column}, Values: t.Args},
					max(len(t.Args), 1), s.acceptedPins(column, t.Args))
			}
		}
	}

	for _, c := range m.Columns {
		addTests(c.TargetColumn, c.Tests)
	}
	for _, a := range m.Aggregations {
		addTests(a.MetricColumn, a.Tests)
	}
	if pk := m.Constraints.PrimaryKey; len(pk) > 0 {
		add(KindPrimaryKey, "", &Assertion{Kind: KindPrimaryKey, Columns: pk}, 3, nil)
	}
	for _, a := range m.Aggregations {
		g.addAggregate(s, a, add)
	}

	suite.SQL, err = g.Script(m, suite.Cases)
	if err != nil {
		return nil, err
	}
	return suite, nil
}

// addAggregate adds the correctness case of one metric. Three entities are
// generated and group keys fed directly by a source column are pinned to
// the first entity's value, so the output holds one hand-checkable group.
func (g *Generator) addAggregate(s *synth, a spec.Aggregation, add func(Kind, string, *Assertion, int, override)) {
	m := s.m
	pins := override{}
	for _, k := range m.GroupBy {
		key, ok := s.feed(k)
		if !ok || !s.direct(k) {
			continue
		}
		if _, isJoinKey := s.classes[key]; isJoinKey {
			continue
		}
		v := s.value(key, 1)
		pins[key] = func(int) sqlexpr.Value { return v }
	}

	cols := append(slices.Clone(m.GroupBy), a.MetricColumn)
	f, err := s.build(3, pins)
	if err != nil {
		add(KindAggregate, a.MetricColumn, &Assertion{Kind: KindAggregate, Columns: cols}, 3, pins)
		return
	}
	expected := make([]sqlexpr.Row, len(f.Expected))
	for i, r := range f.Expected {
		row := make(sqlexpr.Row, len(cols))
		for _, c := range cols {
			row[c] = r[c]
		}
		expected[i] = row
	}
	add(KindAggregate, a.MetricColumn, &Assertion{Kind: KindAggregate, Columns: cols, Expected: expected}, 3, pins)
}

// acceptedPins feeds one accepted value per entity into the column's source.
func (s *synth) acceptedPins(column string, values []string) override {
	key, ok := s.feed(column)
	if !ok || !s.direct(column) || len(values) == 0 {
		return nil
	}
	t := s.types[key]
	return override{key: func(i int) sqlexpr.Value {
		return parseTyped(values[(i-1)%len(values)], t)
	}}
}

func parseTyped(s string, t spec.DataType) sqlexpr.Value {
	switch t {
	case spec.TypeInt64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case spec.TypeFloat64, spec.TypeNumeric:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case spec.TypeBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

var errNoOutput = errors.New("fixture produces no output rows")

// check verifies that the fixture yields output and satisfies the assertion.
func check(a *Assertion, f *Fixture) error {
	if len(f.Expected) == 0 {
		return errNoOutput
	}
	if n := a.Failures(f.Expected); n > 0 {
		return fmt.Errorf("synthesized fixture violates %s (%d failures)", a.Kind, n)
	}
	return nil
}

func caseName(model, column string, kind Kind) string {
	if column == "" {
		return model + "__" + string(kind)
	}
	return model + "__" + column + "__" + string(kind)
}

// Corrupt returns a copy of c whose fixture violates the assertion: a
// duplicated row for uniqueness, a NULL for not_null, a value outside the set
// for accepted_values and a changed input for aggregates.
func (g *Generator) Corrupt(m *spec.ModelSpec, c *Case) (*Case, error) {
	s, err := newSynth(m)
	if err != nil {
		return nil, err
	}
	f := c.Fixture.Clone()

	mutate := func() error {
		switch c.Kind {
		case KindNotNull, KindAcceptedValues:
			key, ok := s.feed(c.Column)
			if !ok || len(f.Sources[key.source]) == 0 {
				return fmt.Errorf("no source column feeds %q", c.Column)
			}
			var v sqlexpr.Value
			if c.Kind == KindAcceptedValues {
				v = "__unexpected__"
			}
			f.Sources[key.source][0][key.column] = v
		default:
			src := s.primarySource(c.Column)
			rows := f.Sources[src]
			if len(rows) == 0 {
				return fmt.Errorf("source %q has no rows", src)
			}
			f.Sources[src] = append(rows, maps.Clone(rows[0]))
		}
		return nil
	}
	if err := mutate(); err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", c.Name, err)
	}

	out, err := s.replay.run(f.Sources)
	if err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", c.Name, err)
	}
	f.Expected = out
	if c.Assertion.Failures(out) == 0 {
		return nil, fmt.Errorf("corrupt %s: mutation does not violate the assertion", c.Name)
	}

	bad := *c
	bad.Name = c.Name + "__corrupt"
	bad.Fixture = f
	bad.Expect = "fail"
	return &bad, nil
}

// primarySource is the source whose duplicated row duplicates output rows.
func (s *synth) primarySource(column string) string {
	if key, ok := s.feed(column); ok {
		return key.source
	}
	if len(s.m.Joins) > 0 {
		return s.m.Joins[0].LeftTable
	}
	return s.m.Sources[0]
}

// Script renders the SQL test script of a model.
func (g *Generator) Script(m *spec.ModelSpec, cases []*Case) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "-- tests for %s\n", m.Name)
	for _, c := range cases {
		sql, err := g.CaseSQL(m, c)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(sql)
		b.WriteString(";\n")
	}
	return b.String(), nil
}

// CaseSQL renders one case as a query returning its failures count.
func (g *Generator) CaseSQL(m *spec.ModelSpec, c *Case) (string, error) {
	q, err := g.compiler.Query(m, func(source string) (string, error) {
		return fixtureCTE(source), nil
	})
	if err != nil {
		return "", err
	}

	var ctes []codegen.CTE
	for _, src := range m.Sources {
		ctes = append(ctes, codegen.CTE{Name: fixtureCTE(src), Body: g.rowsSQL(c.Fixture.Columns[src], c.Fixture.Types[src], c.Fixture.Sources[src])})
	}
	ctes = append(ctes, q.CTEs...)
	ctes = append(ctes, codegen.CTE{Name: "model_output", Body: q.Select})
	if c.Kind == KindAggregate {
		types := make(map[string]spec.DataType, len(c.Assertion.Columns))
		for _, col := range c.Assertion.Columns {
			types[col] = m.OutputType(col)
		}
		ctes = append(ctes, codegen.CTE{Name: "expected_output", Body: g.rowsSQL(c.Assertion.Columns, types, c.Assertion.Expected)})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- %s: %s (expect %s)\n", c.Name, c.Kind, c.Expect)
	b.WriteString("WITH\n")
	b.WriteString(codegen.RenderCTEs(ctes))
	b.WriteString("\n")
	b.WriteString(c.Assertion.SQL("model_output", g.quote))
	return b.String(), nil
}

func fixtureCTE(source string) string {
	return "fixture_" + source
}

// rowsSQL renders rows as a UNION ALL of selects. Empty inputs render a
// typed select that returns no rows.
func (g *Generator) rowsSQL(cols []string, types map[string]spec.DataType, rows []sqlexpr.Row) string {
	if len(cols) == 0 {
		cols = []string{"_row"}
		types = map[string]spec.DataType{"_row": spec.TypeInt64}
		rows = slices.Repeat([]sqlexpr.Row{{"_row": int64(1)}}, max(len(rows), 1))
	}
	if len(rows) == 0 {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprintf("CAST(NULL AS %s) AS %s", types[c], g.quote(c))
		}
		return "SELECT " + strings.Join(parts, ", ") + "\nLIMIT 0"
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		parts := make([]string, len(cols))
		for j, c := range cols {
			parts[j] = literal(r[c], types[c]) + " AS " + g.quote(c)
		}
		lines[i] = "SELECT " + strings.Join(parts, ", ")
	}
	return strings.Join(lines, "\nUNION ALL\n")
}

// literal renders a fixture value as a SQL literal of type t.
func literal(v sqlexpr.Value, t spec.DataType) string {
	if t == "" {
		t = spec.TypeString
	}
	switch x := v.(type) {
	case nil:
		return fmt.Sprintf("CAST(NULL AS %s)", t)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		if t.IsTemporal() {
			return string(t) + " " + quoteString(x)
		}
		return quoteString(x)
	}
	return quoteString(valueString(v))
}

// Results lists the cases of suites in order.
func Results(suites []*Suite) []Result {
	var out []Result
	for _, s := range suites {
		for _, c := range s.Cases {
			out = append(out, Result{Name: c.Name, Model: c.Model, Kind: c.Kind, Column: c.Column, Expect: c.Expect})
		}
	}
	if out == nil {
		out = []Result{}
	}
	return out
}

// ResultsJSON encodes the results list.
func ResultsJSON(suites []*Suite) ([]byte, error) {
	data, err := json.MarshalIndent(Results(suites), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return append(data, '\n'), nil
}
