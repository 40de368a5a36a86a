package codegen

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/sqlexpr"
)

// Resolver renders the relation a source is read from.
type Resolver func(source string) (string, error)

// CTE is one named step of a compiled query.
type CTE struct {
	Name string
	Body string
}

// Query is a compiled model body: CTEs in emission order plus the final select.
type Query struct {
	CTEs   []CTE
	Select string
}

// String renders the query as WITH ... SELECT.
func (q *Query) String() string {
	var b strings.Builder
	if len(q.CTEs) > 0 {
		b.WriteString("WITH\n")
		b.WriteString(RenderCTEs(q.CTEs))
		b.WriteString("\n")
	}
	b.WriteString(q.Select)
	return b.String()
}

// RenderCTEs renders CTE definitions separated by commas, without WITH.
func RenderCTEs(ctes []CTE) string {
	parts := make([]string, len(ctes))
	for i, c := range ctes {
		parts[i] = c.Name + " AS (\n" + indent(c.Body, "  ") + "\n)"
	}
	return strings.Join(parts, ",\n")
}

// SourceCTE is the name of the projection CTE for a source.
func SourceCTE(source string) string {
	return "src_" + source
}

// JoinedColumn is the flattened name of a source column in the joined CTE.
func JoinedColumn(source, column string) string {
	return source + "__" + column
}

// plan is the resolved shape of one model.
type plan struct {
	m     *spec.ModelSpec
	quote func(string) string
	multi bool

	used    map[string][]string // source -> referenced columns, first seen order
	filters map[string][]string // source -> predicates, declaration order
	chain   map[string]bool     // tables in the join chain so far
	exprs   []string            // transformed select list

	// qualified holds each column's value with table.column references,
	// in column mapping order.
	qualified []string
}

// Resolved is a model's column resolution: the source columns each source
// must provide and every column mapping's value with table.column references.
type Resolved struct {
	Columns map[string][]string
	Values  []string
}

// Resolve checks a model's references the way compilation does and returns
// its resolution.
func Resolve(m *spec.ModelSpec) (*Resolved, error) {
	p, err := newPlan(m, func(s string) string { return s })
	if err != nil {
		return nil, err
	}
	return &Resolved{Columns: p.used, Values: p.qualified}, nil
}

func newPlan(m *spec.ModelSpec, quote func(string) string) (*plan, error) {
	if err := spec.ValidateModel(m); err != nil {
		return nil, err
	}
	p := &plan{
		m:       m,
		quote:   quote,
		multi:   len(m.Sources) > 1,
		used:    make(map[string][]string, len(m.Sources)),
		filters: make(map[string][]string, len(m.Sources)),
		chain:   make(map[string]bool, len(m.Sources)),
	}
	for i := range m.Columns {
		if err := p.addColumn(&m.Columns[i]); err != nil {
			return nil, err
		}
	}
	for i, j := range m.Joins {
		if err := p.addJoin(i+1, j); err != nil {
			return nil, err
		}
	}
	for i, f := range m.Filters {
		if err := p.addFilter(i+1, f); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *plan) use(source, column string) {
	if !slices.Contains(p.used[source], column) {
		p.used[source] = append(p.used[source], column)
	}
}

// ref renders a source column as seen by the transform step.
func (p *plan) ref(source, column string) string {
	if p.multi {
		return p.quote(JoinedColumn(source, column))
	}
	return source + "." + p.quote(column)
}

// defaultTable is the table unqualified references of a column resolve to.
func (p *plan) defaultTable(c *spec.ColumnMapping) string {
	if c.FromTable != "" {
		return c.FromTable
	}
	if len(p.m.Sources) == 1 {
		return p.m.Sources[0]
	}
	return ""
}

func (p *plan) addColumn(c *spec.ColumnMapping) error {
	m := p.m
	table := p.defaultTable(c)

	if c.Transform == "" {
		if c.FromColumn == "" {
			return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn, Message: "no transform and no from_column"}
		}
		if table == "" {
			return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn,
				Message: fmt.Sprintf("from_table is required with %d sources", len(m.Sources))}
		}
	} else {
		a, err := sqlexpr.Analyze(c.Transform)
		if err != nil {
			return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn, Message: err.Error()}
		}
		for _, ref := range a.Columns {
			if ref.Table != "" && !m.HasSource(ref.Table) {
				return &spec.UnknownSourceReferenceError{Model: m.Name, Column: c.TargetColumn, Table: ref.Table, Context: "transform"}
			}
			if ref.Table == "" && table == "" {
				return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn,
					Message: fmt.Sprintf("unqualified column %q is ambiguous across sources", ref.Column)}
			}
		}
		if slices.Contains(a.Placeholders, "from") && (c.FromColumn == "" || table == "") {
			return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn,
				Message: "transform uses {from} but no source column is declared"}
		}
	}

	expr, err := p.columnExpr(c, table, p.ref)
	if err != nil {
		return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn, Message: err.Error()}
	}
	qualified, err := p.columnExpr(c, table, qualifiedRef)
	if err != nil {
		return &spec.TransformResolutionError{Model: m.Name, Column: c.TargetColumn, Message: err.Error()}
	}
	p.qualified = append(p.qualified, qualified)

	target := p.quote(c.TargetColumn)
	if expr == target {
		p.exprs = append(p.exprs, expr)
	} else {
		p.exprs = append(p.exprs, expr+" AS "+target)
	}
	return nil
}

func qualifiedRef(source, column string) string {
	return source + "." + column
}

// columnExpr renders the value of c with source columns rendered by ref.
func (p *plan) columnExpr(c *spec.ColumnMapping, table string, ref func(source, column string) string) (string, error) {
	if c.Transform == "" {
		p.use(table, c.FromColumn)
		return ref(table, c.FromColumn), nil
	}
	a, err := sqlexpr.Analyze(c.Transform)
	if err != nil {
		return "", err
	}
	expr, err := sqlexpr.RewriteColumns(c.Transform, func(r sqlexpr.ColumnRef) (string, bool) {
		src := r.Table
		if src == "" {
			src = table
		}
		p.use(src, r.Column)
		return ref(src, r.Column), true
	})
	if err != nil {
		return "", err
	}
	values := map[string]string{}
	if c.FromColumn != "" && table != "" {
		values["from"] = ref(table, c.FromColumn)
	}
	expr, err = sqlexpr.Substitute(expr, values)
	if err != nil {
		return "", err
	}
	if slices.Contains(a.Placeholders, "from") {
		p.use(table, c.FromColumn)
	}
	return expr, nil
}

func (p *plan) addJoin(row int, j spec.Join) error {
	a, err := sqlexpr.Analyze(j.Condition)
	if err != nil {
		return &spec.MalformedTableError{Model: p.m.Name, Table: spec.TableJoins, Row: row, Message: err.Error()}
	}
	for _, ref := range a.Columns {
		if ref.Table == "" {
			return &spec.MalformedTableError{Model: p.m.Name, Table: spec.TableJoins, Row: row,
				Message: fmt.Sprintf("unqualified column %q in join condition", ref.Column)}
		}
		if !p.m.HasSource(ref.Table) {
			return &spec.UnknownSourceReferenceError{Model: p.m.Name, Table: ref.Table, Context: "join"}
		}
		if ref.Table != j.LeftTable && ref.Table != j.RightTable && !p.chain[ref.Table] {
			return &spec.MalformedTableError{Model: p.m.Name, Table: spec.TableJoins, Row: row,
				Message: fmt.Sprintf("condition references %q before it is joined", ref.Table)}
		}
		p.use(ref.Table, ref.Column)
	}
	p.chain[j.LeftTable] = true
	p.chain[j.RightTable] = true
	return nil
}

func (p *plan) addFilter(row int, f spec.Filter) error {
	a, err := sqlexpr.Analyze(f.Predicate)
	if err != nil {
		return &spec.MalformedTableError{Model: p.m.Name, Table: spec.TableFilters, Row: row, Message: err.Error()}
	}
	for _, ref := range a.Columns {
		if ref.Table != "" && ref.Table != f.AppliesTo {
			return &spec.MalformedTableError{Model: p.m.Name, Table: spec.TableFilters, Row: row,
				Message: fmt.Sprintf("filter on %q references %q", f.AppliesTo, ref.Table)}
		}
		p.use(f.AppliesTo, ref.Column)
	}
	p.filters[f.AppliesTo] = append(p.filters[f.AppliesTo], f.Predicate)
	return nil
}

// build renders the CTE chain. resolve supplies the relation for each source.
func (p *plan) build(resolve Resolver) (*Query, error) {
	m := p.m
	q := &Query{}

	for _, s := range m.Sources {
		rel, err := resolve(s)
		if err != nil {
			return nil, err
		}
		q.CTEs = append(q.CTEs, CTE{Name: SourceCTE(s), Body: p.projection(s, rel)})
	}

	last := ""
	if p.multi {
		q.CTEs = append(q.CTEs, CTE{Name: "joined", Body: p.joined()})
		last = "joined"
	}

	if len(p.exprs) > 0 {
		from := "FROM joined"
		if !p.multi {
			from = fmt.Sprintf("FROM %s AS %s", SourceCTE(m.Sources[0]), m.Sources[0])
		}
		q.CTEs = append(q.CTEs, CTE{Name: "transformed", Body: selectList(p.exprs) + "\n" + from})
		last = "transformed"
	}

	if m.IsAggregated() {
		if last == "" {
			return nil, &spec.MalformedTableError{Model: m.Name, Table: spec.TableAggregations, Message: "aggregations need a column mapping"}
		}
		q.CTEs = append(q.CTEs, CTE{Name: "aggregated", Body: p.aggregated(last)})
		last = "aggregated"
	}
	if last == "" {
		last = SourceCTE(m.Sources[0])
	}

	outputs := m.OutputColumns()
	cols := make([]string, len(outputs))
	for i, c := range outputs {
		cols[i] = p.quote(c)
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	q.Select = selectList(cols) + "\nFROM " + last
	return q, nil
}

func (p *plan) projection(source, rel string) string {
	cols := make([]string, len(p.used[source]))
	for i, c := range p.used[source] {
		cols[i] = p.quote(c)
	}
	if len(cols) == 0 {
		cols = []string{"1 AS _row"}
	}
	var b strings.Builder
	b.WriteString(selectList(cols))
	fmt.Fprintf(&b, "\nFROM %s AS %s", rel, source)

	preds := p.filters[source]
	switch len(preds) {
	case 0:
	case 1:
		b.WriteString("\nWHERE " + preds[0])
	default:
		for i, pred := range preds {
			if i == 0 {
				b.WriteString("\nWHERE (" + pred + ")")
			} else {
				b.WriteString("\n  AND (" + pred + ")")
			}
		}
	}
	return b.String()
}

func (p *plan) joined() string {
	m := p.m
	var cols []string
	for _, s := range m.Sources {
		for _, c := range p.used[s] {
			cols = append(cols, s+"."+p.quote(c)+" AS "+p.quote(JoinedColumn(s, c)))
		}
	}
	var b strings.Builder
	b.WriteString(selectList(cols))
	first := m.Sources[0]
	if len(m.Joins) > 0 {
		first = m.Joins[0].LeftTable
	}
	fmt.Fprintf(&b, "\nFROM %s AS %s", SourceCTE(first), first)
	for _, j := range m.Joins {
		fmt.Fprintf(&b, "\n%s JOIN %s AS %s\n  ON %s", j.Kind, SourceCTE(j.RightTable), j.RightTable, j.Condition)
	}
	return b.String()
}

func (p *plan) aggregated(from string) string {
	m := p.m
	var cols []string
	for _, k := range m.GroupBy {
		cols = append(cols, p.quote(k))
	}
	for _, a := range m.Aggregations {
		cols = append(cols, a.Formula+" AS "+p.quote(a.MetricColumn))
	}
	body := selectList(cols) + "\nFROM " + from
	if len(m.GroupBy) > 0 {
		keys := make([]string, len(m.GroupBy))
		for i, k := range m.GroupBy {
			keys[i] = p.quote(k)
		}
		body += "\nGROUP BY " + strings.Join(keys, ", ")
	}
	return body
}

func selectList(cols []string) string {
	return "SELECT\n  " + strings.Join(cols, ",\n  ")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
