package testgen

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/specpipe/internal/codegen"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/sqlexpr"
)

// Fixture is the input of one test case plus the output the model must
// produce from it.
type Fixture struct {
	// Columns lists each source's columns in projection order.
	Columns map[string][]string
	// Types holds the inferred type of each source column.
	Types    map[string]map[string]spec.DataType
	Sources  map[string][]sqlexpr.Row
	Expected []sqlexpr.Row
}

// Clone returns a deep copy of the fixture rows.
func (f *Fixture) Clone() *Fixture {
	out := &Fixture{
		Columns: f.Columns,
		Types:   f.Types,
		Sources: make(map[string][]sqlexpr.Row, len(f.Sources)),
	}
	for s, rows := range f.Sources {
		cp := make([]sqlexpr.Row, len(rows))
		for i, r := range rows {
			cp[i] = maps.Clone(r)
		}
		out.Sources[s] = cp
	}
	for _, r := range f.Expected {
		out.Expected = append(out.Expected, maps.Clone(r))
	}
	return out
}

type colKey struct{ source, column string }

// synth synthesizes fixtures for one model.
type synth struct {
	m        *spec.ModelSpec
	res      *codegen.Resolved
	replay   *replayer
	types    map[colKey]spec.DataType
	classes  map[colKey]int // join key equivalence class
	messy    map[colKey]bool
	literals map[colKey][]sqlexpr.Value
	title    cases.Caser
}

func newSynth(m *spec.ModelSpec) (*synth, error) {
	res, err := codegen.Resolve(m)
	if err != nil {
		return nil, err
	}
	rp, err := newReplayer(m, res)
	if err != nil {
		return nil, err
	}
	s := &synth{
		m:        m,
		res:      res,
		replay:   rp,
		types:    make(map[colKey]spec.DataType),
		classes:  make(map[colKey]int),
		messy:    make(map[colKey]bool),
		literals: make(map[colKey][]sqlexpr.Value),
		title:    cases.Title(language.Und),
	}
	s.inferTypes()
	return s, nil
}

// feed returns the source column a target column is read from.
func (s *synth) feed(target string) (colKey, bool) {
	c, ok := s.m.Column(target)
	if !ok {
		return colKey{}, false
	}
	table := c.FromTable
	if table == "" && len(s.m.Sources) == 1 {
		table = s.m.Sources[0]
	}
	if c.FromColumn != "" && table != "" {
		return colKey{table, c.FromColumn}, true
	}
	a, err := sqlexpr.Analyze(c.Transform)
	if err != nil || len(a.Columns) == 0 {
		return colKey{}, false
	}
	ref := a.Columns[0]
	if ref.Table == "" {
		ref.Table = table
	}
	return colKey{ref.Table, ref.Column}, ref.Table != ""
}

// direct reports whether target is its feeding column unchanged or through a
// transform of {from}.
func (s *synth) direct(target string) bool {
	c, ok := s.m.Column(target)
	return ok && c.FromColumn != ""
}

func (s *synth) inferTypes() {
	m := s.m

	// Join keys: union-find over equi pairs.
	parent := map[colKey]colKey{}
	var find func(k colKey) colKey
	find = func(k colKey) colKey {
		p, ok := parent[k]
		if !ok || p == k {
			parent[k] = k
			return k
		}
		root := find(p)
		parent[k] = root
		return root
	}
	for _, j := range m.Joins {
		for _, pair := range sqlexpr.EquiPairs(j.Condition) {
			a := find(colKey{pair[0].Table, pair[0].Column})
			b := find(colKey{pair[1].Table, pair[1].Column})
			if a != b {
				parent[b] = a
			}
		}
	}
	roots := map[colKey]int{}
	members := slices.SortedFunc(maps.Keys(parent), func(a, b colKey) int {
		return cmp.Or(cmp.Compare(a.source, b.source), cmp.Compare(a.column, b.column))
	})
	for _, k := range members {
		root := find(k)
		if _, ok := roots[root]; !ok {
			roots[root] = len(roots) + 1
		}
		s.classes[k] = roots[root]
	}

	// Direct mappings carry the target type. Transform inputs are strings
	// when the transform casts or cleans text.
	for i := range m.Columns {
		c := &m.Columns[i]
		key, ok := s.feed(c.TargetColumn)
		if !ok {
			continue
		}
		if c.Transform == "" {
			s.setType(key, c.Type)
			continue
		}
		if textTransform(c.Transform) {
			s.setType(key, spec.TypeString)
			s.messy[key] = true
		} else {
			s.setType(key, c.Type)
		}
	}

	// Every other transform reference takes the target type when numeric.
	for i := range m.Columns {
		c := &m.Columns[i]
		if c.Transform == "" {
			continue
		}
		a, err := sqlexpr.Analyze(s.res.Values[i])
		if err != nil {
			continue
		}
		for _, ref := range a.Columns {
			key := colKey{ref.Table, ref.Column}
			if c.Type.IsNumeric() && !textTransform(c.Transform) {
				s.setType(key, c.Type)
			} else {
				s.setType(key, spec.TypeString)
				if c.Type == spec.TypeString {
					s.messy[key] = true
				}
			}
		}
	}

	// Join classes share one type.
	classType := map[int]spec.DataType{}
	for _, k := range members {
		id := s.classes[k]
		if t, ok := s.types[k]; ok && classType[id] == "" {
			classType[id] = t
		}
	}
	for _, k := range members {
		id := s.classes[k]
		t := classType[id]
		if t == "" {
			t = spec.TypeInt64
		}
		s.types[k] = t
		delete(s.messy, k)
	}

	// Filter literals hint types and serve as candidate values.
	for _, f := range m.Filters {
		e, err := sqlexpr.Parse(f.Predicate)
		if err != nil {
			continue
		}
		collectLiterals(e, func(col *sqlexpr.Column, v sqlexpr.Value) {
			key := colKey{f.AppliesTo, col.Name}
			s.literals[key] = append(s.literals[key], v)
			if _, ok := s.types[key]; !ok {
				switch v.(type) {
				case int64:
					s.types[key] = spec.TypeInt64
				case float64:
					s.types[key] = spec.TypeFloat64
				case bool:
					s.types[key] = spec.TypeBool
				}
			}
		})
	}

	for src, cols := range s.res.Columns {
		for _, c := range cols {
			if _, ok := s.types[colKey{src, c}]; !ok {
				s.types[colKey{src, c}] = spec.TypeString
			}
		}
	}
}

func (s *synth) setType(k colKey, t spec.DataType) {
	if _, ok := s.types[k]; !ok {
		s.types[k] = t
	}
}

var textFuncs = map[string]bool{
	"LOWER": true, "UPPER": true, "TRIM": true, "LTRIM": true, "RTRIM": true,
	"REPLACE": true, "SUBSTR": true, "SUBSTRING": true, "CONCAT": true,
	"INITCAP": true, "LENGTH": true, "SAFE_CAST": true, "CAST": true,
}

func textTransform(transform string) bool {
	e, err := sqlexpr.Parse(transform)
	if err != nil {
		return false
	}
	found := false
	walk(e, func(n sqlexpr.Expr) {
		switch x := n.(type) {
		case *sqlexpr.Call:
			if textFuncs[x.Name] {
				found = true
			}
		case *sqlexpr.Cast:
			found = true
		}
	})
	return found
}

func walk(e sqlexpr.Expr, fn func(sqlexpr.Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *sqlexpr.Unary:
		walk(n.X, fn)
	case *sqlexpr.Binary:
		walk(n.L, fn)
		walk(n.R, fn)
	case *sqlexpr.Call:
		for _, a := range n.Args {
			walk(a, fn)
		}
	case *sqlexpr.Cast:
		walk(n.X, fn)
	case *sqlexpr.Case:
		walk(n.Operand, fn)
		for _, w := range n.Whens {
			walk(w.Cond, fn)
			walk(w.Result, fn)
		}
		walk(n.Else, fn)
	case *sqlexpr.IsNull:
		walk(n.X, fn)
	case *sqlexpr.In:
		walk(n.X, fn)
		for _, item := range n.List {
			walk(item, fn)
		}
	case *sqlexpr.Between:
		walk(n.X, fn)
		walk(n.Lo, fn)
		walk(n.Hi, fn)
	case *sqlexpr.Like:
		walk(n.X, fn)
		walk(n.Pattern, fn)
	}
}

// collectLiterals reports literals compared against a column.
func collectLiterals(e sqlexpr.Expr, fn func(*sqlexpr.Column, sqlexpr.Value)) {
	walk(e, func(n sqlexpr.Expr) {
		switch x := n.(type) {
		case *sqlexpr.Binary:
			if col, ok := x.L.(*sqlexpr.Column); ok {
				if lit, ok := x.R.(*sqlexpr.Literal); ok {
					fn(col, lit.Value)
				}
			}
			if col, ok := x.R.(*sqlexpr.Column); ok {
				if lit, ok := x.L.(*sqlexpr.Literal); ok {
					fn(col, lit.Value)
				}
			}
		case *sqlexpr.In:
			if col, ok := x.X.(*sqlexpr.Column); ok {
				for _, item := range x.List {
					if lit, ok := item.(*sqlexpr.Literal); ok {
						fn(col, lit.Value)
					}
				}
			}
		case *sqlexpr.Between:
			if col, ok := x.X.(*sqlexpr.Column); ok {
				if lit, ok := x.Lo.(*sqlexpr.Literal); ok {
					fn(col, lit.Value)
				}
			}
		case *sqlexpr.Like:
			if col, ok := x.X.(*sqlexpr.Column); ok {
				if lit, ok := x.Pattern.(*sqlexpr.Literal); ok {
					if p, ok := lit.Value.(string); ok {
						fn(col, likeExample(p))
					}
				}
			}
		}
	})
}

func likeExample(pattern string) string {
	out := make([]rune, 0, len(pattern))
	for _, r := range pattern {
		switch r {
		case '%':
		case '_':
			out = append(out, 'x')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// override pins a source column to a value per entity (1-based).
type override map[colKey]func(i int) sqlexpr.Value

// errUnsatisfiable marks fixtures that cannot meet a model's filters.
var errUnsatisfiable = errors.New("cannot satisfy filters")

// build synthesizes n entities. Entity i contributes one row to every source,
// with join keys equal to i so that entities join one to one.
func (s *synth) build(n int, pins override) (*Fixture, error) {
	f := &Fixture{
		Columns: s.res.Columns,
		Types:   make(map[string]map[string]spec.DataType, len(s.m.Sources)),
		Sources: make(map[string][]sqlexpr.Row, len(s.m.Sources)),
	}
	for _, src := range s.m.Sources {
		types := make(map[string]spec.DataType, len(s.res.Columns[src]))
		for _, c := range s.res.Columns[src] {
			types[c] = s.types[colKey{src, c}]
		}
		f.Types[src] = types

		for i := 1; i <= n; i++ {
			row := make(sqlexpr.Row, len(s.res.Columns[src]))
			for _, c := range s.res.Columns[src] {
				key := colKey{src, c}
				if pin, ok := pins[key]; ok {
					row[c] = pin(i)
					continue
				}
				row[c] = s.value(key, i)
			}
			if err := s.satisfy(src, row, pins); err != nil {
				return nil, err
			}
			f.Sources[src] = append(f.Sources[src], row)
		}
	}

	out, err := s.replay.run(f.Sources)
	if err != nil {
		return nil, err
	}
	f.Expected = out
	return f, nil
}

// value is the default value of a source column for entity i.
func (s *synth) value(k colKey, i int) sqlexpr.Value {
	t := s.types[k]
	if _, ok := s.classes[k]; ok {
		if t == spec.TypeString {
			return fmt.Sprintf("K%03d", i)
		}
		return typed(t, i)
	}
	if t == spec.TypeString {
		if s.messy[k] {
			return "  " + s.title.String(k.column) + "_" + strconv.Itoa(i) + " "
		}
		return k.column + "_" + strconv.Itoa(i)
	}
	return typed(t, i)
}

func typed(t spec.DataType, i int) sqlexpr.Value {
	switch t {
	case spec.TypeInt64:
		return int64(i)
	case spec.TypeFloat64, spec.TypeNumeric:
		return float64(i) + 0.5
	case spec.TypeBool:
		return i%2 == 1
	case spec.TypeDate:
		return fmt.Sprintf("2024-01-%02d", (i-1)%28+1)
	case spec.TypeDatetime, spec.TypeTimestamp:
		return fmt.Sprintf("2024-01-%02d 08:30:00", (i-1)%28+1)
	case spec.TypeTime:
		return fmt.Sprintf("08:%02d:00", i%60)
	case spec.TypeJSON:
		return fmt.Sprintf(`{"id": %d}`, i)
	}
	return "v" + strconv.Itoa(i)
}

// satisfy adjusts unpinned columns of row until every filter of src holds.
func (s *synth) satisfy(src string, row sqlexpr.Row, pins override) error {
	ok, err := s.replay.keep(src, row)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	for _, c := range s.res.Columns[src] {
		key := colKey{src, c}
		if _, pinned := pins[key]; pinned {
			continue
		}
		if _, isKey := s.classes[key]; isKey {
			continue
		}
		orig := row[c]
		for _, cand := range candidates(s.literals[key]) {
			row[c] = cand
			ok, err := s.replay.keep(src, row)
			if err == nil && ok {
				return nil
			}
		}
		row[c] = orig
	}
	return fmt.Errorf("%w on %s", errUnsatisfiable, src)
}

func candidates(lits []sqlexpr.Value) []sqlexpr.Value {
	var out []sqlexpr.Value
	for _, v := range lits {
		out = append(out, v)
		switch x := v.(type) {
		case int64:
			out = append(out, x+1, x-1)
		case float64:
			out = append(out, x+1, x-1)
		case bool:
			out = append(out, !x)
		case string:
			out = append(out, x+"_other")
		}
	}
	return append(out, nil)
}
