package testgen

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/codegen"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/sqlexpr"
)

// replayer computes a model's output from fixture rows in Go, following the
// compiled query: filters per source, the join chain, transforms, then
// grouping.
type replayer struct {
	m        *spec.ModelSpec
	filters  map[string][]sqlexpr.Expr
	joins    []sqlexpr.Expr
	values   []sqlexpr.Expr
	formulas []sqlexpr.Expr
}

func newReplayer(m *spec.ModelSpec, res *codegen.Resolved) (*replayer, error) {
	r := &replayer{m: m, filters: make(map[string][]sqlexpr.Expr)}
	for _, f := range m.Filters {
		e, err := sqlexpr.Parse(f.Predicate)
		if err != nil {
			return nil, fmt.Errorf("filter on %s: %w", f.AppliesTo, err)
		}
		r.filters[f.AppliesTo] = append(r.filters[f.AppliesTo], e)
	}
	for _, j := range m.Joins {
		e, err := sqlexpr.Parse(j.Condition)
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", j.RightTable, err)
		}
		r.joins = append(r.joins, e)
	}
	for i, v := range res.Values {
		e, err := sqlexpr.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", m.Columns[i].TargetColumn, err)
		}
		r.values = append(r.values, e)
	}
	for _, a := range m.Aggregations {
		e, err := sqlexpr.Parse(a.Formula)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", a.MetricColumn, err)
		}
		r.formulas = append(r.formulas, e)
	}
	return r, nil
}

// keep reports whether row passes every filter of source.
func (r *replayer) keep(source string, row sqlexpr.Row) (bool, error) {
	for _, f := range r.filters[source] {
		v, err := sqlexpr.Eval(f, row)
		if err != nil {
			return false, err
		}
		if !sqlexpr.Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// run replays the model over per-source rows and returns output rows.
func (r *replayer) run(sources map[string][]sqlexpr.Row) ([]sqlexpr.Row, error) {
	filtered := make(map[string][]sqlexpr.Row, len(sources))
	for _, s := range r.m.Sources {
		for _, row := range sources[s] {
			ok, err := r.keep(s, row)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered[s] = append(filtered[s], row)
			}
		}
	}

	joined, err := r.join(filtered)
	if err != nil {
		return nil, err
	}

	transformed := make([]sqlexpr.Row, 0, len(joined))
	for _, env := range joined {
		out := make(sqlexpr.Row, len(r.values))
		for i, e := range r.values {
			v, err := sqlexpr.Eval(e, env)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", r.m.Columns[i].TargetColumn, err)
			}
			out[r.m.Columns[i].TargetColumn] = v
		}
		transformed = append(transformed, out)
	}

	if !r.m.IsAggregated() {
		return transformed, nil
	}
	return r.aggregate(transformed)
}

func (r *replayer) join(filtered map[string][]sqlexpr.Row) ([]*sqlexpr.TableRows, error) {
	m := r.m
	if len(m.Joins) == 0 {
		s := m.Sources[0]
		out := make([]*sqlexpr.TableRows, 0, len(filtered[s]))
		for _, row := range filtered[s] {
			out = append(out, &sqlexpr.TableRows{Order: []string{s}, Tables: map[string]sqlexpr.Row{s: row}})
		}
		return out, nil
	}

	first := m.Joins[0].LeftTable
	order := []string{first}
	var current []*sqlexpr.TableRows
	for _, row := range filtered[first] {
		current = append(current, &sqlexpr.TableRows{Order: []string{first}, Tables: map[string]sqlexpr.Row{first: row}})
	}

	for i, j := range m.Joins {
		right := filtered[j.RightTable]
		order = append(slices.Clone(order), j.RightTable)
		matchedRight := make([]bool, len(right))
		var next []*sqlexpr.TableRows

		for _, left := range current {
			matched := false
			for k, rrow := range right {
				env := extend(left, order, j.RightTable, rrow)
				v, err := sqlexpr.Eval(r.joins[i], env)
				if err != nil {
					return nil, fmt.Errorf("join %s: %w", j.RightTable, err)
				}
				if !sqlexpr.Truthy(v) {
					continue
				}
				matched = true
				matchedRight[k] = true
				next = append(next, env)
			}
			if !matched && (j.Kind == spec.JoinLeft || j.Kind == spec.JoinFull) {
				next = append(next, extend(left, order, j.RightTable, nil))
			}
		}
		if j.Kind == spec.JoinRight || j.Kind == spec.JoinFull {
			for k, rrow := range right {
				if matchedRight[k] {
					continue
				}
				env := &sqlexpr.TableRows{Order: order, Tables: map[string]sqlexpr.Row{}}
				for _, t := range order[:len(order)-1] {
					env.Tables[t] = nil
				}
				env.Tables[j.RightTable] = rrow
				next = append(next, env)
			}
		}
		current = next
	}
	return current, nil
}

func extend(left *sqlexpr.TableRows, order []string, table string, row sqlexpr.Row) *sqlexpr.TableRows {
	tables := make(map[string]sqlexpr.Row, len(left.Tables)+1)
	for k, v := range left.Tables {
		tables[k] = v
	}
	tables[table] = row
	return &sqlexpr.TableRows{Order: order, Tables: tables}
}

func (r *replayer) aggregate(rows []sqlexpr.Row) ([]sqlexpr.Row, error) {
	m := r.m
	var keys []string
	groups := make(map[string][]sqlexpr.Env)
	for _, row := range rows {
		parts := make([]string, len(m.GroupBy))
		for i, k := range m.GroupBy {
			parts[i] = valueKey(row[k])
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], row)
	}
	if len(m.GroupBy) == 0 && len(keys) == 0 {
		keys = []string{""}
	}

	out := make([]sqlexpr.Row, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		res := make(sqlexpr.Row, len(m.GroupBy)+len(m.Aggregations))
		if len(group) > 0 {
			first := group[0].(sqlexpr.Row)
			for _, k := range m.GroupBy {
				res[k] = first[k]
			}
		}
		for i, f := range r.formulas {
			v, err := sqlexpr.EvalAggregate(f, group)
			if err != nil {
				return nil, fmt.Errorf("metric %s: %w", m.Aggregations[i].MetricColumn, err)
			}
			res[m.Aggregations[i].MetricColumn] = v
		}
		out = append(out, res)
	}
	return out, nil
}
