package testgen

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/sqlexpr"
)

// Kind identifies what a test case asserts.
type Kind string

// Test kinds.
const (
	KindNotNull        Kind = spec.TestNotNull
	KindUnique         Kind = spec.TestUnique
	KindAcceptedValues Kind = spec.TestAcceptedValues
	KindPrimaryKey     Kind = spec.TestPrimaryKey
	KindAggregate      Kind = spec.TestAggregate
)

// Assertion is a check over model output rows. It is evaluable in Go and
// renderable as SQL returning a failures count.
type Assertion struct {
	Kind    Kind
	Columns []string
	// Values is the accepted set of an accepted_values assertion.
	Values []string
	// Expected holds the replayed output of an aggregate assertion.
	Expected []sqlexpr.Row
}

// Failures counts violations in rows. Zero means the assertion passes.
func (a *Assertion) Failures(rows []sqlexpr.Row) int {
	switch a.Kind {
	case KindNotNull:
		n := 0
		for _, r := range rows {
			if r[a.Columns[0]] == nil {
				n++
			}
		}
		return n
	case KindUnique, KindPrimaryKey:
		return duplicateGroups(rows, a.Columns, a.Kind == KindPrimaryKey)
	case KindAcceptedValues:
		n := 0
		for _, r := range rows {
			v := r[a.Columns[0]]
			if v != nil && !accepted(v, a.Values) {
				n++
			}
		}
		return n
	case KindAggregate:
		return unmatched(a.Expected, rows, a.Columns) + unmatched(rows, a.Expected, a.Columns)
	}
	return 0
}

// duplicateGroups counts keys seen more than once. Rows with a NULL key are
// skipped for unique and count as failures for primary keys.
func duplicateGroups(rows []sqlexpr.Row, cols []string, nullFails bool) int {
	counts := make(map[string]int, len(rows))
	nulls := 0
	for _, r := range rows {
		parts := make([]string, len(cols))
		hasNull := false
		for i, c := range cols {
			if r[c] == nil {
				hasNull = true
			}
			parts[i] = valueKey(r[c])
		}
		if hasNull {
			nulls++
			continue
		}
		counts[strings.Join(parts, "\x1f")]++
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n++
		}
	}
	if nullFails {
		n += nulls
	}
	return n
}

// unmatched counts rows of want that have no equal row in got, matching
// rows at most once.
func unmatched(want, got []sqlexpr.Row, cols []string) int {
	used := make([]bool, len(got))
	n := 0
	for _, w := range want {
		found := false
		for i, g := range got {
			if used[i] || !rowsEqual(w, g, cols) {
				continue
			}
			used[i] = true
			found = true
			break
		}
		if !found {
			n++
		}
	}
	return n
}

func rowsEqual(a, b sqlexpr.Row, cols []string) bool {
	for _, c := range cols {
		if !valuesEqual(a[c], b[c]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b sqlexpr.Value) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok || bok {
		if !aok {
			af, aok = asFloat(a)
		}
		if !bok {
			bf, bok = asFloat(b)
		}
		return aok && bok && math.Abs(af-bf) <= 1e-9*math.Max(1, math.Abs(af))
	}
	return sqlexpr.Equal(a, b)
}

func asFloat(v sqlexpr.Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func accepted(v sqlexpr.Value, values []string) bool {
	s := valueString(v)
	for _, a := range values {
		if a == s {
			return true
		}
	}
	return false
}

func valueKey(v sqlexpr.Value) string {
	return fmt.Sprintf("%T:%s", v, valueString(v))
}

func valueString(v sqlexpr.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// SQL renders the assertion as a query over relation returning one row with
// a failures column.
func (a *Assertion) SQL(relation string, quote func(string) string) string {
	cols := make([]string, len(a.Columns))
	for i, c := range a.Columns {
		cols[i] = quote(c)
	}
	switch a.Kind {
	case KindNotNull:
		return fmt.Sprintf("SELECT COUNT(*) AS failures\nFROM %s\nWHERE %s IS NULL", relation, cols[0])
	case KindUnique:
		return fmt.Sprintf("SELECT COUNT(*) AS failures\nFROM (\n  SELECT %s\n  FROM %s\n  WHERE %s IS NOT NULL\n  GROUP BY %s\n  HAVING COUNT(*) > 1\n) AS duplicates",
			cols[0], relation, cols[0], cols[0])
	case KindPrimaryKey:
		keys := strings.Join(cols, ", ")
		nulls := make([]string, len(cols))
		for i, c := range cols {
			nulls[i] = c + " IS NULL"
		}
		return fmt.Sprintf("SELECT\n  (SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS duplicates)\n  + (SELECT COUNT(*) FROM %s WHERE %s) AS failures",
			keys, relation, keys, relation, strings.Join(nulls, " OR "))
	case KindAcceptedValues:
		vals := make([]string, len(a.Values))
		for i, v := range a.Values {
			vals[i] = quoteString(v)
		}
		return fmt.Sprintf("SELECT COUNT(*) AS failures\nFROM %s\nWHERE %s IS NOT NULL\n  AND CAST(%s AS STRING) NOT IN (%s)",
			relation, cols[0], cols[0], strings.Join(vals, ", "))
	case KindAggregate:
		keys := strings.Join(cols, ", ")
		return fmt.Sprintf("SELECT COUNT(*) AS failures\nFROM (\n  (SELECT %s FROM expected_output EXCEPT DISTINCT SELECT %s FROM %s)\n  UNION ALL\n  (SELECT %s FROM %s EXCEPT DISTINCT SELECT %s FROM expected_output)\n) AS mismatches",
			keys, keys, relation, keys, relation, keys)
	}
	return ""
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
