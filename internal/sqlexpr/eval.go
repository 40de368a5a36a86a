package sqlexpr

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Value is an evaluated SQL value: nil, string, int64, float64 or bool.
type Value = any

// ErrUnsupported is returned when an expression uses a construct the
// evaluator does not implement. Callers treat such expressions as opaque.
var ErrUnsupported = errors.New("unsupported expression")

// Env resolves column references during evaluation.
type Env interface {
	Lookup(table, column string) (Value, bool)
}

// Row is an Env over unqualified column names.
type Row map[string]Value

// Lookup implements Env. The table qualifier is ignored.
func (r Row) Lookup(_, column string) (Value, bool) {
	v, ok := r[column]
	return v, ok
}

// TableRows is an Env keyed by table then column. Unqualified lookups search
// tables in declaration order.
type TableRows struct {
	Order  []string
	Tables map[string]Row
}

// Lookup implements Env.
func (t *TableRows) Lookup(table, column string) (Value, bool) {
	if table != "" {
		row, ok := t.Tables[table]
		if !ok {
			return nil, false
		}
		if row == nil {
			// table present but unmatched by an outer join
			return nil, true
		}
		v, ok := row[column]
		return v, ok
	}
	for _, name := range t.Order {
		if row := t.Tables[name]; row != nil {
			if v, ok := row[column]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// Eval evaluates a scalar expression against env. Placeholders must have been
// substituted before parsing.
func Eval(e Expr, env Env) (Value, error) {
	return (&evaluator{env: env}).eval(e)
}

// EvalAggregate evaluates an expression over a group of rows. Aggregate calls
// reduce over the group; other references read the first row.
func EvalAggregate(e Expr, group []Env) (Value, error) {
	ev := &evaluator{group: group}
	if len(group) > 0 {
		ev.env = group[0]
	} else {
		ev.env = Row{}
	}
	ev.grouped = true
	return ev.eval(e)
}

// Truthy reports whether v is SQL TRUE. NULL is not.
func Truthy(v Value) bool {
	b, ok := v.(bool)
	return ok && b
}

type evaluator struct {
	env     Env
	group   []Env
	grouped bool
}

func (ev *evaluator) eval(e Expr) (Value, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil
	case *Column:
		v, ok := ev.env.Lookup(n.Table, n.Name)
		if !ok {
			return nil, fmt.Errorf("unknown column %s", (&ColumnRef{Table: n.Table, Column: n.Name}).Qualified())
		}
		return v, nil
	case *Placeholder:
		return nil, fmt.Errorf("unsubstituted placeholder {%s}", n.Name)
	case *Unary:
		x, err := ev.eval(n.X)
		if err != nil || x == nil {
			return nil, err
		}
		if n.Op == TokenNot {
			b, ok := x.(bool)
			if !ok {
				return nil, fmt.Errorf("NOT applied to %T", x)
			}
			return !b, nil
		}
		return arith(TokenStar, x, int64(-1))
	case *Binary:
		return ev.binary(n)
	case *Call:
		return ev.call(n)
	case *Cast:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		v, err := castValue(x, n.Type)
		if err != nil && n.Safe {
			return nil, nil
		}
		return v, err
	case *Case:
		return ev.caseExpr(n)
	case *IsNull:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		return (x == nil) != n.Not, nil
	case *In:
		x, err := ev.eval(n.X)
		if err != nil || x == nil {
			return nil, err
		}
		sawNull := false
		for _, item := range n.List {
			v, err := ev.eval(item)
			if err != nil {
				return nil, err
			}
			if v == nil {
				sawNull = true
				continue
			}
			if c, ok := compare(x, v); ok && c == 0 {
				return !n.Not, nil
			}
		}
		if sawNull {
			return nil, nil
		}
		return n.Not, nil
	case *Between:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		lo, err := ev.eval(n.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := ev.eval(n.Hi)
		if err != nil {
			return nil, err
		}
		if x == nil || lo == nil || hi == nil {
			return nil, nil
		}
		c1, ok1 := compare(x, lo)
		c2, ok2 := compare(x, hi)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("cannot compare %T in BETWEEN", x)
		}
		return (c1 >= 0 && c2 <= 0) != n.Not, nil
	case *Like:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		pat, err := ev.eval(n.Pattern)
		if err != nil {
			return nil, err
		}
		if x == nil || pat == nil {
			return nil, nil
		}
		re, err := likePattern(toString(pat))
		if err != nil {
			return nil, err
		}
		return re.MatchString(toString(x)) != n.Not, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, e)
}

func (ev *evaluator) binary(n *Binary) (Value, error) {
	l, err := ev.eval(n.L)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case TokenAnd, TokenOr:
		r, err := ev.eval(n.R)
		if err != nil {
			return nil, err
		}
		return logic(n.Op, l, r)
	}
	r, err := ev.eval(n.R)
	if err != nil {
		return nil, err
	}
	if l == nil || r == nil {
		return nil, nil
	}
	switch n.Op {
	case TokenConcat:
		return toString(l) + toString(r), nil
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent:
		return arith(n.Op, l, r)
	case TokenEQ, TokenNE, TokenLT, TokenGT, TokenLE, TokenGE:
		c, ok := compare(l, r)
		if !ok {
			return nil, fmt.Errorf("cannot compare %T with %T", l, r)
		}
		switch n.Op {
		case TokenEQ:
			return c == 0, nil
		case TokenNE:
			return c != 0, nil
		case TokenLT:
			return c < 0, nil
		case TokenGT:
			return c > 0, nil
		case TokenLE:
			return c <= 0, nil
		default:
			return c >= 0, nil
		}
	}
	return nil, fmt.Errorf("%w: operator %v", ErrUnsupported, n.Op)
}

func logic(op TokenType, l, r Value) (Value, error) {
	lb, lok := l.(bool)
	rb, rok := r.(bool)
	if (l != nil && !lok) || (r != nil && !rok) {
		return nil, fmt.Errorf("logical operator on non-boolean")
	}
	if op == TokenAnd {
		switch {
		case lok && !lb, rok && !rb:
			return false, nil
		case l == nil || r == nil:
			return nil, nil
		}
		return true, nil
	}
	switch {
	case lok && lb, rok && rb:
		return true, nil
	case l == nil || r == nil:
		return nil, nil
	}
	return false, nil
}

func (ev *evaluator) caseExpr(n *Case) (Value, error) {
	var operand Value
	if n.Operand != nil {
		v, err := ev.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		operand = v
	}
	for _, w := range n.Whens {
		cond, err := ev.eval(w.Cond)
		if err != nil {
			return nil, err
		}
		matched := Truthy(cond)
		if n.Operand != nil {
			c, ok := compare(operand, cond)
			matched = operand != nil && cond != nil && ok && c == 0
		}
		if matched {
			return ev.eval(w.Result)
		}
	}
	if n.Else != nil {
		return ev.eval(n.Else)
	}
	return nil, nil
}

var aggregates = map[string]bool{
	"SUM": true, "COUNT": true, "AVG": true, "MIN": true, "MAX": true,
	"COUNTIF": true, "ANY_VALUE": true,
}

// IsAggregate reports whether name is an aggregate function the evaluator replays.
func IsAggregate(name string) bool {
	return aggregates[strings.ToUpper(name)]
}

func (ev *evaluator) call(n *Call) (Value, error) {
	if aggregates[n.Name] {
		if !ev.grouped {
			return nil, fmt.Errorf("aggregate %s outside of a group", n.Name)
		}
		return ev.aggregate(n)
	}

	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return callScalar(n.Name, args)
}

func (ev *evaluator) aggregate(n *Call) (Value, error) {
	if n.Star {
		if n.Name != "COUNT" {
			return nil, fmt.Errorf("%s(*) is not valid", n.Name)
		}
		return int64(len(ev.group)), nil
	}
	if len(n.Args) != 1 {
		return nil, fmt.Errorf("%w: %s with %d arguments", ErrUnsupported, n.Name, len(n.Args))
	}

	var values []Value
	seen := make(map[string]bool)
	for _, row := range ev.group {
		v, err := (&evaluator{env: row}).eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if n.Distinct {
			key := fmt.Sprintf("%T:%v", v, v)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		values = append(values, v)
	}

	switch n.Name {
	case "COUNT":
		return int64(len(values)), nil
	case "COUNTIF":
		var count int64
		for _, v := range values {
			if Truthy(v) {
				count++
			}
		}
		return count, nil
	case "ANY_VALUE":
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	case "SUM", "AVG":
		if len(values) == 0 {
			return nil, nil
		}
		var sum Value = int64(0)
		for _, v := range values {
			s, err := arith(TokenPlus, sum, v)
			if err != nil {
				return nil, err
			}
			sum = s
		}
		if n.Name == "SUM" {
			return sum, nil
		}
		f, _ := toFloat(sum)
		return f / float64(len(values)), nil
	case "MIN", "MAX":
		var best Value
		for _, v := range values {
			if best == nil {
				best = v
				continue
			}
			c, ok := compare(v, best)
			if !ok {
				return nil, fmt.Errorf("cannot compare %T with %T", v, best)
			}
			if (n.Name == "MIN" && c < 0) || (n.Name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, fmt.Errorf("%w: aggregate %s", ErrUnsupported, n.Name)
}

func callScalar(name string, args []Value) (Value, error) {
	argc := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d arguments, got %d", name, n, len(args))
		}
		return nil
	}

	switch name {
	case "COALESCE", "IFNULL":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case "CONCAT":
		var b strings.Builder
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
			b.WriteString(toString(a))
		}
		return b.String(), nil
	case "NULLIF":
		if err := argc(2); err != nil {
			return nil, err
		}
		if c, ok := compare(args[0], args[1]); ok && args[0] != nil && args[1] != nil && c == 0 {
			return nil, nil
		}
		return args[0], nil
	case "IF", "IIF":
		if err := argc(3); err != nil {
			return nil, err
		}
		if Truthy(args[0]) {
			return args[1], nil
		}
		return args[2], nil
	case "GREATEST", "LEAST":
		var best Value
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
			if best == nil {
				best = a
				continue
			}
			c, ok := compare(a, best)
			if !ok {
				return nil, fmt.Errorf("cannot compare %T with %T", a, best)
			}
			if (name == "GREATEST" && c > 0) || (name == "LEAST" && c < 0) {
				best = a
			}
		}
		return best, nil
	case "CURRENT_DATE", "CURRENT_TIMESTAMP", "CURRENT_DATETIME", "CURRENT_TIME", "CURRENT_USER":
		return nil, fmt.Errorf("%w: %s is not deterministic", ErrUnsupported, name)
	}

	for _, a := range args {
		if a == nil {
			return nil, nil
		}
	}

	switch name {
	case "LOWER":
		if err := argc(1); err != nil {
			return nil, err
		}
		return strings.ToLower(toString(args[0])), nil
	case "UPPER":
		if err := argc(1); err != nil {
			return nil, err
		}
		return strings.ToUpper(toString(args[0])), nil
	case "TRIM", "LTRIM", "RTRIM":
		cutset := " \t\n\r"
		if len(args) == 2 {
			cutset = toString(args[1])
		} else if err := argc(1); err != nil {
			return nil, err
		}
		s := toString(args[0])
		switch name {
		case "LTRIM":
			return strings.TrimLeft(s, cutset), nil
		case "RTRIM":
			return strings.TrimRight(s, cutset), nil
		}
		return strings.Trim(s, cutset), nil
	case "LENGTH", "CHAR_LENGTH", "LEN":
		if err := argc(1); err != nil {
			return nil, err
		}
		return int64(len([]rune(toString(args[0])))), nil
	case "REPLACE":
		if err := argc(3); err != nil {
			return nil, err
		}
		return strings.ReplaceAll(toString(args[0]), toString(args[1]), toString(args[2])), nil
	case "SUBSTR", "SUBSTRING":
		if len(args) != 2 && len(args) != 3 {
			return nil, fmt.Errorf("%s expects 2 or 3 arguments", name)
		}
		runes := []rune(toString(args[0]))
		start, ok := args[1].(int64)
		if !ok {
			return nil, fmt.Errorf("%s start must be an integer", name)
		}
		from := int(max(start-1, 0))
		if from > len(runes) {
			return "", nil
		}
		to := len(runes)
		if len(args) == 3 {
			n, ok := args[2].(int64)
			if !ok {
				return nil, fmt.Errorf("%s length must be an integer", name)
			}
			to = min(from+int(max(n, 0)), len(runes))
		}
		return string(runes[from:to]), nil
	case "ABS":
		if err := argc(1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case int64:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case float64:
			return math.Abs(v), nil
		}
		return nil, fmt.Errorf("ABS of %T", args[0])
	case "ROUND":
		f, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("ROUND of %T", args[0])
		}
		places := int64(0)
		if len(args) == 2 {
			places, _ = args[1].(int64)
		}
		scale := math.Pow(10, float64(places))
		return math.Round(f*scale) / scale, nil
	case "SAFE_DIVIDE":
		if err := argc(2); err != nil {
			return nil, err
		}
		d, _ := toFloat(args[1])
		if d == 0 {
			return nil, nil
		}
		return arith(TokenSlash, args[0], args[1])
	}
	return nil, fmt.Errorf("%w: function %s", ErrUnsupported, name)
}

func castValue(v Value, typ string) (Value, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case "STRING", "VARCHAR", "TEXT", "CHAR":
		return toString(v), nil
	case "INT64", "INT", "INTEGER", "BIGINT", "SMALLINT":
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(math.Round(x)), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to %s", x, typ)
			}
			return n, nil
		}
	case "FLOAT64", "FLOAT", "DOUBLE", "NUMERIC", "DECIMAL", "BIGNUMERIC", "REAL":
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to %s", s, typ)
			}
			return f, nil
		}
	case "BOOL", "BOOLEAN":
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(x)))
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to %s", x, typ)
			}
			return b, nil
		}
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		// temporal values are carried as their canonical string form
		return toString(v), nil
	}
	return nil, fmt.Errorf("%w: cast of %T to %s", ErrUnsupported, v, typ)
}

func arith(op TokenType, l, r Value) (Value, error) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt && op != TokenSlash {
		switch op {
		case TokenPlus:
			return li + ri, nil
		case TokenMinus:
			return li - ri, nil
		case TokenStar:
			return li * ri, nil
		case TokenPercent:
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return li % ri, nil
		}
	}
	lf, ok1 := toFloat(l)
	rf, ok2 := toFloat(r)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("arithmetic on %T and %T", l, r)
	}
	switch op {
	case TokenPlus:
		return lf + rf, nil
	case TokenMinus:
		return lf - rf, nil
	case TokenStar:
		return lf * rf, nil
	case TokenSlash:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case TokenPercent:
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("%w: operator %v", ErrUnsupported, op)
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toString(v Value) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// compare orders two non-null values of compatible types.
func compare(a, b Value) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// Equal reports whether two values are equal under SQL comparison. NULLs are
// equal to each other here, matching GROUP BY semantics.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, ok := compare(a, b)
	return ok && c == 0
}

func likePattern(p string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
