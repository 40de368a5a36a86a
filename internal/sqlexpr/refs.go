package sqlexpr

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ColumnRef is a column reference found in an expression.
type ColumnRef struct {
	Table  string // empty for unqualified references
	Column string
	Pos    int
	End    int
}

// Qualified renders the reference as table.column.
func (r ColumnRef) Qualified() string {
	if r.Table == "" {
		return r.Column
	}
	return r.Table + "." + r.Column
}

// Analysis is the reference structure of one expression.
type Analysis struct {
	Columns      []ColumnRef
	Placeholders []string
}

// Tables returns the distinct qualifiers in first-seen order.
func (a *Analysis) Tables() []string {
	var tables []string
	for _, c := range a.Columns {
		if c.Table != "" && !slices.Contains(tables, c.Table) {
			tables = append(tables, c.Table)
		}
	}
	return tables
}

// Unqualified returns references without a table qualifier.
func (a *Analysis) Unqualified() []ColumnRef {
	var refs []ColumnRef
	for _, c := range a.Columns {
		if c.Table == "" {
			refs = append(refs, c)
		}
	}
	return refs
}

var niladic = map[string]bool{
	"current_date":      true,
	"current_datetime":  true,
	"current_time":      true,
	"current_timestamp": true,
	"current_user":      true,
}

// Analyze finds column references and placeholders in expr.
//
// An identifier is not a column when it names a function (followed by "("),
// a type (after AS), a date part (after INTERVAL n, or before FROM inside
// EXTRACT), a typed literal prefix (followed by a string) or a niladic
// function such as CURRENT_DATE.
func Analyze(expr string) (*Analysis, error) {
	tokens := Tokenize(expr)
	a := &Analysis{}

	at := func(i int) Token {
		if i < 0 || i >= len(tokens) {
			return Token{Type: TokenEOF}
		}
		return tokens[i]
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case TokenIllegal:
			return nil, fmt.Errorf("invalid token %q at offset %d", tok.Literal, tok.Pos)
		case TokenPlaceholder:
			if !slices.Contains(a.Placeholders, tok.Literal) {
				a.Placeholders = append(a.Placeholders, tok.Literal)
			}
			continue
		case TokenIdent:
		default:
			continue
		}

		next := at(i + 1)
		switch {
		case next.Type == TokenLParen:
			continue
		case next.Type == TokenString:
			continue
		case next.Type == TokenFrom:
			continue
		case at(i-1).Type == TokenAs:
			continue
		case at(i-2).Type == TokenInterval:
			continue
		case at(i-1).Type == TokenDot:
			continue
		case !tok.Quoted && niladic[strings.ToLower(tok.Literal)]:
			continue
		}

		if next.Type == TokenDot && at(i+2).Type == TokenIdent {
			col := at(i + 2)
			if at(i+3).Type == TokenLParen {
				// schema-qualified function such as SAFE.PARSE_DATE(...)
				i += 2
				continue
			}
			a.Columns = append(a.Columns, ColumnRef{Table: tok.Literal, Column: col.Literal, Pos: tok.Pos, End: col.End})
			i += 2
			// skip trailing struct field access
			for at(i+1).Type == TokenDot && at(i+2).Type == TokenIdent {
				i += 2
			}
			continue
		}
		a.Columns = append(a.Columns, ColumnRef{Column: tok.Literal, Pos: tok.Pos, End: tok.End})
	}
	return a, nil
}

type edit struct {
	pos, end int
	text     string
}

func applyEdits(expr string, edits []edit) string {
	sort.Slice(edits, func(i, j int) bool { return edits[i].pos < edits[j].pos })
	var b strings.Builder
	last := 0
	for _, e := range edits {
		b.WriteString(expr[last:e.pos])
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(expr[last:])
	return b.String()
}

// Substitute replaces {name} placeholders with values. A placeholder with no
// value is an error. Text outside placeholders is kept byte for byte.
func Substitute(expr string, values map[string]string) (string, error) {
	var edits []edit
	for _, tok := range Tokenize(expr) {
		switch tok.Type {
		case TokenIllegal:
			return "", fmt.Errorf("invalid token %q at offset %d", tok.Literal, tok.Pos)
		case TokenPlaceholder:
			v, ok := values[tok.Literal]
			if !ok {
				return "", fmt.Errorf("unknown placeholder {%s}", tok.Literal)
			}
			edits = append(edits, edit{pos: tok.Pos, end: tok.End, text: v})
		}
	}
	return applyEdits(expr, edits), nil
}

// RewriteColumns replaces column references. fn returns the replacement text
// and whether to replace. Everything else is kept byte for byte.
func RewriteColumns(expr string, fn func(ColumnRef) (string, bool)) (string, error) {
	a, err := Analyze(expr)
	if err != nil {
		return "", err
	}
	var edits []edit
	for _, ref := range a.Columns {
		if text, ok := fn(ref); ok {
			edits = append(edits, edit{pos: ref.Pos, end: ref.End, text: text})
		}
	}
	return applyEdits(expr, edits), nil
}

// EquiPairs returns the column pairs compared with = in a condition made of
// AND-ed terms, e.g. a.id = b.a_id AND a.region = b.region.
func EquiPairs(condition string) [][2]ColumnRef {
	tokens := Tokenize(condition)
	var pairs [][2]ColumnRef

	readRef := func(i int) (ColumnRef, int, bool) {
		if i+2 < len(tokens) && tokens[i].Type == TokenIdent && tokens[i+1].Type == TokenDot && tokens[i+2].Type == TokenIdent {
			return ColumnRef{Table: tokens[i].Literal, Column: tokens[i+2].Literal}, i + 3, true
		}
		return ColumnRef{}, i, false
	}

	for i := 0; i < len(tokens); i++ {
		left, j, ok := readRef(i)
		if !ok || j >= len(tokens) || tokens[j].Type != TokenEQ {
			continue
		}
		right, k, ok := readRef(j + 1)
		if !ok {
			continue
		}
		if k < len(tokens) && tokens[k].Type != TokenAnd && tokens[k].Type != TokenEOF && tokens[k].Type != TokenRParen {
			continue
		}
		if i > 0 && tokens[i-1].Type != TokenAnd && tokens[i-1].Type != TokenLParen {
			continue
		}
		pairs = append(pairs, [2]ColumnRef{left, right})
		i = k - 1
	}
	return pairs
}
