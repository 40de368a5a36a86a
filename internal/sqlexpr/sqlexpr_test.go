package sqlexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("LOWER(TRIM({from})) || 'it''s' -- note\n<> `odd col`")

	var types []TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []TokenType{
		TokenIdent, TokenLParen, TokenIdent, TokenLParen, TokenPlaceholder, TokenRParen, TokenRParen,
		TokenConcat, TokenString, TokenNE, TokenIdent, TokenEOF,
	}, types)
	assert.Equal(t, "from", tokens[4].Literal)
	assert.Equal(t, "it's", tokens[8].Literal)
	assert.Equal(t, "odd col", tokens[10].Literal)
	assert.True(t, tokens[10].Quoted)
}

func TestTokenize_Illegal(t *testing.T) {
	for _, in := range []string{"'open", "{from", "a ! b", "{}"} {
		tokens := Tokenize(in)
		found := false
		for _, tok := range tokens {
			if tok.Type == TokenIllegal {
				found = true
			}
		}
		assert.True(t, found, in)
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name         string
		expr         string
		columns      []string
		placeholders []string
	}{
		{
			name:         "placeholder transform",
			expr:         "LOWER(TRIM({from}))",
			placeholders: []string{"from"},
		},
		{
			name:    "qualified and unqualified",
			expr:    "crm_customers.first_name || ' ' || last_name",
			columns: []string{"crm_customers.first_name", "last_name"},
		},
		{
			name:    "keywords and functions are not columns",
			expr:    "CAST(amount AS NUMERIC) > 0 AND created_at >= DATE '2024-01-01' AND updated_at < CURRENT_DATE",
			columns: []string{"amount", "created_at", "updated_at"},
		},
		{
			name:    "interval and extract",
			expr:    "EXTRACT(YEAR FROM o.ordered_at) = 2024 OR o.ordered_at > TIMESTAMP_SUB(now_ts, INTERVAL 7 DAY)",
			columns: []string{"o.ordered_at", "o.ordered_at", "now_ts"},
		},
		{
			name:    "schema qualified function",
			expr:    "SAFE.PARSE_DATE('%Y', raw.year_text)",
			columns: []string{"raw.year_text"},
		},
		{
			name:    "strings are opaque",
			expr:    "status IN ('a.b', 'c')",
			columns: []string{"status"},
		},
		{
			name:    "struct field access keeps the column",
			expr:    "events.payload.user_id IS NOT NULL",
			columns: []string{"events.payload"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Analyze(tt.expr)
			require.NoError(t, err)
			var cols []string
			for _, c := range a.Columns {
				cols = append(cols, c.Qualified())
			}
			assert.Equal(t, tt.columns, cols)
			assert.Equal(t, tt.placeholders, a.Placeholders)
		})
	}
}

func TestAnalyze_Invalid(t *testing.T) {
	_, err := Analyze("LOWER('unterminated)")
	assert.Error(t, err)
}

func TestSubstitute(t *testing.T) {
	out, err := Substitute("LOWER(TRIM({from})) || '{from}'", map[string]string{"from": "c.email"})
	require.NoError(t, err)
	assert.Equal(t, "LOWER(TRIM(c.email)) || '{from}'", out)

	_, err = Substitute("{source}.x", map[string]string{"from": "c.email"})
	assert.ErrorContains(t, err, "unknown placeholder {source}")
}

func TestRewriteColumns(t *testing.T) {
	out, err := RewriteColumns("COALESCE(a.x, b.y,  z) + 1", func(ref ColumnRef) (string, bool) {
		if ref.Table == "" {
			return "a__" + ref.Column, true
		}
		return ref.Table + "__" + ref.Column, true
	})
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(a__x, b__y,  a__z) + 1", out)
}

func TestEquiPairs(t *testing.T) {
	pairs := EquiPairs("o.customer_id = c.id AND (o.region = c.region) AND o.amount > 0")
	require.Len(t, pairs, 2)
	assert.Equal(t, "o.customer_id", pairs[0][0].Qualified())
	assert.Equal(t, "c.id", pairs[0][1].Qualified())
	assert.Equal(t, "c.region", pairs[1][1].Qualified())

	assert.Empty(t, EquiPairs("o.id = c.id + 1"))
}

func TestEval(t *testing.T) {
	env := &TableRows{
		Order: []string{"c", "a"},
		Tables: map[string]Row{
			"c": {"email": "  Alice@Example.COM ", "id": int64(7), "score": 2.5, "status": "active"},
			"a": nil,
		},
	}

	tests := []struct {
		expr string
		want Value
	}{
		{"LOWER(TRIM(c.email))", "alice@example.com"},
		{"UPPER(status)", "ACTIVE"},
		{"c.id * 2 + 1", int64(15)},
		{"c.id / 2", 3.5},
		{"-c.id", int64(-7)},
		{"CONCAT('#', c.id)", "#7"},
		{"'x' || NULL", nil},
		{"COALESCE(a.country, 'unknown')", "unknown"},
		{"a.country IS NULL", true},
		{"status IN ('active', 'paused')", true},
		{"status NOT IN ('active')", false},
		{"id BETWEEN 1 AND 10 AND score > 2", true},
		{"email LIKE '%Example%'", true},
		{"CASE WHEN c.id > 5 THEN 'big' ELSE 'small' END", "big"},
		{"CASE status WHEN 'active' THEN 1 WHEN 'paused' THEN 2 END", int64(1)},
		{"CAST(c.id AS STRING)", "7"},
		{"SAFE_CAST('abc' AS INT64)", nil},
		{"CAST('12' AS INT64) + 1", int64(13)},
		{"ROUND(score * 3, 1)", 7.5},
		{"NOT (c.id = 7)", false},
		{"NULL = NULL", nil},
		{"SUBSTR('abcdef', 2, 3)", "bcd"},
		{"DATE '2024-01-01'", "2024-01-01"},
		{"IF(c.id > 1, 'y', 'n')", "y"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			got, err := Eval(e, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	e, err := Parse("MD5(x)")
	require.NoError(t, err)
	_, err = Eval(e, Row{"x": "a"})
	assert.ErrorIs(t, err, ErrUnsupported)

	e, err = Parse("missing + 1")
	require.NoError(t, err)
	_, err = Eval(e, Row{})
	assert.ErrorContains(t, err, "unknown column missing")

	e, err = Parse("SUM(x)")
	require.NoError(t, err)
	_, err = Eval(e, Row{"x": int64(1)})
	assert.ErrorContains(t, err, "outside of a group")
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"(a", "CASE END", "CAST(a)", "a +", "a b"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestEvalAggregate(t *testing.T) {
	group := []Env{
		Row{"amount": int64(10), "customer_id": int64(1), "region": "eu"},
		Row{"amount": int64(20), "customer_id": int64(1), "region": "eu"},
		Row{"amount": int64(30), "customer_id": int64(2), "region": "eu"},
		Row{"amount": nil, "customer_id": int64(3), "region": "eu"},
	}

	tests := []struct {
		expr string
		want Value
	}{
		{"SUM(amount)", int64(60)},
		{"AVG(amount)", 20.0},
		{"COUNT(*)", int64(4)},
		{"COUNT(amount)", int64(3)},
		{"COUNT(DISTINCT customer_id)", int64(3)},
		{"MIN(amount)", int64(10)},
		{"MAX(amount)", int64(30)},
		{"SUM(amount) / COUNT(*)", 15.0},
		{"COUNTIF(amount > 15)", int64(2)},
		{"region", "eu"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			got, err := EvalAggregate(e, group)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(int64(2), 2.0))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, "x"))
	assert.False(t, Equal("2", int64(2)))
}
