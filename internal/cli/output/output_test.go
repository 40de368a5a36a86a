package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTest(mode OutputMode, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, tty, mode), out, errOut
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		mode OutputMode
		tty  bool
		want OutputMode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
		{ModeMarkdown, true, ModeMarkdown},
	}
	for _, tt := range tests {
		r, _, _ := newTest(tt.mode, tt.tty)
		assert.Equal(t, tt.want, r.EffectiveMode(), "mode=%q tty=%v", tt.mode, tt.tty)
	}
}

func TestMarkdownOutput(t *testing.T) {
	r, out, errOut := newTest(ModeAuto, false)

	r.Header(1, "Plan")
	r.Success("done")
	r.StatusLine("stg_orders.sqlx", "success", "")
	r.StatusLine("tests/x_test.sql", "skipped", "no tests")
	r.Warning("careful")
	r.Error("broken")

	assert.Equal(t, "# Plan\n\n**done**\n- stg_orders.sqlx: success\n- tests/x_test.sql: skipped (no tests)\n", out.String())
	assert.Equal(t, "Warning: careful\nError: broken\n", errOut.String())
}

func TestTextOutput_NoANSIWithoutTTY(t *testing.T) {
	r, out, _ := newTest(ModeText, false)
	r.Header(2, "Models")
	r.StatusLine("a.sql", "skipped", "")
	assert.NotContains(t, out.String(), "\x1b[")
	assert.Contains(t, out.String(), "Models\n")
	assert.Contains(t, out.String(), "- a.sql Skipped")
}

func TestTable(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTest(ModeMarkdown, false)
		r.Table([]string{"name", "extension"}, [][]string{{"dbt", ".sql"}, {"dataform", ".sqlx"}})
		assert.Contains(t, out.String(), "| name | extension |")
		assert.Contains(t, out.String(), "| dataform | .sqlx |")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTest(ModeText, false)
		r.Table([]string{"name"}, [][]string{{"dbt"}})
		assert.Contains(t, out.String(), "│ name │")
		assert.Contains(t, out.String(), "│ dbt  │")
	})
}

func TestJSON(t *testing.T) {
	r, out, _ := newTest(ModeJSON, false)
	require.NoError(t, r.JSON(map[string]int{"models": 3}))
	assert.Equal(t, "{\n  \"models\": 3\n}\n", out.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "## Summary", FormatHeader(2, "Summary"))
	assert.Equal(t, "# X", FormatHeader(0, "X"))
	assert.Equal(t, "- **Models:** 3", FormatKeyValue("Models", "3"))
}
