package reqdoc

import (
	"html"
	"regexp"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// ConvertHTML converts an exported HTML document (for example a wiki page)
// into markdown with pipe tables, ready for Parse. Entities the converter
// leaves in cell text (&gt;, &lt;, &amp;) are decoded so predicates and
// transforms keep their operators.
func ConvertHTML(doc string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(doc)
	if err != nil {
		return "", err
	}
	return unescapeMarkdown(html.UnescapeString(md)), nil
}

// Escaped pipes are kept since they are significant inside table cells.
var markdownEscape = regexp.MustCompile("\\\\([_*\\[\\]#<>&=+.!`~-])")

func unescapeMarkdown(s string) string {
	return markdownEscape.ReplaceAllString(s, "$1")
}
