package engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// markdownConverter sanitizes HTML and converts it to CommonMark with tables.
type markdownConverter struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newMarkdownConverter() *markdownConverter {
	return &markdownConverter{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
				strikethrough.NewStrikethroughPlugin(),
			),
		),
	}
}

// Convert returns "" for input with no content left after sanitizing.
func (m *markdownConverter) Convert(html string, page *url.URL) (string, error) {
	clean := m.policy.Sanitize(html)
	if strings.TrimSpace(clean) == "" {
		return "", nil
	}
	out, err := m.conv.ConvertString(clean, converter.WithDomain(page.String()))
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
