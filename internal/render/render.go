// Package render turns shared note snapshots into standalone HTML pages.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

// DescriptionMaxChars bounds the meta description derived from note content.
const DescriptionMaxChars = 160

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <meta name="description" content="{{.Description}}">
    <link rel="canonical" href="{{.CanonicalURL}}">
    <meta property="og:title" content="{{.Title}}">
    <meta property="og:description" content="{{.Description}}">
    <meta property="og:url" content="{{.CanonicalURL}}">
    <meta property="og:type" content="article">
    <style>
        :root { --text-color: #1a1a1a; --bg-color: #ffffff; --code-bg: #f5f5f5; --muted: #666; }
        @media (prefers-color-scheme: dark) {
            :root { --text-color: #e0e0e0; --bg-color: #1a1a1a; --code-bg: #2d2d2d; --muted: #999; }
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            line-height: 1.6;
            color: var(--text-color);
            background-color: var(--bg-color);
            max-width: 800px;
            margin: 0 auto;
            padding: 2rem 1rem;
        }
        code { background-color: var(--code-bg); padding: 0.2em 0.4em; border-radius: 3px; }
        pre { background-color: var(--code-bg); padding: 1rem; border-radius: 6px; overflow-x: auto; }
        pre code { background-color: transparent; padding: 0; }
        img { max-width: 100%; height: auto; }
        footer { color: var(--muted); font-size: 0.85em; margin-top: 3em; }
    </style>
</head>
<body>
    <article>
        {{.Content}}
    </article>
    <footer>Version {{.Version}}</footer>
</body>
</html>`

var (
	tmpl   = template.Must(template.New("page").Parse(pageTemplate))
	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Page describes one rendered snapshot.
type Page struct {
	Title        string
	Description  string
	CanonicalURL string
	Version      int64
	Markdown     string
}

type templateData struct {
	Title        string
	Description  string
	CanonicalURL string
	Version      int64
	Content      template.HTML
}

// MarkdownToSafeHTML renders markdown and strips anything outside the UGC policy
// (scripts, event handlers, javascript: links).
func MarkdownToSafeHTML(md string) []byte {
	// Parsers and renderers are single-use.
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})

	unsafe := markdown.ToHTML([]byte(md), p, renderer)

	return policy.SanitizeBytes(unsafe)
}

// RenderPage returns a complete HTML document for a shared snapshot.
func RenderPage(page Page) ([]byte, error) {
	if page.Title == "" {
		page.Title = TitleFromContent(page.Markdown)
	}
	if page.Description == "" {
		page.Description = DescriptionFromContent(page.Markdown)
	}

	// html/template escapes the meta values; Content is already sanitized.
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, templateData{
		Title:        page.Title,
		Description:  page.Description,
		CanonicalURL: page.CanonicalURL,
		Version:      page.Version,
		Content:      template.HTML(MarkdownToSafeHTML(page.Markdown)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	return buf.Bytes(), nil
}

// TitleFromContent uses the first non-blank line, minus leading heading markers.
func TitleFromContent(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return truncateRunes(line, 80)
		}
	}
	return "Shared note"
}

// DescriptionFromContent collapses whitespace and truncates to DescriptionMaxChars runes.
func DescriptionFromContent(content string) string {
	return truncateRunes(strings.Join(strings.Fields(content), " "), DescriptionMaxChars)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
