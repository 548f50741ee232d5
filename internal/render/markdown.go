// Package render turns served files into HTML pages.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Document is a rendered Markdown file.
type Document struct {
	// Meta holds the frontmatter fields in file order.
	Meta []Field
	// Title is the frontmatter title, empty when absent.
	Title string
	HTML  template.HTML
}

// Markdown renders Markdown with GFM extensions and class-based code
// highlighting. It is safe for concurrent use.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates the Markdown renderer.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Typographer,
				highlighting.NewHighlighting(
					highlighting.WithFormatOptions(
						chromahtml.WithClasses(true),
					),
				),
			),
			goldmark.WithRendererOptions(
				html.WithUnsafe(),
			),
		),
	}
}

// Render splits off frontmatter and converts the rest to HTML.
// Any file content is accepted regardless of extension.
func (m *Markdown) Render(src []byte) (*Document, error) {
	fm, body := SplitFrontmatter(src)

	var buf bytes.Buffer
	if err := m.md.Convert(body, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	return &Document{
		Meta:  fm.Fields,
		Title: fm.Title(),
		HTML:  template.HTML(buf.String()),
	}, nil
}
