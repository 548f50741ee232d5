// Package assets holds the stylesheets every page links to.
//
// Assets are served under a per-process random prefix so they can never
// shadow a file of the same name in the served tree.
package assets

import (
	"bytes"
	"embed"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/google/uuid"
)

//go:embed static/*.css
var staticFiles embed.FS

// Stylesheet names.
const (
	Bamboo        = "bamboo.css"
	Highlight     = "hjs.css"
	HighlightDark = "hjs-dark.css"
	Directory     = "directory.css"
)

const cssMIME = "text/css; charset=utf-8"

// Asset is a single served file.
type Asset struct {
	Name string
	MIME string
	Data []byte
}

// Options configures New.
type Options struct {
	// Prefix overrides the random route prefix. Tests use it for stable URLs.
	Prefix string
	// HighlightStyle and HighlightStyleDark name chroma styles.
	HighlightStyle     string
	HighlightStyleDark string
}

// Registry maps asset routes to their bytes. It is immutable after New.
type Registry struct {
	prefix string
	assets map[string]Asset
}

// New builds the registry: the embedded stylesheets plus two generated
// syntax-highlighting stylesheets.
func New(opts Options) (*Registry, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = uuid.NewString()
	}

	r := &Registry{prefix: prefix, assets: make(map[string]Asset, 4)}

	for _, name := range []string{Bamboo, Directory} {
		data, err := staticFiles.ReadFile("static/" + name)
		if err != nil {
			return nil, fmt.Errorf("read embedded %s: %w", name, err)
		}
		r.add(name, data)
	}

	light, err := highlightCSS(opts.HighlightStyle, "")
	if err != nil {
		return nil, err
	}
	r.add(Highlight, light)

	dark, err := highlightCSS(opts.HighlightStyleDark, "prefers-color-scheme: dark")
	if err != nil {
		return nil, err
	}
	r.add(HighlightDark, dark)

	return r, nil
}

func (r *Registry) add(name string, data []byte) {
	r.assets[r.URL(name)] = Asset{Name: name, MIME: cssMIME, Data: data}
}

// Prefix returns the route prefix shared by all assets.
func (r *Registry) Prefix() string {
	return r.prefix
}

// URL returns the route an asset is served at.
func (r *Registry) URL(name string) string {
	return "/" + r.prefix + "-" + name
}

// Has reports whether urlPath is an asset route.
func (r *Registry) Has(urlPath string) bool {
	_, ok := r.assets[urlPath]
	return ok
}

// Lookup returns the asset served at urlPath.
func (r *Registry) Lookup(urlPath string) (Asset, bool) {
	a, ok := r.assets[urlPath]
	return a, ok
}

// Stylesheets returns the URLs pages link to, in link order.
// directory.css is included only for directory-mode pages.
func (r *Registry) Stylesheets(directoryMode bool) []string {
	urls := []string{r.URL(Bamboo), r.URL(Highlight), r.URL(HighlightDark)}
	if directoryMode {
		urls = append(urls, r.URL(Directory))
	}
	return urls
}

// highlightCSS renders chroma class-based CSS for a style, optionally
// wrapped in a media query.
func highlightCSS(styleName, media string) ([]byte, error) {
	var style *chroma.Style = styles.Fallback
	if styleName != "" {
		style = styles.Get(styleName)
	}

	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&buf, style); err != nil {
		return nil, fmt.Errorf("generate highlight css for %q: %w", style.Name, err)
	}

	if media == "" {
		return buf.Bytes(), nil
	}

	var wrapped strings.Builder
	fmt.Fprintf(&wrapped, "@media (%s) {\n", media)
	wrapped.Write(buf.Bytes())
	wrapped.WriteString("}\n")
	return []byte(wrapped.String()), nil
}
