package listing

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

var templates = template.Must(template.ParseFS(templateFiles, "templates/*.tmpl"))

// Render returns the listing as an HTML fragment: breadcrumb, then a
// "Files" grid and a "Directories" grid, each only when non-empty.
func Render(l *Listing) (template.HTML, error) {
	return execute("listing", l)
}

// RenderBreadcrumb returns the navigation fragment for a set of crumbs.
func RenderBreadcrumb(crumbs []Crumb) (template.HTML, error) {
	return execute("breadcrumb", crumbs)
}

func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
