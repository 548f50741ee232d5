package render

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"regexp"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

var templates = template.Must(template.ParseFS(templateFiles, "templates/*.tmpl"))

var closingBody = regexp.MustCompile(`(?i)</body\s*>`)

// Page is everything the page template needs.
type Page struct {
	Title       string
	Stylesheets []string
	// Navigation is trusted HTML shown above the content.
	Navigation template.HTML
	Meta       []Field
	// Content is trusted HTML produced by a renderer.
	Content template.HTML
	// EventsPath, when set, adds the live-reload script.
	EventsPath string
}

// WritePage renders a full HTML page to w.
func WritePage(w io.Writer, p Page) error {
	return templates.ExecuteTemplate(w, "page", p)
}

// ReloadScript returns the live-reload <script> element for eventsPath.
func ReloadScript(eventsPath string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "reload", eventsPath); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// InjectScript inserts script before the last </body>, or appends it when
// the document has none.
func InjectScript(doc []byte, script template.HTML) []byte {
	matches := closingBody.FindAllIndex(doc, -1)
	if len(matches) == 0 {
		return append(append([]byte{}, doc...), script...)
	}
	idx := matches[len(matches)-1][0]

	out := make([]byte, 0, len(doc)+len(script))
	out = append(out, doc[:idx]...)
	out = append(out, script...)
	out = append(out, doc[idx:]...)
	return out
}
