package server

import (
	"bytes"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/afero"

	"github.com/livepreview/preview/internal/listing"
	"github.com/livepreview/preview/internal/logging"
	"github.com/livepreview/preview/internal/render"
)

const (
	textPlain = "text/plain; charset=utf-8"
	textHTML  = "text/html; charset=utf-8"
)

// Error messages
const (
	msgNotFound     = "Not found."
	msgReadDir      = "Error reading directory."
	msgRenderFailed = "Error rendering page."
)

// writeText writes a plain-text response.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", textPlain)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// writeHTML writes a complete page.
func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", textHTML)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writePage renders p fully before writing so template failures become a 500.
// Listing pages always get the directory stylesheet.
func (s *Server) writePage(w http.ResponseWriter, p render.Page, listingPage bool) {
	p.Stylesheets = s.assets.Stylesheets(s.config.IsDirectoryInit || listingPage)
	if s.config.LiveReload {
		p.EventsPath = eventsPath
	}

	var buf bytes.Buffer
	if err := render.WritePage(&buf, p); err != nil {
		logging.Error().Err(err).Str("title", p.Title).Msg("page template failed")
		writeText(w, http.StatusInternalServerError, msgRenderFailed)
		return
	}
	writeHTML(w, buf.Bytes())
}

// notFound writes a 404, suggesting a sibling entry when fsPath looks like
// a typo of one.
func (s *Server) notFound(w http.ResponseWriter, fsPath string) {
	body := msgNotFound
	if fsPath != "" {
		if suggestion := s.suggest(fsPath); suggestion != "" {
			body += "\nDid you mean " + suggestion + "?"
		}
	}
	writeText(w, http.StatusNotFound, body)
}

// suggest returns the link of the closest sibling name to fsPath's base.
func (s *Server) suggest(fsPath string) string {
	dir, name := filepath.Split(fsPath)
	if name == "" || !s.underBase(dir) {
		return ""
	}

	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return ""
	}

	best, bestDist := "", maxSuggestDistance(name)+1
	for _, info := range infos {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(info.Name()))
		if d < bestDist {
			best, bestDist = info.Name(), d
		}
	}
	if best == "" {
		return ""
	}

	rel, err := filepath.Rel(s.config.BasePath, filepath.Join(dir, best))
	if err != nil {
		return ""
	}
	return listing.Link(path.Clean(filepath.ToSlash(rel)))
}

func maxSuggestDistance(name string) int {
	return max(2, len(name)/4)
}

func (s *Server) underBase(dir string) bool {
	rel, err := filepath.Rel(s.config.BasePath, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
