package server

import (
	"errors"
	"html/template"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/livepreview/preview/internal/classify"
	"github.com/livepreview/preview/internal/listing"
	"github.com/livepreview/preview/internal/livereload"
	"github.com/livepreview/preview/internal/logging"
	"github.com/livepreview/preview/internal/render"
)

const eventsPath = classify.EventsPath

// sniffLen is how much of a file is read to guess its type.
const sniffLen = 512

// dispatch handles every GET request: classify, then hand off.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	urlPath := cleanURLPath(r.URL.Path)

	switch strategy := s.classifier.Route(urlPath); strategy {
	case classify.InternalAsset:
		s.serveAsset(w, urlPath)
		return
	case classify.EventStream:
		s.serveEvents(w, r)
		return
	case classify.RawPassthrough:
		s.serveRaw(w, r, urlPath)
		return
	case classify.ImageServe:
		s.serveImage(w, r, urlPath)
		return
	case classify.NotFound:
		s.notFound(w, "")
		return
	}

	fsPath := s.resolve(urlPath)
	info, err := s.fs.Stat(fsPath)
	if err != nil {
		s.notFound(w, fsPath)
		return
	}

	strategy := s.classifier.Classify(classify.Request{URLPath: urlPath, FSPath: fsPath, Info: info})
	logging.Debug().Str("path", urlPath).Stringer("strategy", strategy).Msg("dispatch")

	switch strategy {
	case classify.ImageServe:
		s.serveFile(w, r, fsPath, classify.ImageMIME(fsPath))
	case classify.DirectoryListing:
		s.serveDirectory(w, r, fsPath)
	case classify.RawMode, classify.AlwaysRawMIME:
		s.serveFile(w, r, fsPath, "")
	case classify.HTMLPassthrough:
		s.serveHTML(w, fsPath)
	case classify.LaTeXConvert:
		s.serveLaTeX(w, r, fsPath)
	case classify.MarkdownRender:
		s.serveMarkdown(w, fsPath)
	default:
		s.notFound(w, fsPath)
	}
}

// cleanURLPath roots and cleans a decoded URL path so ".." can never climb
// above "/".
func cleanURLPath(p string) string {
	return path.Clean("/" + p)
}

// resolve maps a cleaned URL path to the filesystem.
func (s *Server) resolve(urlPath string) string {
	if urlPath == "/" {
		if s.config.ServeFileOnRoot {
			return s.config.OriginalPath
		}
		return s.config.BasePath
	}
	return filepath.Join(s.config.BasePath, filepath.FromSlash(urlPath))
}

// contentType returns the override when set, otherwise computed.
func (s *Server) contentType(computed string) string {
	if s.config.ContentTypeOverride != "" {
		return s.config.ContentTypeOverride
	}
	return computed
}

func (s *Server) serveAsset(w http.ResponseWriter, urlPath string) {
	asset, ok := s.assets.Lookup(urlPath)
	if !ok {
		s.notFound(w, "")
		return
	}
	w.Header().Set("Content-Type", asset.MIME)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(asset.Data)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	if livereload.IsWebSocket(r) {
		s.broadcaster.ServeWebSocket(w, r)
		return
	}
	s.broadcaster.ServeSSE(w, r)
}

// serveRaw serves /raw/<path> from under the base path as plain text.
func (s *Server) serveRaw(w http.ResponseWriter, r *http.Request, urlPath string) {
	rel := cleanURLPath(strings.TrimPrefix(urlPath, strings.TrimSuffix(classify.RawPrefix, "/")))
	fsPath := filepath.Join(s.config.BasePath, filepath.FromSlash(rel))
	s.serveFile(w, r, fsPath, textPlain)
}

// serveImage resolves an image: /~ paths under the home directory,
// everything else under the base path, falling back to the directory the
// server was started from.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, urlPath string) {
	s.serveFile(w, r, s.resolveImage(urlPath), classify.ImageMIME(urlPath))
}

func (s *Server) resolveImage(urlPath string) string {
	if rest, ok := strings.CutPrefix(urlPath, classify.HomePrefix); ok {
		return filepath.Join(s.config.HomeDir, filepath.FromSlash(cleanURLPath(rest)))
	}

	candidate := filepath.Join(s.config.BasePath, filepath.FromSlash(urlPath))
	if _, err := s.fs.Stat(candidate); err == nil || s.config.InvocationDir == "" {
		return candidate
	}
	return filepath.Join(s.config.InvocationDir, filepath.FromSlash(urlPath))
}

// serveFile streams a regular file. An empty contentType is computed from
// the extension or the leading bytes.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, fsPath, contentType string) {
	f, err := s.fs.Open(fsPath)
	if err != nil {
		s.notFound(w, fsPath)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.notFound(w, fsPath)
		return
	}

	if contentType == "" {
		head := make([]byte, sniffLen)
		n, _ := io.ReadFull(f, head)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeText(w, http.StatusInternalServerError, err.Error())
			return
		}
		contentType = classify.FileMIME(fsPath, head[:n])
	}

	w.Header().Set("Content-Type", s.contentType(contentType))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// serveHTML passes an HTML file through with the reload script injected.
func (s *Server) serveHTML(w http.ResponseWriter, fsPath string) {
	data, err := afero.ReadFile(s.fs, fsPath)
	if err != nil {
		s.notFound(w, fsPath)
		return
	}

	if s.config.LiveReload {
		script, err := render.ReloadScript(eventsPath)
		if err != nil {
			writeText(w, http.StatusInternalServerError, msgRenderFailed)
			return
		}
		data = render.InjectScript(data, script)
	}

	w.Header().Set("Content-Type", s.contentType(textHTML))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) serveDirectory(w http.ResponseWriter, r *http.Request, fsPath string) {
	l, err := s.lister.List(r.Context(), fsPath)
	if err != nil {
		if errors.Is(err, listing.ErrDirectoryRead) {
			logging.Warn().Err(err).Msg("directory listing failed")
			writeText(w, http.StatusInternalServerError, msgReadDir)
			return
		}
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	content, err := listing.Render(l)
	if err != nil {
		logging.Error().Err(err).Str("dir", fsPath).Msg("listing template failed")
		writeText(w, http.StatusInternalServerError, msgRenderFailed)
		return
	}

	s.writePage(w, render.Page{Title: l.Title(), Content: content}, true)
}

func (s *Server) serveMarkdown(w http.ResponseWriter, fsPath string) {
	src, err := afero.ReadFile(s.fs, fsPath)
	if err != nil {
		s.notFound(w, fsPath)
		return
	}

	doc, err := s.markdown.Render(src)
	if err != nil {
		logging.Error().Err(err).Str("file", fsPath).Msg("markdown render failed")
		writeText(w, http.StatusInternalServerError, msgRenderFailed)
		return
	}

	title := doc.Title
	if title == "" {
		title = s.displayPath(fsPath)
	}

	s.writePage(w, render.Page{
		Title:      title,
		Navigation: s.navigation(fsPath),
		Meta:       doc.Meta,
		Content:    doc.HTML,
	}, false)
}

func (s *Server) serveLaTeX(w http.ResponseWriter, r *http.Request, fsPath string) {
	content, err := s.latex.Convert(r.Context(), fsPath)
	if err != nil {
		var convErr *render.ConversionError
		switch {
		case errors.As(err, &convErr):
			writeText(w, http.StatusInternalServerError, convErr.Error())
		case errors.Is(err, render.ErrConverterUnavailable):
			writeText(w, http.StatusInternalServerError, err.Error())
		default:
			writeText(w, http.StatusInternalServerError, "Error converting LaTeX: "+err.Error())
		}
		logging.Warn().Err(err).Str("file", fsPath).Msg("latex conversion failed")
		return
	}

	s.writePage(w, render.Page{
		Title:      s.displayPath(fsPath),
		Navigation: s.navigation(fsPath),
		Content:    content,
	}, false)
}

// navigation returns the breadcrumb for a file's directory when the server
// was started on a directory.
func (s *Server) navigation(fsPath string) template.HTML {
	if !s.config.IsDirectoryInit {
		return ""
	}

	rel, err := filepath.Rel(s.config.BasePath, filepath.Dir(fsPath))
	if err != nil || !s.underBase(filepath.Dir(fsPath)) {
		rel = "."
	}

	nav, err := listing.RenderBreadcrumb(listing.Breadcrumb(filepath.ToSlash(rel)))
	if err != nil {
		logging.Warn().Err(err).Msg("breadcrumb template failed")
		return ""
	}
	return nav
}

// displayPath returns fsPath relative to the invocation directory when it
// lies below it.
func (s *Server) displayPath(fsPath string) string {
	if s.config.InvocationDir != "" {
		if rel, err := filepath.Rel(s.config.InvocationDir, fsPath); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return fsPath
}
