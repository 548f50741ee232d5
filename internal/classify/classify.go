// Package classify decides how a request is served.
//
// Classification runs in two steps. Route looks only at the URL path and
// settles the requests that never touch the served tree (stylesheets, the
// event stream, raw passthrough and images). Everything else comes back as
// Unresolved; the caller stats the file and calls Classify, which applies
// the remaining rules in order.
package classify

import (
	"io/fs"
	"path"
	"strings"
)

// Strategy is the handling chosen for a request.
type Strategy int

const (
	Unresolved Strategy = iota
	InternalAsset
	EventStream
	RawPassthrough
	ImageServe
	DirectoryListing
	RawMode
	AlwaysRawMIME
	HTMLPassthrough
	LaTeXConvert
	MarkdownRender
	NotFound
)

var strategyNames = [...]string{
	Unresolved:       "unresolved",
	InternalAsset:    "internal-asset",
	EventStream:      "event-stream",
	RawPassthrough:   "raw-passthrough",
	ImageServe:       "image",
	DirectoryListing: "directory-listing",
	RawMode:          "raw-mode",
	AlwaysRawMIME:    "always-raw",
	HTMLPassthrough:  "html-passthrough",
	LaTeXConvert:     "latex",
	MarkdownRender:   "markdown",
	NotFound:         "not-found",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "unknown"
	}
	return strategyNames[s]
}

const (
	// EventsPath is the live-reload stream endpoint.
	EventsPath = "/events"
	// RawPrefix prefixes raw passthrough requests.
	RawPrefix = "/raw/"
	// HomePrefix marks image requests resolved under the user's home directory.
	HomePrefix = "/~"
)

// AssetRoutes reports whether a URL path is a known internal asset.
type AssetRoutes interface {
	Prefix() string
	Has(urlPath string) bool
}

// Classifier maps requests to strategies. It holds no mutable state.
type Classifier struct {
	assets  AssetRoutes
	rawMode bool
}

// New creates a classifier. rawMode makes every regular file bypass rendering.
func New(assets AssetRoutes, rawMode bool) *Classifier {
	return &Classifier{assets: assets, rawMode: rawMode}
}

// Request is what Classify needs to know about a resolved request.
type Request struct {
	// URLPath is the cleaned, decoded request path.
	URLPath string
	// FSPath is where the request resolved on disk.
	FSPath string
	// Info is the stat result for FSPath, nil when it does not exist.
	Info fs.FileInfo
}

// Route classifies a request from its URL path alone.
func (c *Classifier) Route(urlPath string) Strategy {
	if c.assets != nil && strings.HasPrefix(urlPath, "/"+c.assets.Prefix()+"-") {
		if c.assets.Has(urlPath) {
			return InternalAsset
		}
		return NotFound
	}

	switch {
	case urlPath == EventsPath:
		return EventStream
	case strings.HasPrefix(urlPath, RawPrefix):
		return RawPassthrough
	case IsImage(urlPath):
		return ImageServe
	}
	return Unresolved
}

// Classify applies the full precedence to a stat-ed request.
func (c *Classifier) Classify(req Request) Strategy {
	if s := c.Route(req.URLPath); s != Unresolved {
		return s
	}
	if req.Info == nil {
		return NotFound
	}
	// "/" serving an image file has no image extension in its URL.
	if !req.Info.IsDir() && IsImage(req.FSPath) {
		return ImageServe
	}
	if req.Info.IsDir() {
		return DirectoryListing
	}
	if c.rawMode {
		return RawMode
	}

	switch Ext(req.FSPath) {
	case ".pdf", ".json":
		return AlwaysRawMIME
	case ".html", ".htm":
		return HTMLPassthrough
	case ".tex":
		return LaTeXConvert
	}
	return MarkdownRender
}

// Ext returns the lower-cased extension of p, including the dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

// IsAlwaysRaw reports whether files with this name are never rendered.
func IsAlwaysRaw(name string) bool {
	switch Ext(name) {
	case ".pdf", ".json", ".html", ".htm":
		return true
	}
	return false
}

// OpensInNewTab reports whether listing links for name use target=_blank.
func OpensInNewTab(name string) bool {
	switch Ext(name) {
	case ".pdf", ".json":
		return true
	}
	return false
}
