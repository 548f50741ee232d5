// Package listing builds directory listings with per-entry previews.
package listing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/livepreview/preview/internal/classify"
)

// ErrDirectoryRead is returned when a directory's entries cannot be read.
var ErrDirectoryRead = errors.New("error reading directory")

const (
	// DefaultPreviewBytes is how much of a text file is shown in its card.
	DefaultPreviewBytes = 200
	// DefaultConcurrency bounds simultaneous preview reads per listing.
	DefaultConcurrency = 8
)

// Preview labels.
const (
	LabelDirectory = "Directory"
	LabelPDF       = "PDF Document"
	LabelLaTeX     = "LaTeX Document"
	LabelEmpty     = "Empty File"
	LabelUnread    = "FILE"
)

// Entry is one card in a listing.
type Entry struct {
	Name    string
	IsDir   bool
	Ext     string
	Preview string
	// Pre renders the preview in a preformatted block.
	Pre bool
	// Link is root-relative and percent-encoded per segment.
	Link    string
	RawLink string
	NewTab  bool

	fsPath     string
	mode       os.FileMode
	statFailed bool
}

// Crumb is one breadcrumb link.
type Crumb struct {
	Name string
	Link string
}

// Listing is a fully previewed directory.
type Listing struct {
	// Rel is the directory relative to the servable root, "." for the root.
	Rel        string
	Breadcrumb []Crumb
	Files      []Entry
	Dirs       []Entry
}

// Title returns the page title for the listing.
func (l *Listing) Title() string {
	return "Directory: " + l.Rel
}

// Option configures a Lister.
type Option func(*Lister)

// WithPreviewBytes sets how many bytes of each text file are previewed.
func WithPreviewBytes(n int) Option {
	return func(l *Lister) {
		if n > 0 {
			l.previewBytes = n
		}
	}
}

// WithConcurrency sets how many previews are read at once.
func WithConcurrency(n int) Option {
	return func(l *Lister) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// Lister lists directories under a servable root.
type Lister struct {
	fs           afero.Fs
	root         string
	previewBytes int
	concurrency  int
}

// New creates a Lister for directories under root.
func New(fs afero.Fs, root string, opts ...Option) *Lister {
	l := &Lister{
		fs:           fs,
		root:         root,
		previewBytes: DefaultPreviewBytes,
		concurrency:  DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List reads dirPath, sorts its entries and computes every preview.
// Only a failure to read the directory itself is returned; preview failures
// degrade the affected entry.
func (l *Lister) List(ctx context.Context, dirPath string) (*Listing, error) {
	infos, err := afero.ReadDir(l.fs, dirPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryRead, dirPath, err)
	}

	var files, dirs []Entry
	for _, lstat := range infos {
		e := l.newEntry(dirPath, lstat)
		if e.IsDir {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	// Every task settles on its own; none returns an error.
	g := new(errgroup.Group)
	g.SetLimit(l.concurrency)
	for _, group := range [][]Entry{files, dirs} {
		for i := range group {
			e := &group[i]
			g.Go(func() error {
				l.preview(ctx, e)
				return nil
			})
		}
	}
	_ = g.Wait()

	rel := l.rel(dirPath)
	return &Listing{
		Rel:        rel,
		Breadcrumb: Breadcrumb(rel),
		Files:      files,
		Dirs:       dirs,
	}, nil
}

// newEntry stats an entry through symlinks, falling back to the lstat info.
func (l *Lister) newEntry(dirPath string, lstat os.FileInfo) Entry {
	name := lstat.Name()
	fsPath := filepath.Join(dirPath, name)

	info, err := l.fs.Stat(fsPath)
	statFailed := err != nil
	if statFailed {
		info = lstat
	}

	e := Entry{
		Name:       name,
		IsDir:      info.IsDir(),
		Ext:        classify.Ext(name),
		Link:       Link(l.rel(fsPath)),
		fsPath:     fsPath,
		mode:       info.Mode(),
		statFailed: statFailed,
	}
	if !e.IsDir {
		e.NewTab = classify.OpensInNewTab(name)
	}
	return e
}

func (l *Lister) preview(ctx context.Context, e *Entry) {
	if e.statFailed || ctx.Err() != nil {
		return
	}
	if e.IsDir {
		e.Preview = LabelDirectory
		return
	}

	switch e.Ext {
	case ".pdf":
		e.Preview = LabelPDF
		return
	case ".tex":
		e.Preview = LabelLaTeX
		e.RawLink = RawLink(e.Link)
		return
	}

	// Opening a FIFO blocks until a writer appears; never read special files.
	if !e.mode.IsRegular() {
		e.Preview = LabelUnread
		return
	}

	head, err := l.readHead(e.fsPath)
	switch {
	case err != nil:
		e.Preview = LabelUnread
		return
	case len(head) == 0:
		e.Preview = LabelEmpty
	case e.Ext == ".md" || e.Ext == ".txt":
		e.Preview = strings.ToValidUTF8(string(head), "")
	case classify.IsBinary(head):
		e.Preview = binaryLabel(e.Ext)
		return
	default:
		e.Preview = strings.ToValidUTF8(string(head), "")
		e.Pre = true
	}

	if !classify.IsAlwaysRaw(e.Name) {
		e.RawLink = RawLink(e.Link)
	}
}

func (l *Lister) readHead(fsPath string) ([]byte, error) {
	f, err := l.fs.Open(fsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, l.previewBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}

// rel returns p relative to the servable root in slash form.
func (l *Lister) rel(p string) string {
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "."
	}
	return filepath.ToSlash(rel)
}

func binaryLabel(ext string) string {
	if ext == "" {
		return "File"
	}
	return strings.ToUpper(strings.TrimPrefix(ext, ".")) + " file"
}

// Link percent-encodes each segment of a root-relative slash path.
func Link(rel string) string {
	if rel == "" || rel == "." {
		return "/"
	}
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}

// RawLink returns the raw passthrough route for an entry link.
func RawLink(link string) string {
	return path.Join(classify.RawPrefix, link)
}

// Breadcrumb returns the navigation links for a root-relative directory:
// a leading root link and one cumulative link per segment.
func Breadcrumb(rel string) []Crumb {
	crumbs := []Crumb{{Name: "root", Link: "/"}}
	if rel == "" || rel == "." {
		return crumbs
	}

	segments := strings.Split(rel, "/")
	for i, s := range segments {
		crumbs = append(crumbs, Crumb{Name: s, Link: Link(strings.Join(segments[:i+1], "/"))})
	}
	return crumbs
}
