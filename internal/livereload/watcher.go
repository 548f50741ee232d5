package livereload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/livepreview/preview/internal/logging"
)

const (
	// RearmInitialInterval is the first wait before re-watching a removed root.
	RearmInitialInterval = 250 * time.Millisecond
	// RearmMaxInterval caps the wait between re-watch attempts.
	RearmMaxInterval = 5 * time.Second
	// RearmMaxElapsedTime is how long a removed root is waited for.
	RearmMaxElapsedTime = 2 * time.Minute
)

// Notifier receives changed paths.
type Notifier interface {
	Notify(path string) error
}

// WatcherConfig describes what to watch.
type WatcherConfig struct {
	// Root is the directory watched, recursively unless File is set.
	Root string
	// File restricts notifications to a single file inside Root.
	File string
	// Ignore holds doublestar patterns matched against slash paths relative to Root.
	Ignore []string
	// NewBackOff overrides the re-arm policy.
	NewBackOff func() backoff.BackOff
}

// Watcher forwards file changes under a root to a Notifier.
type Watcher struct {
	fsw        *fsnotify.Watcher
	root       string
	file       string
	ignore     []string
	notifier   Notifier
	newBackOff func() backoff.BackOff
}

// NewWatcher creates a watcher and registers the initial watches.
func NewWatcher(cfg WatcherConfig, n Notifier) (*Watcher, error) {
	for _, pattern := range cfg.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:        fsw,
		root:       filepath.Clean(cfg.Root),
		ignore:     cfg.Ignore,
		notifier:   n,
		newBackOff: cfg.NewBackOff,
	}
	if cfg.File != "" {
		w.file = filepath.Clean(cfg.File)
	}
	if w.newBackOff == nil {
		w.newBackOff = defaultRearmBackOff
	}

	if err := w.arm(); err != nil {
		fsw.Close()
		return nil, err
	}

	logging.Info().Str("root", w.root).Str("file", w.file).Msg("watching for changes")
	return w, nil
}

func defaultRearmBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RearmInitialInterval
	b.MaxInterval = RearmMaxInterval
	b.MaxElapsedTime = RearmMaxElapsedTime
	b.Reset()
	return b
}

// arm registers watches on the root: just the root in single-file mode,
// otherwise every directory below it that is not ignored.
func (w *Watcher) arm() error {
	if w.file != "" {
		return w.fsw.Add(w.root)
	}
	return w.addRecursive(w.root)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			logging.Warn().Err(err).Str("dir", path).Msg("cannot watch directory")
		}
		return nil
	})
}

// ignored reports whether path matches an ignore pattern. Directories are
// also tested with a trailing slash so "dir/**" patterns exclude the
// directory itself.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
			return true
		}
	}
	return false
}

// Run delivers events until ctx is cancelled. When the root disappears it
// re-arms with backoff; if the root never comes back it stops delivering
// and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.rootRemoved(ev) {
				if err := w.rearm(ctx); err != nil {
					logging.Error().Err(err).Str("root", w.root).Msg("watched root removed, live reload stopped")
					return nil
				}
				continue
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logging.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Name == "" || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
		return
	}
	if w.file != "" && filepath.Clean(ev.Name) != w.file {
		return
	}
	if w.ignored(ev.Name) {
		return
	}

	if w.file == "" && ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				logging.Warn().Err(err).Str("dir", ev.Name).Msg("cannot watch new directory")
			}
		}
	}

	if err := w.notifier.Notify(ev.Name); err != nil {
		logging.Warn().Err(err).Str("path", ev.Name).Msg("change notification failed")
	}
}

func (w *Watcher) rootRemoved(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == w.root && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename))
}

// rearm waits for the root to exist again and re-registers watches.
func (w *Watcher) rearm(ctx context.Context) error {
	logging.Warn().Str("root", w.root).Msg("watched root removed, waiting for it to return")

	// Drop stale watches; a recreated root gets new inodes.
	for _, p := range w.fsw.WatchList() {
		_ = w.fsw.Remove(p)
	}

	operation := func() error {
		info, err := os.Stat(w.root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return backoff.Permanent(errors.New("watched root is no longer a directory"))
		}
		return w.arm()
	}

	if err := backoff.Retry(operation, backoff.WithContext(w.newBackOff(), ctx)); err != nil {
		return err
	}

	logging.Info().Str("root", w.root).Msg("watched root restored")
	// Content may have changed while the root was gone.
	if err := w.notifier.Notify(w.root); err != nil {
		logging.Warn().Err(err).Msg("change notification failed")
	}
	return nil
}
