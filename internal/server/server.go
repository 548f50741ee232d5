// Package server provides the preview HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/livepreview/preview/internal/assets"
	"github.com/livepreview/preview/internal/classify"
	"github.com/livepreview/preview/internal/config"
	"github.com/livepreview/preview/internal/listing"
	"github.com/livepreview/preview/internal/livereload"
	"github.com/livepreview/preview/internal/logging"
	"github.com/livepreview/preview/internal/render"
)

const defaultShutdownTimeout = 5 * time.Second

// Config holds server configuration. It is built once at startup and never
// mutated afterwards.
type Config struct {
	Host string
	Port int

	// BasePath is the servable root.
	BasePath string
	// ServeFileOnRoot maps "/" to OriginalPath.
	ServeFileOnRoot bool
	// IsDirectoryInit adds directory navigation to rendered pages.
	IsDirectoryInit bool
	// OriginalPath is the absolute path the server was started with.
	OriginalPath string
	// InvocationDir is the working directory at startup.
	InvocationDir string
	// HomeDir resolves /~ image requests.
	HomeDir string

	// RawMode serves every regular file as bytes.
	RawMode bool
	// ContentTypeOverride replaces the computed Content-Type of byte responses.
	ContentTypeOverride string

	LiveReload bool
	EnableCORS bool

	PreviewBytes       int
	PreviewConcurrency int
	LaTeXCommand       string
	HighlightStyle     string
	HighlightStyleDark string

	// AssetPrefix fixes the stylesheet route prefix; random when empty.
	AssetPrefix string

	ShutdownTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return &Config{
		Host:               "localhost",
		Port:               config.DefaultPort,
		BasePath:           cwd,
		InvocationDir:      cwd,
		HomeDir:            home,
		LiveReload:         true,
		PreviewBytes:       listing.DefaultPreviewBytes,
		PreviewConcurrency: listing.DefaultConcurrency,
		LaTeXCommand:       config.DefaultLaTeXCommand,
		HighlightStyle:     "github",
		HighlightStyleDark: "github-dark",
		ShutdownTimeout:    defaultShutdownTimeout,
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Server is the HTTP server.
type Server struct {
	config      *Config
	router      *chi.Mux
	httpSrv     *http.Server
	fs          afero.Fs
	assets      *assets.Registry
	classifier  *classify.Classifier
	lister      *listing.Lister
	markdown    *render.Markdown
	latex       *render.LaTeX
	broadcaster *livereload.Broadcaster
}

// Option configures a Server.
type Option func(*Server)

// WithFs serves files from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Server) { s.fs = fs }
}

// WithBroadcaster uses an existing broadcaster for live reload.
func WithBroadcaster(b *livereload.Broadcaster) Option {
	return func(s *Server) { s.broadcaster = b }
}

// New creates a new Server instance.
func New(cfg *Config, opts ...Option) (*Server, error) {
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		fs:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}

	reg, err := assets.New(assets.Options{
		Prefix:             cfg.AssetPrefix,
		HighlightStyle:     cfg.HighlightStyle,
		HighlightStyleDark: cfg.HighlightStyleDark,
	})
	if err != nil {
		return nil, err
	}
	s.assets = reg

	latexCmd := cfg.LaTeXCommand
	if latexCmd == "" {
		latexCmd = config.DefaultLaTeXCommand
	}
	s.latex, err = render.NewLaTeX(latexCmd)
	if err != nil {
		return nil, err
	}

	if s.broadcaster == nil {
		s.broadcaster, err = livereload.NewBroadcaster()
		if err != nil {
			return nil, fmt.Errorf("create broadcaster: %w", err)
		}
	}

	s.classifier = classify.New(reg, cfg.RawMode)
	s.lister = listing.New(s.fs, cfg.BasePath,
		listing.WithPreviewBytes(cfg.PreviewBytes),
		listing.WithConcurrency(cfg.PreviewConcurrency),
	)
	s.markdown = render.NewMarkdown()

	s.setupMiddleware()
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: event streams stay open.
	}

	return s, nil
}

// Broadcaster returns the live-reload client set.
func (s *Server) Broadcaster() *livereload.Broadcaster {
	return s.broadcaster
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	return ln, nil
}

// Serve serves HTTP on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Run serves on ln together with the live-reload loop and any extra tasks
// (the file watcher) until ctx is cancelled or a task fails, then shuts the
// HTTP server down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Serve(ln) })
	g.Go(func() error { return s.broadcaster.Run(gctx) })
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		logging.Info().Msg("shutting down")
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
