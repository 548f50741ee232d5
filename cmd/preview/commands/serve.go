package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/livepreview/preview/internal/config"
	"github.com/livepreview/preview/internal/livereload"
	"github.com/livepreview/preview/internal/logging"
	"github.com/livepreview/preview/internal/server"
)

func runPreview(cmd *cobra.Command, opts *options, origin string) error {
	originPath, err := config.AbsPath(origin)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", origin, err)
	}
	res := config.Resolve(originPath)

	settings, err := config.Load(config.LoadOptions{
		Directory: res.BasePath,
		File:      opts.configFile,
		EnvFile:   opts.envFile,
	})
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, settings)

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(settings.LogLevel),
		Output: os.Stderr,
		Pretty: opts.prettyLogs,
		File:   settings.LogFile,
	})
	defer logging.Close()

	cfg, err := serverConfig(settings, res, originPath)
	if err != nil {
		return err
	}

	b, err := livereload.NewBroadcaster()
	if err != nil {
		return err
	}
	defer b.Close()

	srv, err := server.New(cfg, server.WithBroadcaster(b))
	if err != nil {
		return err
	}

	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	var tasks []func(context.Context) error
	if config.BoolValue(settings.Watch, true) {
		if w := newWatcher(settings, res, originPath, b); w != nil {
			tasks = append(tasks, w.Run)
		}
	}

	url := browserURL(cfg.Host, ln.Addr())
	printBanner(cmd.OutOrStdout(), url, originPath, logging.FilePath(), cfg)

	if config.BoolValue(settings.OpenBrowser, true) {
		if err := openBrowser(url); err != nil {
			logging.Warn().Err(err).Str("url", url).Msg("cannot open browser")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx, ln, tasks...)
}

// applyFlags overrides settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, opts *options, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		s.Port = opts.port
	}
	if flags.Changed("host") {
		s.Host = opts.host
	}
	if flags.Changed("raw") {
		s.Raw = config.Bool(opts.raw)
	}
	if flags.Changed("format") {
		s.Format = opts.format
	}
	if flags.Changed("no-browser") {
		s.OpenBrowser = config.Bool(!opts.noBrowser)
	}
	if flags.Changed("no-watch") {
		s.Watch = config.Bool(!opts.noWatch)
	}
	if flags.Changed("cors") {
		s.CORS = config.Bool(opts.cors)
	}
	if flags.Changed("latex-cmd") {
		s.LaTeXCommand = opts.latexCmd
	}
	if flags.Changed("log-level") {
		s.LogLevel = opts.logLevel
	}
	if flags.Changed("log-file") {
		s.LogFile = opts.logFile
		if s.LogFile == "" {
			s.LogFile = config.GetPaths().LogPath()
		}
	}
}

// serverConfig builds the immutable server configuration.
func serverConfig(s *config.Settings, res config.Resolution, originPath string) (*server.Config, error) {
	if s.Port < 0 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", s.Port)
	}

	cfg := server.DefaultConfig()
	cfg.Host = s.Host
	cfg.Port = s.Port
	cfg.BasePath = res.BasePath
	cfg.ServeFileOnRoot = res.ServeFileOnRoot
	cfg.IsDirectoryInit = res.IsDirectoryInit
	cfg.OriginalPath = originPath
	cfg.RawMode = config.BoolValue(s.Raw, false)
	cfg.ContentTypeOverride = s.Format
	cfg.LiveReload = config.BoolValue(s.Watch, true)
	cfg.EnableCORS = config.BoolValue(s.CORS, false)
	cfg.PreviewBytes = s.PreviewBytes
	cfg.PreviewConcurrency = s.PreviewConcurrency
	cfg.LaTeXCommand = s.LaTeXCommand
	cfg.HighlightStyle = s.HighlightStyle
	cfg.HighlightStyleDark = s.HighlightStyleDark
	return cfg, nil
}

// newWatcher starts watching the served tree. Watching is best-effort: a
// failure is logged and the server runs without live reload.
func newWatcher(s *config.Settings, res config.Resolution, originPath string, b *livereload.Broadcaster) *livereload.Watcher {
	wcfg := livereload.WatcherConfig{Root: res.BasePath, Ignore: s.WatchIgnore}
	if res.ServeFileOnRoot {
		wcfg.File = originPath
	}

	w, err := livereload.NewWatcher(wcfg, b)
	if err != nil {
		logging.Warn().Err(err).Str("root", res.BasePath).Msg("file watching disabled")
		return nil
	}
	return w
}

// browserURL is the address users open. Wildcard hosts are shown as localhost.
func browserURL(host string, addr net.Addr) string {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func printBanner(w io.Writer, url, originPath, logFile string, cfg *server.Config) {
	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	fmt.Fprintf(w, "%s %s\n", title.Sprint("preview"), dim.Sprint(Version))
	fmt.Fprintf(w, "  %s %s\n", dim.Sprint("serving"), originPath)
	fmt.Fprintf(w, "  %s %s\n", dim.Sprint("url    "), color.New(color.FgGreen).Sprint(url))
	if logFile != "" {
		fmt.Fprintf(w, "  %s %s\n", dim.Sprint("log    "), logFile)
	}

	var modes []string
	if cfg.RawMode {
		modes = append(modes, "raw")
	}
	if cfg.ContentTypeOverride != "" {
		modes = append(modes, "format="+cfg.ContentTypeOverride)
	}
	if !cfg.LiveReload {
		modes = append(modes, "no-watch")
	}
	if len(modes) > 0 {
		fmt.Fprintf(w, "  %s %s\n", dim.Sprint("mode   "), color.New(color.FgYellow).Sprint(modes))
	}
}
