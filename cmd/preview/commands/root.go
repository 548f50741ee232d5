// Package commands provides the preview command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// DefaultPath is served when no path argument is given.
const DefaultPath = "README.md"

// options holds the raw flag values. Only flags the user actually set
// override loaded settings.
type options struct {
	port       int
	host       string
	raw        bool
	format     string
	noBrowser  bool
	noWatch    bool
	cors       bool
	latexCmd   string
	logLevel   string
	logFile    string
	prettyLogs bool
	configFile string
	envFile    string
}

// NewRootCommand builds the preview command.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *options) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "preview [path]",
		Short: "Preview Markdown, LaTeX and directories in the browser",
		Long: `preview serves a file or directory over HTTP: Markdown and LaTeX are
rendered to HTML, directories are listed with previews, and open pages
reload when files change.

The path defaults to README.md in the current directory.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			origin := DefaultPath
			if len(args) == 1 {
				origin = args[0]
			}
			return runPreview(cmd, opts, origin)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.port, "port", "p", 0, "Port to listen on (default 8601)")
	flags.StringVar(&opts.host, "host", "", "Host to listen on (default localhost)")
	flags.BoolVar(&opts.raw, "raw", false, "Serve every file as raw bytes")
	flags.StringVar(&opts.format, "format", "", "Content-Type for raw responses")
	flags.BoolVar(&opts.noBrowser, "no-browser", false, "Do not open the browser")
	flags.BoolVar(&opts.noWatch, "no-watch", false, "Disable live reload file watching")
	flags.BoolVar(&opts.cors, "cors", false, "Allow cross-origin requests")
	flags.StringVar(&opts.latexCmd, "latex-cmd", "", "LaTeX to HTML converter command ($file marks the input)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this file (empty for the default state-dir log)")
	flags.BoolVar(&opts.prettyLogs, "pretty-logs", false, "Human-readable log output")
	flags.StringVar(&opts.configFile, "config", "", "Settings file (json, jsonc, toml or yaml)")
	flags.StringVar(&opts.envFile, "env-file", "", "Dotenv file with PREVIEW_* settings")

	cmd.SetVersionTemplate(fmt.Sprintf("preview %s (%s)\n", Version, BuildTime))

	return cmd, opts
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}
