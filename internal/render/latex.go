package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"mvdan.cc/sh/v3/shell"
)

// ErrConverterUnavailable is returned when the converter executable cannot be found.
var ErrConverterUnavailable = errors.New("LaTeX converter not available")

// ConversionError reports a converter that ran and failed.
type ConversionError struct {
	Stderr string
	Err    error
}

func (e *ConversionError) Error() string {
	return "Error converting LaTeX: " + e.Stderr
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// filePlaceholder stands in for $file while the command line is parsed.
const filePlaceholder = "\x00file\x00"

// LaTeX converts LaTeX files to HTML with an external command.
type LaTeX struct {
	args []string
}

// NewLaTeX parses a converter command line with shell quoting rules.
// $file (or ${file}) marks where the input path goes; without it the path
// is appended as the last argument. Other variables expand from the
// environment.
func NewLaTeX(commandLine string) (*LaTeX, error) {
	args, err := shell.Fields(commandLine, func(name string) string {
		if name == "file" {
			return filePlaceholder
		}
		return os.Getenv(name)
	})
	if err != nil {
		return nil, fmt.Errorf("parse converter command %q: %w", commandLine, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty converter command")
	}
	return &LaTeX{args: args}, nil
}

// Command returns the argument vector for converting path.
func (l *LaTeX) Command(path string) []string {
	args := make([]string, 0, len(l.args)+1)
	substituted := false
	for _, arg := range l.args {
		if strings.Contains(arg, filePlaceholder) {
			arg = strings.ReplaceAll(arg, filePlaceholder, path)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, path)
	}
	return args
}

// Convert runs the converter on path and returns the contents of the
// output's <body>, or the whole output when it is a fragment.
func (l *LaTeX) Convert(ctx context.Context, path string) (template.HTML, error) {
	args := l.Command(path)

	if _, err := exec.LookPath(args[0]); err != nil {
		return "", fmt.Errorf("%w: %s", ErrConverterUnavailable, args[0])
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrConverterUnavailable, args[0])
		}
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = err.Error()
		}
		return "", &ConversionError{Stderr: errMsg, Err: err}
	}

	body, err := extractBody(stdout.String())
	if err != nil {
		return "", fmt.Errorf("parse converter output: %w", err)
	}
	return template.HTML(body), nil
}

// extractBody returns the inner HTML of <body>. The parser wraps fragments
// in a synthetic body, so fragment output comes back unchanged.
func extractBody(output string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(output))
	if err != nil {
		return "", err
	}
	return doc.Find("body").First().Html()
}
