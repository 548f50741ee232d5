package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "PREVIEW_"

// DefaultPort is the port used when nothing else is configured.
const DefaultPort = 8601

// DefaultLaTeXCommand converts LaTeX on stdin-less invocation; the file path is appended.
const DefaultLaTeXCommand = "pandoc -f latex -t html"

// DefaultWatchIgnore lists globs the watcher never reports.
var DefaultWatchIgnore = []string{"**/.git/**", "**/node_modules/**"}

// settingsExtensions are tried in order for every settings file location.
var settingsExtensions = []string{".jsonc", ".json", ".toml", ".yaml", ".yml"}

// Settings holds user-tunable options. Pointer fields distinguish "unset"
// from an explicit false so later sources can switch a default off.
type Settings struct {
	Port               int      `json:"port,omitempty" toml:"port" yaml:"port"`
	Host               string   `json:"host,omitempty" toml:"host" yaml:"host"`
	Raw                *bool    `json:"raw,omitempty" toml:"raw" yaml:"raw"`
	Format             string   `json:"format,omitempty" toml:"format" yaml:"format"`
	OpenBrowser        *bool    `json:"openBrowser,omitempty" toml:"openBrowser" yaml:"openBrowser"`
	Watch              *bool    `json:"watch,omitempty" toml:"watch" yaml:"watch"`
	CORS               *bool    `json:"cors,omitempty" toml:"cors" yaml:"cors"`
	LaTeXCommand       string   `json:"latexCommand,omitempty" toml:"latexCommand" yaml:"latexCommand"`
	PreviewBytes       int      `json:"previewBytes,omitempty" toml:"previewBytes" yaml:"previewBytes"`
	PreviewConcurrency int      `json:"previewConcurrency,omitempty" toml:"previewConcurrency" yaml:"previewConcurrency"`
	HighlightStyle     string   `json:"highlightStyle,omitempty" toml:"highlightStyle" yaml:"highlightStyle"`
	HighlightStyleDark string   `json:"highlightStyleDark,omitempty" toml:"highlightStyleDark" yaml:"highlightStyleDark"`
	WatchIgnore        []string `json:"watchIgnore,omitempty" toml:"watchIgnore" yaml:"watchIgnore"`
	LogLevel           string   `json:"logLevel,omitempty" toml:"logLevel" yaml:"logLevel"`
	LogFile            string   `json:"logFile,omitempty" toml:"logFile" yaml:"logFile"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Port:               DefaultPort,
		Host:               "localhost",
		Raw:                Bool(false),
		OpenBrowser:        Bool(true),
		Watch:              Bool(true),
		CORS:               Bool(false),
		LaTeXCommand:       DefaultLaTeXCommand,
		PreviewBytes:       200,
		PreviewConcurrency: 8,
		HighlightStyle:     "github",
		HighlightStyleDark: "github-dark",
		WatchIgnore:        append([]string(nil), DefaultWatchIgnore...),
		LogLevel:           "INFO",
	}
}

// LoadOptions selects the optional explicit sources for Load.
type LoadOptions struct {
	// Directory is the served root; project settings are read from it.
	Directory string
	// File is an explicit settings file. Unlike discovered files, it must exist.
	File string
	// EnvFile is a dotenv file whose PREVIEW_* entries are applied.
	EnvFile string
}

// Load merges settings from these sources (priority order, lowest first):
// 1. Built-in defaults
// 2. Global settings ($XDG_CONFIG_HOME/preview/config.*)
// 3. Project settings (<directory>/.preview.*)
// 4. Explicit settings file
// 5. Dotenv file
// 6. Environment variables
func Load(opts LoadOptions) (*Settings, error) {
	settings := DefaultSettings()

	loaded := make(map[string]bool)
	loadFirst := func(base string) {
		for _, ext := range settingsExtensions {
			path := base + ext
			if loaded[path] {
				return
			}
			if err := loadSettingsFile(path, settings); err == nil {
				loaded[path] = true
				return
			}
		}
	}

	loadFirst(filepath.Join(GetPaths().Config, "config"))

	if opts.Directory != "" {
		loadFirst(filepath.Join(opts.Directory, "."+AppName))
	}

	if opts.File != "" {
		if err := loadSettingsFile(opts.File, settings); err != nil {
			return nil, fmt.Errorf("load settings %s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		env, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", opts.EnvFile, err)
		}
		applyEnvOverrides(settings, func(key string) string { return env[key] })
	}

	applyEnvOverrides(settings, os.Getenv)

	return settings, nil
}

// loadSettingsFile decodes a single settings file by extension and merges it.
func loadSettingsFile(path string, settings *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileSettings Settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Strip JSONC comments using tidwall/jsonc
		err = json.Unmarshal(jsonc.ToJSON(data), &fileSettings)
	case ".toml":
		_, err = toml.Decode(string(data), &fileSettings)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileSettings)
	default:
		err = fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	mergeSettings(settings, &fileSettings)
	return nil
}

// mergeSettings merges source settings into target.
func mergeSettings(target, source *Settings) {
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.Host != "" {
		target.Host = source.Host
	}
	if source.Raw != nil {
		target.Raw = source.Raw
	}
	if source.Format != "" {
		target.Format = source.Format
	}
	if source.OpenBrowser != nil {
		target.OpenBrowser = source.OpenBrowser
	}
	if source.Watch != nil {
		target.Watch = source.Watch
	}
	if source.CORS != nil {
		target.CORS = source.CORS
	}
	if source.LaTeXCommand != "" {
		target.LaTeXCommand = source.LaTeXCommand
	}
	if source.PreviewBytes > 0 {
		target.PreviewBytes = source.PreviewBytes
	}
	if source.PreviewConcurrency > 0 {
		target.PreviewConcurrency = source.PreviewConcurrency
	}
	if source.HighlightStyle != "" {
		target.HighlightStyle = source.HighlightStyle
	}
	if source.HighlightStyleDark != "" {
		target.HighlightStyleDark = source.HighlightStyleDark
	}
	if len(source.WatchIgnore) > 0 {
		target.WatchIgnore = append(target.WatchIgnore, source.WatchIgnore...)
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogFile != "" {
		target.LogFile = source.LogFile
	}
}

// applyEnvOverrides applies PREVIEW_* overrides read through getenv.
// Unparseable numbers and booleans are ignored.
func applyEnvOverrides(settings *Settings, getenv func(string) string) {
	env := func(name string) string { return strings.TrimSpace(getenv(EnvPrefix + name)) }

	if v := env("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			settings.Port = port
		}
	}
	if v := env("HOST"); v != "" {
		settings.Host = v
	}
	if v := env("FORMAT"); v != "" {
		settings.Format = v
	}
	if v := env("LATEX_COMMAND"); v != "" {
		settings.LaTeXCommand = v
	}
	if v := env("PREVIEW_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			settings.PreviewBytes = n
		}
	}
	if v := env("PREVIEW_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			settings.PreviewConcurrency = n
		}
	}
	if v := env("WATCH_IGNORE"); v != "" {
		for _, pattern := range strings.Split(v, ",") {
			if pattern = strings.TrimSpace(pattern); pattern != "" {
				settings.WatchIgnore = append(settings.WatchIgnore, pattern)
			}
		}
	}
	if v := env("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := env("LOG_FILE"); v != "" {
		settings.LogFile = v
	}

	bools := map[string]**bool{
		"RAW":          &settings.Raw,
		"OPEN_BROWSER": &settings.OpenBrowser,
		"WATCH":        &settings.Watch,
		"CORS":         &settings.CORS,
	}
	for name, field := range bools {
		if v := env(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*field = Bool(b)
			}
		}
	}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// BoolValue dereferences p, returning def when p is nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
