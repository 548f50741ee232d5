package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the global settings directory at an empty temp dir and
// clears every PREVIEW_* variable for the duration of the test.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	for _, name := range []string{
		"PORT", "HOST", "RAW", "FORMAT", "OPEN_BROWSER", "WATCH", "CORS",
		"LATEX_COMMAND", "PREVIEW_BYTES", "PREVIEW_CONCURRENCY", "WATCH_IGNORE", "LOG_LEVEL", "LOG_FILE",
	} {
		t.Setenv(EnvPrefix+name, "")
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	settings, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, settings.Port)
	assert.Equal(t, "localhost", settings.Host)
	assert.False(t, BoolValue(settings.Raw, true))
	assert.True(t, BoolValue(settings.OpenBrowser, false))
	assert.True(t, BoolValue(settings.Watch, false))
	assert.Equal(t, DefaultLaTeXCommand, settings.LaTeXCommand)
	assert.Equal(t, 200, settings.PreviewBytes)
	assert.Equal(t, DefaultWatchIgnore, settings.WatchIgnore)
}

func TestLoadGlobalJSONC(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".config", "preview", "config.jsonc"), `{
		// comments are allowed
		"port": 9000,
		"openBrowser": false,
	}`)

	settings, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 9000, settings.Port)
	assert.False(t, BoolValue(settings.OpenBrowser, true))
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	tmpDir := isolate(t)
	project := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, ".config", "preview", "config.json"), `{"port": 9000, "host": "0.0.0.0"}`)
	writeFile(t, filepath.Join(project, ".preview.toml"), "port = 9100\nwatchIgnore = [\"**/dist/**\"]\n")

	settings, err := Load(LoadOptions{Directory: project})
	require.NoError(t, err)

	assert.Equal(t, 9100, settings.Port)
	assert.Equal(t, "0.0.0.0", settings.Host)
	assert.Contains(t, settings.WatchIgnore, "**/dist/**")
	assert.Contains(t, settings.WatchIgnore, "**/.git/**")
}

func TestLoadExplicitYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "preview.yaml")
	writeFile(t, path, "raw: true\nformat: text/plain\nlatexCommand: pandoc --mathjax -f latex -t html\npreviewConcurrency: 2\n")

	settings, err := Load(LoadOptions{File: path})
	require.NoError(t, err)

	assert.True(t, BoolValue(settings.Raw, false))
	assert.Equal(t, "text/plain", settings.Format)
	assert.Equal(t, "pandoc --mathjax -f latex -t html", settings.LaTeXCommand)
	assert.Equal(t, 2, settings.PreviewConcurrency)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	isolate(t)

	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.json")})
	assert.Error(t, err)
}

func TestLoadEnvFileAndEnvironment(t *testing.T) {
	isolate(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	writeFile(t, envFile, "PREVIEW_PORT=7000\nPREVIEW_CORS=true\nPREVIEW_LOG_LEVEL=debug\n")

	t.Setenv("PREVIEW_PORT", "7100")
	t.Setenv("PREVIEW_WATCH", "false")
	t.Setenv("PREVIEW_PREVIEW_CONCURRENCY", "3")

	settings, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)

	// Process environment beats the dotenv file
	assert.Equal(t, 7100, settings.Port)
	assert.True(t, BoolValue(settings.CORS, false))
	assert.False(t, BoolValue(settings.Watch, true))
	assert.Equal(t, "debug", settings.LogLevel)
	assert.Equal(t, 3, settings.PreviewConcurrency)
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	settings := DefaultSettings()
	env := map[string]string{
		"PREVIEW_PORT":                "not-a-port",
		"PREVIEW_RAW":                 "maybe",
		"PREVIEW_PREVIEW_BYTES":       "-5",
		"PREVIEW_PREVIEW_CONCURRENCY": "0",
		"PREVIEW_WATCH_IGNORE":        " **/tmp/** , ,**/build/**",
	}

	applyEnvOverrides(settings, func(key string) string { return env[key] })

	assert.Equal(t, DefaultPort, settings.Port)
	assert.False(t, BoolValue(settings.Raw, true))
	assert.Equal(t, 200, settings.PreviewBytes)
	assert.Equal(t, 8, settings.PreviewConcurrency)
	assert.Equal(t, append(append([]string(nil), DefaultWatchIgnore...), "**/tmp/**", "**/build/**"), settings.WatchIgnore)
}

func TestGetPathsHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	paths := GetPaths()

	assert.Equal(t, filepath.Join("/xdg/config", AppName), paths.Config)
	assert.Equal(t, filepath.Join("/xdg/state", AppName, "preview.log"), paths.LogPath())
}
