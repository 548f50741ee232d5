package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolution describes how root requests behave for a given origin path.
type Resolution struct {
	// BasePath is the absolute directory relative requests are resolved under.
	BasePath string
	// ServeFileOnRoot is true when "/" maps to the origin file itself.
	ServeFileOnRoot bool
	// IsDirectoryInit is true when the server was launched against a directory.
	IsDirectoryInit bool
}

// Resolve stats originPath once and derives the serving root from it.
// A missing or inaccessible path falls back to the current working directory
// so the server still starts; requests will then 404.
func Resolve(originPath string) Resolution {
	info, err := os.Stat(originPath)
	if err != nil {
		cwd, _ := os.Getwd()
		return Resolution{BasePath: cwd}
	}
	if info.IsDir() {
		return Resolution{BasePath: originPath, IsDirectoryInit: true}
	}
	return Resolution{BasePath: filepath.Dir(originPath), ServeFileOnRoot: true}
}

// AbsPath turns a command-line path into an absolute, cleaned path.
// A leading "~" is expanded to the user's home directory and relative paths
// are joined with the current working directory.
func AbsPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, p), nil
}
