// Package config resolves the serving root and loads user settings for preview.
//
// # Serving Root
//
// Resolve stats the path given on the command line exactly once:
//
//   - a directory becomes the base path and "/" lists it
//   - a file makes its parent the base path and "/" serves the file itself
//   - anything else falls back to the current working directory
//
// # Settings
//
// Load merges settings from multiple sources, lowest priority first:
//
//  1. Built-in defaults (DefaultSettings)
//  2. Global settings ($XDG_CONFIG_HOME/preview/config.*)
//  3. Project settings in the served directory (.preview.*)
//  4. An explicit settings file (--config)
//  5. A dotenv file (--env-file), read with joho/godotenv
//  6. PREVIEW_* environment variables
//
// Command-line flags are applied on top by the caller.
//
// # Supported Formats
//
// Settings files are tried with the extensions .jsonc, .json, .toml, .yaml
// and .yml, in that order; the first readable file at each location wins.
// JSONC comments are stripped with tidwall/jsonc, TOML is decoded with
// BurntSushi/toml and YAML with gopkg.in/yaml.v3.
package config
