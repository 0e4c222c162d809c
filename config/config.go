// Package config loads the optional ".rydestarc.yaml" a CLI invocation or
// REPL session picks up next to the working directory or in $HOME,
// layering a handful of user defaults over the language's own kernel
// settings.
package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the shape of ".rydestarc.yaml". Every field is optional; a
// zero Config behaves exactly like no file being present at all.
type Config struct {
	// Path lists extra directories appended to the kernel "PATH" value a
	// Master seeds for "needs" resolution.
	Path []string `yaml:"path"`

	// Prompt overrides the REPL's default prompt string.
	Prompt string `yaml:"prompt"`

	// Banner overrides the REPL's startup banner; empty keeps the default.
	Banner string `yaml:"banner"`

	// Time, when true, makes "-t/--time" the CLI default rather than
	// something the user has to pass explicitly.
	Time bool `yaml:"time"`

	// Watch, when true, makes "--watch" the CLI default.
	Watch bool `yaml:"watch"`
}

// candidatePaths is the lookup order: the working directory first, then
// the user's home directory.
func candidatePaths() []string {
	paths := []string{".rydestarc.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".rydestarc.yaml"))
	}
	return paths
}

// Load tries each candidate path in turn and parses the first one that
// exists. A missing file at every candidate is not an error — it is
// logged at Debug level and a zero Config is returned so callers can
// apply it unconditionally.
func Load() (*Config, error) {
	for _, path := range candidatePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		slog.Debug("loaded config", "path", path)
		return &cfg, nil
	}
	slog.Debug("no .rydestarc.yaml found, using defaults")
	return &Config{}, nil
}
