package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome overrides the data directory.
const EnvHome = "PLANGATE_HOME"

// GetHome returns the plangate data directory.
// Priority order:
//  1. PLANGATE_HOME environment variable (if set)
//  2. dataDir (the data_dir config key, if set)
//  3. .plangate under the current working directory
//
// The directory is created if it doesn't exist.
func GetHome(dataDir string) (string, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		home = dataDir
	}
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".plangate")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create plangate home directory: %w", err)
	}
	return home, nil
}

// ResolvePath anchors a relative path at home; absolute paths are returned as is.
func ResolvePath(home, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}

// MetricsLogPath returns the absolute path of the metrics event log.
func (c *Config) MetricsLogPath(home string) string {
	p := c.Metrics.Path
	if p == "" {
		p = DefaultConfig().Metrics.Path
	}
	return ResolvePath(home, p)
}

// MetricsIndexPath returns the absolute path of the metrics SQLite index.
func (c *Config) MetricsIndexPath(home string) string {
	p := c.Metrics.IndexPath
	if p == "" {
		p = DefaultConfig().Metrics.IndexPath
	}
	return ResolvePath(home, p)
}

// LogDir returns the directory for run logs.
func LogDir(home string) string {
	return filepath.Join(home, "logs")
}
