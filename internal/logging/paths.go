package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.sagitta/logs, or a temp-dir fallback when the home
// directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sagitta", "logs")
	}
	return filepath.Join(home, ".sagitta", "logs")
}

// DefaultLogPath returns the log file used by the CLI and the watcher.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "sagitta.log")
}

// LogPathIn returns the log file path inside a data directory.
func LogPathIn(dataDir string) string {
	if dataDir == "" {
		return DefaultLogPath()
	}
	return filepath.Join(dataDir, "logs", "sagitta.log")
}
