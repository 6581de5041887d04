package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetup_WritesJSONRecordsToFile(t *testing.T) {
	// Given: a file-only config in a temp dir
	path := filepath.Join(t.TempDir(), "logs", "sagitta.log")
	cfg := DefaultConfig()
	cfg.FilePath = path

	// When: logging one event
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("sync_complete", slog.Int("files", 3))
	cleanup()

	// Then: the file holds one JSON line with the attributes
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "sync_complete", rec["msg"])
	assert.EqualValues(t, 3, rec["files"])
}

func TestSetup_DebugRecordsFilteredAtInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagitta.log")
	cfg := DefaultConfig()
	cfg.FilePath = path

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Debug("hidden")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRotatingWriter_RotatesAndCapsBackups(t *testing.T) {
	// Given: a writer with a tiny threshold and two backups
	path := filepath.Join(t.TempDir(), "rot.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 16
	w.SetSyncEveryWrite(false)

	// When: writing enough to rotate several times
	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("0123456789abcdef"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Then: current file plus .1 and .2 exist, .3 does not
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
}

func TestLogPathIn(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "logs", "sagitta.log"), LogPathIn("/data"))
	assert.Equal(t, DefaultLogPath(), LogPathIn(""))
}
