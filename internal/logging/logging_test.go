package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		logName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			logName: "scenecast",
			want:    filepath.Join("logs", "scenecast.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			logName: "scenecast",
			want:    filepath.Join(".", "logs", "scenecast.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "scenecast"),
			logName: "scenecast",
			want:    filepath.Join("/var", "log", "scenecast", "scenecast.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.logName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"Info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestSetup(t *testing.T) {
	var console, file, sink bytes.Buffer
	nodes := 3
	logger := Setup(&console, "debug",
		WithFile(&file),
		WithWriter(&sink),
		WithContext(func(e *zerolog.Event) { e.Int("nodes", nodes) }),
	)

	logger.Debug().Str("path", "/robot").Msg("Applied transform")
	logger.Trace().Msg("too verbose")

	assert.Contains(t, console.String(), "Applied transform")
	assert.Contains(t, file.String(), "Applied transform")
	assert.NotContains(t, file.String(), "\x1b[", "file output is uncolored")
	assert.NotContains(t, console.String(), "too verbose")

	lines := strings.Split(strings.TrimSpace(sink.String()), "\n")
	require.Len(t, lines, 2, "setup message and one event")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "Applied transform", entry["message"])
	assert.Equal(t, "/robot", entry["path"])
	assert.Equal(t, float64(3), entry["nodes"])
	assert.Contains(t, entry, "time")
}

func TestSampled(t *testing.T) {
	var buf bytes.Buffer
	logger := Sampled(zerolog.New(&buf))
	for range 20 {
		logger.Info().Msg("tick")
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 6, "burst of five then the first of every hundred")
	assert.Contains(t, lines[0], `"sampled":true`)
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f, err := OpenLogFile(dir, "scenecast", start)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, LogFilePath(dir, "scenecast", start), f.Name())
}

func TestRemoveOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	write := func(name string, age time.Duration) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		require.NoError(t, os.Chtimes(p, now.Add(-age), now.Add(-age)))
	}
	write("old.log", 8*24*time.Hour)
	write("recent.log", time.Hour)
	write("old.json", 8*24*time.Hour)

	n, err := RemoveOldLogs(dir, 7*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(dir, "old.log"))
	assert.FileExists(t, filepath.Join(dir, "recent.log"))
	assert.FileExists(t, filepath.Join(dir, "old.json"))

	_, err = RemoveOldLogs(filepath.Join(dir, "missing"), time.Hour, now)
	assert.Error(t, err)
}
