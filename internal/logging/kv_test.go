package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenecast/scenecast/internal/dispatcher"
)

var _ dispatcher.Logger = (*KV)(nil)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())
	return entry
}

func TestKV_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*KV)
		level string
		msg   string
		want  map[string]any
	}{
		{
			name:  "debug",
			log:   func(l *KV) { l.Debug("applied", "type", "set_transform", "depth", 3) },
			level: "debug",
			msg:   "applied",
			want:  map[string]any{"type": "set_transform", "depth": float64(3)},
		},
		{
			name:  "info",
			log:   func(l *KV) { l.Info("handler registered", "type", "delete") },
			level: "info",
			msg:   "handler registered",
			want:  map[string]any{"type": "delete"},
		},
		{
			name:  "warn",
			log:   func(l *KV) { l.Warn("slow handler", "ms", 120) },
			level: "warn",
			msg:   "slow handler",
			want:  map[string]any{"ms": float64(120)},
		},
		{
			name:  "error value",
			log:   func(l *KV) { l.Error("command failed", "error", errors.New("no such node")) },
			level: "error",
			msg:   "command failed",
			want:  map[string]any{"error": "no such node"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewKV(zerolog.New(&buf).Level(zerolog.DebugLevel), "dispatcher"))

			entry := decodeEntry(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.msg, entry["message"])
			assert.Equal(t, "dispatcher", entry["component"])
			for k, v := range tt.want {
				assert.Equal(t, v, entry[k], k)
			}
		})
	}
}

func TestKV_OddAndNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	NewKV(zerolog.New(&buf), "").Info("simple message", 7, "ignored", "dangling")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "simple message", entry["message"])
	assert.Len(t, entry, 2, "only level and message")
}

func TestKV_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	NewKV(zerolog.New(&buf).Level(zerolog.InfoLevel), "").Debug("hidden", "k", "v")
	assert.Empty(t, buf.String())
}
