package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenecast/scenecast/internal/config"
	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/protocol"
	"github.com/scenecast/scenecast/internal/scene"
	"github.com/scenecast/scenecast/internal/ui"
	"github.com/scenecast/scenecast/internal/viewer"
)

func loadTestConfig(t *testing.T, body string) string {
	t.Helper()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0644))
	require.NoError(t, config.Load(dir))
	return dir
}

func writeCommandLog(t *testing.T, path string, msgs ...map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	lw := protocol.NewLogWriter(&buf)
	for _, m := range msgs {
		data, err := protocol.Marshal(m)
		require.NoError(t, err)
		require.NoError(t, lw.Write(data))
	}
	require.NoError(t, lw.Flush())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestRunReplay(t *testing.T) {
	dir := loadTestConfig(t, fmt.Sprintf(`{
		"viewer": { "width": 64, "height": 32 },
		"recording": { "outputDir": %q, "format": "png" }
	}`, t.TempDir()))

	logPath := filepath.Join(dir, "commands.log")
	writeCommandLog(t, logPath,
		map[string]any{"type": "set_property", "path": "/Grid", "property": "visible", "value": false},
		map[string]any{"type": "delete", "path": "/Axes"},
		map[string]any{"type": "no_such_command"},
	)

	a := &app{log: zerolog.Nop()}
	out := filepath.Join(dir, "scene.json.gz")
	require.NoError(t, runReplay(a, logPath, out))

	v := a.viewer.Load()
	require.NotNil(t, v)
	assert.Equal(t, encoder.FormatPNG, v.Animator().Format())
	assert.Equal(t, int64(1), v.Status().Failed)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	loaded, err := viewer.New(zerolog.Nop(), viewer.Config{Width: 64, Height: 32})
	require.NoError(t, err)
	require.NoError(t, loaded.LoadScene(f))

	grid, ok := loaded.Tree().Find(scene.Path{"Grid"})
	require.True(t, ok)
	assert.False(t, grid.Object().Visible)
	_, ok = loaded.Tree().Find(scene.Path{"Axes"})
	assert.False(t, ok)
}

func TestRunReplay_Errors(t *testing.T) {
	dir := loadTestConfig(t, `{ "recording": { "format": "gif" } }`)
	a := &app{log: zerolog.Nop()}

	assert.Error(t, runReplay(a, filepath.Join(dir, "missing.log"), ""))

	logPath := filepath.Join(dir, "commands.log")
	writeCommandLog(t, logPath)
	assert.ErrorContains(t, runReplay(a, logPath, ""), "unknown recording format")
}

func TestNewUploader_Disabled(t *testing.T) {
	loadTestConfig(t, `{}`)
	up := newUploader(&app{log: zerolog.Nop()})
	assert.Nil(t, up)
	up.wait()
}

func TestRunConsole(t *testing.T) {
	panel := ui.NewPanel(zerolog.Nop(), nil)
	v, err := viewer.New(zerolog.Nop(), viewer.Config{Width: 32, Height: 32}, viewer.WithControls(panel),
		viewer.WithExports(encoder.New(encoder.Config{OutputDir: t.TempDir()}, zerolog.Nop())))
	require.NoError(t, err)

	input := strings.Join([]string{
		"filter fill",
		"hide",
		"speed 2",
		"",
		"set /Grid visible false",
		"FORMAT jpg",
		"bogus",
		"seek soon",
		"step",
		"help",
	}, "\n")
	var out bytes.Buffer
	runConsole(context.Background(), strings.NewReader(input), &out, panel, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, v.Submit(cancel))
	require.ErrorIs(t, v.Run(ctx, nil), context.Canceled)

	grid, _ := v.Tree().Find(scene.Path{"Grid"})
	assert.False(t, grid.Object().Visible)
	fill, _ := v.Tree().Find(scene.Path{"Lights", "FillLight"})
	assert.False(t, fill.Object().Visible)
	assert.Equal(t, 2.0, v.Animator().TimeScale())
	assert.Equal(t, encoder.FormatJPG, v.Animator().Format())

	assert.Contains(t, out.String(), "bogus: unknown command")
	assert.Contains(t, out.String(), "seek: strconv.ParseFloat")
	assert.Contains(t, out.String(), "step: expected 1 argument(s), got 0")
	assert.Contains(t, out.String(), "Console commands:")
}

func TestParseConsoleValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"0.5", 0.5},
		{"3", 3.0},
		{"1", 1.0},
		{"red", "red"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseConsoleValue(tt.in))
		})
	}
}
