package encoder

import (
	"archive/tar"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExporter(t *testing.T, cfg Config) *Exporter {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	e := New(cfg, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func frame(c uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{c, c, c, 255})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in       string
		want     Format
		sequence bool
		wantErr  bool
	}{
		{"png", FormatPNG, true, false},
		{"JPG", FormatJPG, true, false},
		{"mp4", FormatMP4, false, false},
		{"gif", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.sequence, got.Sequence())
		})
	}
}

func TestTarSequence(t *testing.T) {
	e := testExporter(t, Config{})
	seq, err := e.NewSequence(FormatPNG)
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, seq.AddFrame(frame(uint8(i*100))))
	}
	assert.Equal(t, 3, seq.Frames())

	path, err := seq.Close()
	require.NoError(t, err)
	assert.Equal(t, ".tar", filepath.Ext(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "scenecast_png_20260301_120000"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(f)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		img, err := png.Decode(tr)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	}
	assert.Equal(t, []string{"0000000.png", "0000001.png", "0000002.png"}, names)

	_, err = seq.Close()
	assert.Error(t, err)
	assert.Error(t, seq.AddFrame(frame(0)))
}

func TestTarSequence_JPGAndAbort(t *testing.T) {
	dir := t.TempDir()
	e := testExporter(t, Config{OutputDir: dir})

	seq, err := e.NewSequence(FormatJPG)
	require.NoError(t, err)
	require.NoError(t, seq.AddFrame(frame(10)))
	seq.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = e.NewSequence(FormatMP4)
	assert.Error(t, err)
}

func TestEncodeVideo_Environment(t *testing.T) {
	e := testExporter(t, Config{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")})

	_, err := e.EncodeVideo(context.Background(), []image.Image{frame(1)}, nil)
	var envErr *EnvironmentError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "ffmpeg", envErr.Tool)
	assert.NotErrorIs(t, err, ErrExportFailed)

	_, err = e.EncodeVideo(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrExportFailed)
}

// fakeFFmpeg writes a shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestEncodeVideo_Success(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done
test -f frame_0000001.png || exit 3
test -f frame_0000002.png || exit 3
echo frame=1
echo progress=continue
echo frame=2
echo progress=end
: > "$last"
`)
	outDir := t.TempDir()
	e := testExporter(t, Config{FFmpegPath: bin, OutputDir: outDir})

	var ratios []float64
	path, err := e.EncodeVideo(context.Background(), []image.Image{frame(1), frame(2)}, func(r float64) {
		ratios = append(ratios, r)
	})
	require.NoError(t, err)
	assert.Equal(t, outDir, filepath.Dir(path))
	assert.Equal(t, ".mp4", filepath.Ext(path))
	assert.FileExists(t, path)
	assert.Equal(t, []float64{0.5, 1}, ratios)
}

func TestEncodeVideo_Failure(t *testing.T) {
	bin := fakeFFmpeg(t, "echo 'Unknown encoder libx264' >&2\nexit 1\n")
	outDir := t.TempDir()
	e := testExporter(t, Config{FFmpegPath: bin, OutputDir: outDir})

	_, err := e.EncodeVideo(context.Background(), []image.Image{frame(1)}, nil)
	require.ErrorIs(t, err, ErrExportFailed)
	assert.Contains(t, err.Error(), "Unknown encoder libx264")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs(30, "out.mp4")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-r 30 -i frame_%07d.png")
	assert.Contains(t, joined, "-pix_fmt yuv420p")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestReadProgress(t *testing.T) {
	var got []float64
	readProgress(strings.NewReader("frame=0\nfps=0\nframe=5\nframe=bad\nframe=20\nprogress=end\n"), 10, func(r float64) {
		got = append(got, r)
	})
	assert.Equal(t, []float64{0.5, 1}, got)
}

func TestSequenceHint(t *testing.T) {
	assert.Contains(t, SequenceHint(FormatJPG), "ffmpeg -r 60 -i %07d.jpg")
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	e := testExporter(t, Config{OutputDir: dir, Prefix: "shot"})

	path, err := e.WriteFile("image", "png", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shot_image_20260301_120000.000.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	f, err := e.Create("scene", "json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shot_scene_20260301_120000.000.json"), f.Name())
	require.NoError(t, f.Close())
}
