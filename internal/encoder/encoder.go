// Package encoder turns recorded frames into files: streamed image-sequence
// tar archives, and MP4 videos assembled by an ffmpeg binary.
package encoder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format is a recording output format.
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
	FormatMP4 Format = "mp4"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatPNG, FormatJPG, FormatMP4:
		return f, nil
	}
	return "", fmt.Errorf("unknown recording format %q", s)
}

// Sequence reports whether frames are streamed into an image archive
// rather than collected for a video.
func (f Format) Sequence() bool { return f == FormatPNG || f == FormatJPG }

// ErrExportFailed marks an export that ran but did not produce a file.
var ErrExportFailed = errors.New("export failed")

// EnvironmentError reports that an external tool the export needs is not
// available. It is a degraded condition rather than a broken recording.
type EnvironmentError struct {
	Tool string
	Err  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Tool, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// SequenceHint tells the user how to turn an extracted image sequence
// into a video.
func SequenceHint(f Format) string {
	return fmt.Sprintf("To convert the still frames into a video, extract the .tar file and run: "+
		"ffmpeg -r 60 -i %%07d.%s -vcodec libx264 -preset slow -crf 18 output.mp4", f)
}

// Config controls where and how exports are written.
type Config struct {
	OutputDir  string
	FFmpegPath string
	// FrameRate of encoded videos. Zero means 30.
	FrameRate int
	// Prefix starts every output file name.
	Prefix string
}

// Exporter writes recordings to Config.OutputDir.
type Exporter struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

// New returns an exporter. Missing config values get defaults.
func New(cfg Config, log zerolog.Logger) *Exporter {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "scenecast"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	return &Exporter{cfg: cfg, log: log, now: time.Now}
}

// outputPath builds a timestamped file name in the output directory,
// creating the directory when needed.
func (e *Exporter) outputPath(kind, ext string) (string, error) {
	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.%s", e.cfg.Prefix, kind, e.now().Format("20060102_150405.000"), ext)
	return filepath.Join(e.cfg.OutputDir, name), nil
}

// WriteFile stores data under a timestamped name in the output directory
// and returns the path.
func (e *Exporter) WriteFile(kind, ext string, data []byte) (string, error) {
	path, err := e.outputPath(kind, ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", kind, err)
	}
	e.log.Info().Str("path", path).Int("bytes", len(data)).Msg("Export written")
	return path, nil
}

// Create opens a new timestamped file in the output directory for
// streamed writes.
func (e *Exporter) Create(kind, ext string) (*os.File, error) {
	path, err := e.outputPath(kind, ext)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return f, nil
}
