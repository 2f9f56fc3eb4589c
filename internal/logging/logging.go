// Package logging sets up the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, sessionStart.Format("20060102_150405")),
	)
}

// ParseLevel maps a config log level to zerolog. Unknown values mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type setup struct {
	file        io.Writer
	extra       []io.Writer
	contextHook func(e *zerolog.Event)
}

// Option configures Setup.
type Option func(*setup)

// WithFile also writes uncolored console lines to w.
func WithFile(w io.Writer) Option {
	return func(s *setup) { s.file = w }
}

// WithWriter adds a raw JSON sink, such as a Graylog writer.
func WithWriter(w io.Writer) Option {
	return func(s *setup) { s.extra = append(s.extra, w) }
}

// WithContext adds live fields to every event.
func WithContext(fn func(e *zerolog.Event)) Option {
	return func(s *setup) { s.contextHook = fn }
}

// Setup builds the process logger: colored console output on console plus
// the optional file and extra sinks.
func Setup(console io.Writer, level string, opts ...Option) zerolog.Logger {
	var s setup
	for _, opt := range opts {
		opt(&s)
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
		},
	}
	if s.file != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        s.file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}
	writers = append(writers, s.extra...)

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).
		With().Timestamp().Logger()
	if s.contextHook != nil {
		logger = logger.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			s.contextHook(e)
		}))
	}
	logger.Info().Str("loglevel", logger.GetLevel().String()).Msg("Logging set up")
	return logger
}

// NewGraylogWriter dials a GELF UDP endpoint for WithWriter.
func NewGraylogWriter(address string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("graylog writer: %w", err)
	}
	return w, nil
}

// Sampled returns a logger for high-rate events: bursts of 5 per 10
// seconds, then one in 100.
func Sampled(logger zerolog.Logger) zerolog.Logger {
	return logger.With().Bool("sampled", true).Logger().Sample(&zerolog.BurstSampler{
		Burst:       5,
		Period:      10 * time.Second,
		NextSampler: &zerolog.BasicSampler{N: 100},
	})
}

// OpenLogFile creates the logs directory and the session log file.
func OpenLogFile(logsDir, name string, sessionStart time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	return os.OpenFile(LogFilePath(logsDir, name, sessionStart), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// RemoveOldLogs deletes .log files in dir older than maxAge and returns
// how many were removed.
func RemoveOldLogs(dir string, maxAge time.Duration, now time.Time) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".log" {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(dir, f.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
