package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/config"
	"github.com/scenecast/scenecast/internal/logging"
	intOtel "github.com/scenecast/scenecast/internal/otel"
	"github.com/scenecast/scenecast/internal/viewer"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "scenecast"
)

// logs older than this are removed at startup
const logRetention = 7 * 24 * time.Hour

const usage = `usage: scenecast [command]

commands:
  connect [url]           connect to the producer and run the viewer (default);
                          panel commands are read from stdin, type help
  replay <log> [out.json] apply a recorded command log and save the scene
  version                 print the version

The config file scenecast.cfg.json is read from $SCENECAST_CONFIG_DIR,
or the working directory when unset.`

// app holds the process-wide services.
type app struct {
	log          zerolog.Logger
	logFile      *os.File
	otel         *intOtel.Provider
	metricsFile  *os.File
	sessionStart time.Time

	// set once the viewer is built; read by the log context hook
	viewer atomic.Pointer[viewer.Viewer]
	// panel commands typed by the operator; nil disables the console
	console io.Reader
}

func main() {
	args := os.Args[1:]
	cmd := "connect"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
		args = args[1:]
	}

	switch cmd {
	case "version", "-v", "--version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
		return
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	case "connect", "replay":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}

	a, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "connect":
		url := ""
		if len(args) > 0 {
			url = args[0]
		}
		a.console = os.Stdin
		err = runConnect(ctx, a, url)
	case "replay":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		out := ""
		if len(args) > 1 {
			out = args[1]
		}
		err = runReplay(a, args[0], out)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error().Err(err).Str("command", cmd).Msg("Command failed")
		a.close()
		os.Exit(1)
	}
}

func configDir() string {
	if dir := os.Getenv("SCENECAST_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "."
}

// setup loads config and builds logging and metrics. A missing config
// file is not fatal; defaults apply.
func setup() (*app, error) {
	a := &app{sessionStart: time.Now()}

	cfgErr := config.Load(configDir())

	logsDir := config.GetString("logsDir")
	logFile, err := logging.OpenLogFile(logsDir, AppName, a.sessionStart)
	if err != nil {
		return nil, err
	}
	a.logFile = logFile

	opts := []logging.Option{
		logging.WithFile(logFile),
		logging.WithContext(a.logContext),
	}
	if addr := config.GetGraylogAddress(); addr != "" {
		gw, err := logging.NewGraylogWriter(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "graylog disabled: %v\n", err)
		} else {
			opts = append(opts, logging.WithWriter(gw))
		}
	}
	a.log = logging.Setup(os.Stdout, config.GetString("logLevel"), opts...)
	a.log.Info().Str("version", Version).Str("path", logFile.Name()).Msg("Begin logging in logs directory")
	if cfgErr != nil {
		a.log.Warn().Err(cfgErr).Msg("Failed to load config, using defaults!")
	} else {
		a.log.Info().Msg("Loaded config")
	}

	if n, err := logging.RemoveOldLogs(logsDir, logRetention, a.sessionStart); err != nil {
		a.log.Warn().Err(err).Msg("Failed to clean up old logs")
	} else if n > 0 {
		a.log.Info().Int("removed", n).Msg("Removed old log files")
	}

	otelCfg := config.GetOTelConfig()
	pcfg := intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ExportInterval: otelCfg.ExportInterval,
	}
	if otelCfg.Enabled {
		a.metricsFile, err = os.Create(filepath.Join(logsDir,
			fmt.Sprintf("%s.%s.metrics.json", AppName, a.sessionStart.Format("20060102_150405"))))
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to create metrics file")
			pcfg.Enabled = false
		} else {
			pcfg.MetricWriter = a.metricsFile
		}
	}
	a.otel, err = intOtel.New(pcfg)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to initialize OTel provider")
		a.otel, _ = intOtel.New(intOtel.Config{})
	} else if a.otel.Enabled() {
		a.log.Info().Str("file", a.metricsFile.Name()).Msg("OTel provider initialized")
	}
	return a, nil
}

// logContext adds live viewer state to every log event.
func (a *app) logContext(e *zerolog.Event) {
	v := a.viewer.Load()
	if v == nil {
		return
	}
	s := v.Status()
	e.Int("nodes", s.Nodes).Str("animator", s.Animator)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.log.Error().Err(err).Msg("OTel shutdown failed")
		}
		a.otel = nil
	}
	if a.metricsFile != nil {
		a.metricsFile.Close()
		a.metricsFile = nil
	}
	if a.logFile != nil {
		a.log.Info().Msg("Shutting down")
		a.logFile.Close()
		a.logFile = nil
	}
}
