package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scenecast/scenecast/internal/animator"
	"github.com/scenecast/scenecast/internal/api"
	"github.com/scenecast/scenecast/internal/config"
	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/monitor"
	"github.com/scenecast/scenecast/internal/protocol"
	"github.com/scenecast/scenecast/internal/telemetry"
	"github.com/scenecast/scenecast/internal/transport"
	"github.com/scenecast/scenecast/internal/ui"
	"github.com/scenecast/scenecast/internal/viewer"
)

const (
	statusInterval = 5 * time.Second
	uploadTimeout  = 2 * time.Minute
)

// newViewer builds a viewer from the viewer, recording and export config.
func (a *app) newViewer(opts ...viewer.Option) (*viewer.Viewer, error) {
	vc := config.GetViewerConfig()
	rc := config.GetRecordingConfig()
	ec := config.GetExportConfig()

	format, err := encoder.ParseFormat(rc.Format)
	if err != nil {
		return nil, err
	}
	exports := encoder.New(encoder.Config{
		OutputDir:  rc.OutputDir,
		FFmpegPath: rc.FFmpegPath,
		FrameRate:  rc.FrameRate,
		Prefix:     AppName,
	}, a.log)

	opts = append([]viewer.Option{
		viewer.WithExports(exports),
		viewer.WithAnimatorOptions(animator.WithMaxFrames(rc.MaxFrames)),
	}, opts...)
	v, err := viewer.New(a.log, viewer.Config{
		Width:         vc.Width,
		Height:        vc.Height,
		TickRate:      vc.TickRate,
		CompressScene: ec.CompressScene,
	}, opts...)
	if err != nil {
		return nil, err
	}
	v.Animator().SetFormat(format)
	a.viewer.Store(v)
	return v, nil
}

// uploader sends every exported file to the archive when one is configured.
type uploader struct {
	a      *app
	client *api.Client
	wg     sync.WaitGroup
}

func newUploader(a *app) *uploader {
	ec := config.GetExportConfig()
	if ec.UploadURL == "" {
		return nil
	}
	return &uploader{a: a, client: api.New(ec.UploadURL, ec.APIKey)}
}

func (u *uploader) publish(kind, path string) {
	var meta api.UploadMetadata
	meta.Kind = kind
	if v := u.a.viewer.Load(); v != nil {
		s := v.Status()
		meta.Nodes, meta.Duration = s.Nodes, s.Duration
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		log := u.a.log.With().Str("kind", kind).Str("path", path).Logger()
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		if err := u.client.Healthcheck(ctx); err != nil {
			log.Warn().Err(err).Msg("Archive unreachable, export kept locally")
			return
		}
		if err := u.client.Upload(ctx, path, meta); err != nil {
			log.Error().Err(err).Msg("Upload failed")
			return
		}
		log.Info().Msg("Uploaded export")
	}()
}

func (u *uploader) wait() {
	if u != nil {
		u.wg.Wait()
	}
}

// startTelemetry connects the InfluxDB writer. It returns nil when
// telemetry is disabled or cannot run.
func (a *app) startTelemetry(ctx context.Context) *telemetry.Writer {
	ic := config.GetInfluxConfig()
	if !ic.Enabled {
		return nil
	}
	w := telemetry.New(telemetry.Config{
		Enabled: true,
		URL:     ic.URL(),
		Token:   ic.Token,
		Org:     ic.Org,
		Bucket:  ic.Bucket,
		BackupPath: filepath.Join(config.GetString("logsDir"),
			fmt.Sprintf("%s.%s.lp.gz", AppName, a.sessionStart.Format("20060102_150405"))),
	}, a.log)
	if err := w.Connect(ctx); err != nil {
		a.log.Error().Err(err).Msg("Telemetry unavailable")
		return nil
	}
	return w
}

// runConnect dials the producer at url, or the configured one when url
// is empty, and runs the viewer until ctx is done or the producer is gone.
func runConnect(ctx context.Context, a *app, url string) error {
	tc := config.GetTransportConfig()
	if url != "" {
		tc.URL = url
	}
	client, err := transport.Dial(transport.Config{URL: tc.URL, Reconnect: tc.Reconnect}, a.log)
	if err != nil {
		return err
	}
	defer client.Close()

	panel := ui.NewPanel(a.log, client.Send)
	opts := []viewer.Option{
		viewer.WithControls(panel),
		viewer.WithReply(client.Send),
	}
	if tc.LogFile != "" {
		f, err := os.Create(tc.LogFile)
		if err != nil {
			return fmt.Errorf("creating command log: %w", err)
		}
		cmdLog := protocol.NewLogWriter(f)
		defer func() {
			if err := cmdLog.Flush(); err != nil {
				a.log.Error().Err(err).Msg("Flushing command log failed")
			}
			f.Close()
			a.log.Info().Int("records", cmdLog.Records()).Str("path", tc.LogFile).Msg("Command log closed")
		}()
		opts = append(opts, viewer.WithCommandLog(cmdLog))
	}
	up := newUploader(a)
	if up != nil {
		opts = append(opts, viewer.WithPublisher(up.publish))
	}
	defer up.wait()

	v, err := a.newViewer(opts...)
	if err != nil {
		return err
	}

	var points monitor.PointWriter
	if tw := a.startTelemetry(ctx); tw != nil {
		points = tw
		defer tw.Close()
	}
	mon := monitor.NewService(monitor.Dependencies{
		Logger:     a.log,
		Status:     v.Status,
		Transport:  client.Stats,
		Points:     points,
		StatusFile: filepath.Join(config.GetString("logsDir"), "status.json"),
		Interval:   statusInterval,
	})
	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()

	if a.console != nil {
		go runConsole(ctx, a.console, os.Stderr, panel, a.log)
	}

	a.log.Info().Str("url", tc.URL).Msg("Viewer running")
	err = v.Run(ctx, client.Messages())
	if errors.Is(err, context.Canceled) {
		a.log.Info().Msg("Interrupted")
		return nil
	}
	if err == nil {
		a.log.Warn().Msg("Producer connection closed")
	}
	return err
}

// runReplay applies a command log to a fresh viewer and saves the
// resulting scene to out, or to the export directory when out is empty.
func runReplay(a *app, logPath, out string) error {
	f, err := os.Open(logPath)
	if err != nil {
		return err
	}
	defer f.Close()

	v, err := a.newViewer()
	if err != nil {
		return err
	}

	r := protocol.NewLogReader(f)
	n := 0
	for {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading command log after %d records: %w", n, err)
		}
		v.Handle(msg)
		n++
	}
	v.Tick()

	s := v.Status()
	a.log.Info().Int("records", n).Int64("failed", s.Failed).Int("nodes", s.Nodes).Msg("Replayed command log")

	if out == "" {
		path, err := v.SaveScene()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := v.WriteScene(w, strings.HasSuffix(out, ".gz")); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
