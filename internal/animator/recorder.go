package animator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/queue"
)

type recState int

const (
	recIdle recState = iota
	recRecording
	recEncoding
)

// recorder holds capture state. Video frames collect in a queue until the
// recording stops; sequence frames stream straight into the archive.
type recorder struct {
	state  recState
	format encoder.Format
	frames *queue.Queue[image.Image]
	seq    encoder.Sequence
	events chan exportEvent

	elapsed float64
}

func (r *recorder) discard() {
	r.frames.Reset()
	if r.seq != nil {
		r.seq.Abort()
		r.seq = nil
	}
	r.state = recIdle
}

// ExportResult describes one finished export.
type ExportResult struct {
	Format encoder.Format
	Path   string
	Frames int
	Err    error
}

type exportEvent struct {
	progress float64
	done     bool
	result   ExportResult
}

// Format returns the recording format.
func (a *Animator) Format() encoder.Format { return a.rec.format }

// SetFormat changes the recording format and resets playback, discarding
// a recording in progress.
func (a *Animator) SetFormat(f encoder.Format) {
	a.rec.format = f
	a.Reset()
}

// Record rewinds to the start and plays while capturing every rendered
// frame. It fails with ErrBusy while a previous export is still running.
func (a *Animator) Record() error {
	if a.rec.state == recEncoding {
		a.log.Warn().Msg("Recording rejected: export in progress")
		return ErrBusy
	}
	a.Reset()

	label := strings.ToUpper(string(a.rec.format))
	if a.rec.format.Sequence() {
		seq, err := a.exporter.NewSequence(a.rec.format)
		if err != nil {
			a.setStatus(fmt.Sprintf("%s recording failed to start.", label))
			return fmt.Errorf("record: %w", err)
		}
		a.rec.seq = seq
	}
	a.rec.state = recRecording
	a.rec.elapsed = 0
	a.setStatus(fmt.Sprintf("Recording %s... Pause to finish.", label))
	a.Play()
	return nil
}

// AfterRender captures the frame just rendered while recording.
func (a *Animator) AfterRender() {
	if a.rec.state != recRecording {
		return
	}
	img, err := a.snap.Snapshot()
	if err != nil {
		a.log.Error().Err(err).Msg("Frame capture failed")
		return
	}
	if a.rec.seq != nil {
		if err := a.rec.seq.AddFrame(img); err != nil {
			a.log.Error().Err(err).Msg("Failed to add frame to image sequence")
		}
		return
	}
	if !a.rec.frames.Push(img) && a.rec.frames.Dropped() == 1 {
		a.log.Warn().Int("limit", a.rec.frames.Len()).Msg("Video frame limit reached, dropping further frames")
	}
}

// CapturedFrames returns the number of frames held for the pending video.
func (a *Animator) CapturedFrames() int { return a.rec.frames.Len() }

// startExport hands the recording to a background goroutine. The capture
// buffers are detached first so the loop never shares them.
func (a *Animator) startExport() {
	format := a.rec.format
	label := strings.ToUpper(string(format))
	events := a.rec.events

	if seq := a.rec.seq; seq != nil {
		a.rec.seq = nil
		a.rec.state = recEncoding
		a.setStatus(fmt.Sprintf("Stopped %s recording.", label))
		go func() {
			frames := seq.Frames()
			path, err := seq.Close()
			events <- exportEvent{done: true, result: ExportResult{Format: format, Path: path, Frames: frames, Err: err}}
		}()
		return
	}

	dropped := a.rec.frames.Dropped()
	frames := a.rec.frames.Drain()
	a.rec.frames.Reset()
	if len(frames) == 0 {
		a.rec.state = recIdle
		a.setStatus(fmt.Sprintf("No frames captured for %s.", label))
		return
	}
	a.rec.state = recEncoding
	if dropped > 0 {
		a.setStatus(fmt.Sprintf("Encoding %d frames to %s (%d over the limit dropped)...", len(frames), label, dropped))
	} else {
		a.setStatus(fmt.Sprintf("Encoding %d frames to %s...", len(frames), label))
	}
	exporter := a.exporter
	go func() {
		progress := func(ratio float64) {
			select {
			case events <- exportEvent{progress: ratio}:
			default:
			}
		}
		path, err := exporter.EncodeVideo(context.Background(), frames, progress)
		events <- exportEvent{done: true, result: ExportResult{Format: format, Path: path, Frames: len(frames), Err: err}}
	}()
}

// drainExports applies queued export events without blocking.
func (a *Animator) drainExports() {
	for {
		select {
		case ev := <-a.rec.events:
			a.applyExportEvent(ev)
		default:
			return
		}
	}
}

// WaitExport blocks until a running export finishes and applies its
// result. It returns immediately when no export is running. It must be
// called from the owning goroutine.
func (a *Animator) WaitExport(ctx context.Context) (ExportResult, error) {
	for a.rec.state == recEncoding {
		select {
		case ev := <-a.rec.events:
			if a.applyExportEvent(ev) {
				return ev.result, nil
			}
		case <-ctx.Done():
			return ExportResult{}, ctx.Err()
		}
	}
	return ExportResult{}, nil
}

// applyExportEvent reports whether ev finished the export.
func (a *Animator) applyExportEvent(ev exportEvent) bool {
	label := strings.ToUpper(string(a.rec.format))
	if !ev.done {
		if ev.progress > 0 && ev.progress <= 1 {
			a.setStatus(fmt.Sprintf("Encoding %s: %.1f%%", label, ev.progress*100))
		}
		return false
	}

	a.rec.state = recIdle
	res := ev.result
	label = strings.ToUpper(string(res.Format))
	var envErr *encoder.EnvironmentError
	switch {
	case res.Err == nil && res.Format.Sequence():
		a.setStatus(fmt.Sprintf("Saved %s sequence to %s. %s", label, res.Path, encoder.SequenceHint(res.Format)))
	case res.Err == nil:
		a.setStatus(fmt.Sprintf("%s encoding complete: %s", label, res.Path))
	case errors.As(res.Err, &envErr):
		a.log.Warn().Err(res.Err).Msg("Export degraded")
		a.setStatus(fmt.Sprintf("%s failed: %s is not available. Install %s or set recording.ffmpegPath.", label, envErr.Tool, envErr.Tool))
	default:
		a.log.Error().Err(res.Err).Msg("Export failed")
		a.setStatus(fmt.Sprintf("Error during %s encoding.", label))
	}
	if a.onExport != nil {
		a.onExport(res)
	}
	return true
}
