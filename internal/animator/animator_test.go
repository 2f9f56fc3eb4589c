package animator

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenecast/scenecast/internal/animation"
	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/scene"
)

type fakeSnapshotter struct{ n int }

func (s *fakeSnapshotter) Snapshot() (image.Image, error) {
	s.n++
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

type fakeSequence struct {
	mu      sync.Mutex
	frames  int
	closed  bool
	aborted bool
}

func (s *fakeSequence) AddFrame(image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *fakeSequence) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *fakeSequence) Close() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return "/out/seq.tar", nil
}

func (s *fakeSequence) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

type fakeExporter struct {
	seqs    []*fakeSequence
	err     error
	release chan struct{}
	encoded int
}

func (e *fakeExporter) NewSequence(encoder.Format) (encoder.Sequence, error) {
	s := &fakeSequence{}
	e.seqs = append(e.seqs, s)
	return s, nil
}

func (e *fakeExporter) EncodeVideo(_ context.Context, frames []image.Image, progress func(float64)) (string, error) {
	if e.release != nil {
		<-e.release
	}
	e.encoded = len(frames)
	progress(0.5)
	if e.err != nil {
		return "", e.err
	}
	return "/out/video.mp4", nil
}

type harness struct {
	anim     *Animator
	tree     *scene.Tree
	clock    *animation.ManualClock
	exporter *fakeExporter
	snap     *fakeSnapshotter
	dirty    int
	statuses []string
	exports  []ExportResult
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		tree:     scene.NewTree(scene.NewObject(scene.KindScene, "Scene")),
		clock:    &animation.ManualClock{},
		exporter: &fakeExporter{},
		snap:     &fakeSnapshotter{},
	}
	h.anim = New(zerolog.Nop(), h.tree, h.snap, h.exporter, append([]Option{
		WithClock(h.clock),
		WithDirty(func() { h.dirty++ }),
		WithStatus(func(s string) { h.statuses = append(h.statuses, s) }),
		WithExportHook(func(r ExportResult) { h.exports = append(h.exports, r) }),
	}, opts...)...)
	return h
}

func clip(duration float64) map[string]any {
	return map[string]any{
		"duration": duration,
		"tracks": []any{
			map[string]any{
				"name":   ".position",
				"type":   "vector",
				"times":  []any{0.0, duration},
				"values": []any{0.0, 0.0, 0.0, duration, 0.0, 0.0},
			},
		},
	}
}

func bindings(durations ...float64) []Binding {
	out := make([]Binding, len(durations))
	for i, d := range durations {
		out[i] = Binding{Path: scene.Path{"obj", string(rune('a' + i))}, Clip: clip(d)}
	}
	return out
}

func (h *harness) tick(dt float64) {
	h.clock.Advance(dt)
	h.anim.Update()
}

func waitExport(t *testing.T, a *Animator) ExportResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := a.WaitExport(ctx)
	require.NoError(t, err)
	return res
}

func TestLoad_DurationAndSeekClamp(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.Play = false
	require.NoError(t, h.anim.Load(bindings(2.0, 3.5, 1.0), opts))

	assert.Equal(t, 3.5, h.anim.Duration())
	assert.Equal(t, Idle, h.anim.State())

	h.anim.Seek(10)
	actions := h.anim.Actions()
	require.Len(t, actions, 3)
	assert.Equal(t, 2.0, actions[0].Time())
	assert.Equal(t, 3.5, actions[1].Time())
	assert.Equal(t, 1.0, actions[2].Time())
	assert.Equal(t, 3.5, h.anim.Time())

	obj, ok := h.tree.Find(scene.Path{"obj", "a"})
	require.True(t, ok)
	assert.InDelta(t, 2.0, obj.Object().Position[0], 1e-9)
}

func TestLoad_PlaysByDefault(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1), DefaultOptions()))
	assert.Equal(t, Playing, h.anim.State())
	assert.True(t, h.clock.Running())
}

func TestLoad_MalformedClipKeepsPreviousSet(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1, 2), DefaultOptions()))

	err := h.anim.Load([]Binding{{Path: scene.Path{"x"}, Clip: map[string]any{"tracks": []any{map[string]any{"name": ".position"}}}}}, DefaultOptions())
	require.ErrorIs(t, err, animation.ErrMalformedClip)
	assert.Len(t, h.anim.Actions(), 2)
	assert.Equal(t, 2.0, h.anim.Duration())
}

func TestLoad_ReplacesPreviousSet(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1, 2), DefaultOptions()))
	old := h.anim.Actions()[0]

	require.NoError(t, h.anim.Load(bindings(4), DefaultOptions()))
	assert.Len(t, h.anim.Actions(), 1)
	assert.Equal(t, 4.0, h.anim.Duration())
	assert.False(t, old.Running())
}

func TestUpdate_AdvancesAndAutoPauses(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1, 2), DefaultOptions()))

	before := h.dirty
	h.tick(0.5)
	assert.Equal(t, 0.5, h.anim.Time())
	assert.Greater(t, h.dirty, before)
	assert.Equal(t, Playing, h.anim.State())

	h.tick(1)
	assert.Equal(t, 1.5, h.anim.Time())
	assert.Equal(t, Playing, h.anim.State(), "second clip still running")

	h.tick(1)
	assert.Equal(t, 2.0, h.anim.Time())
	assert.Equal(t, Idle, h.anim.State())
	assert.False(t, h.clock.Running())
}

func TestUpdate_IdleDoesNothing(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.Play = false
	require.NoError(t, h.anim.Load(bindings(1), opts))

	h.tick(0.5)
	assert.Equal(t, 0.0, h.anim.Time())
	assert.Equal(t, 0.0, h.anim.Actions()[0].Time())
}

func TestRecord_MP4StopsAtDurationForLoopingClips(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.LoopMode = animation.LoopRepeat
	opts.Repetitions = 0
	opts.Play = false
	require.NoError(t, h.anim.Load(bindings(1), opts))

	require.NoError(t, h.anim.Record())
	assert.Equal(t, Recording, h.anim.State())

	for range 3 {
		h.tick(0.25)
		h.anim.AfterRender()
	}
	assert.Equal(t, 3, h.anim.CapturedFrames())
	assert.Equal(t, Recording, h.anim.State())

	h.tick(0.25 - TimeEpsilon/2)
	assert.Equal(t, Encoding, h.anim.State())
	assert.Equal(t, 0, h.anim.CapturedFrames())

	res := waitExport(t, h.anim)
	assert.NoError(t, res.Err)
	assert.Equal(t, "/out/video.mp4", res.Path)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 3, h.exporter.encoded)
	assert.Equal(t, Idle, h.anim.State())
	assert.Contains(t, h.statuses, "Encoding MP4: 50.0%")
	assert.Contains(t, h.anim.Status(), "complete")
	require.Len(t, h.exports, 1)
}

func TestRecord_StopsAfterOnePassWithUnevenSteps(t *testing.T) {
	tests := []struct {
		name      string
		loop      animation.LoopMode
		step      float64
		wantTicks int
	}{
		{"repeat", animation.LoopRepeat, 0.0171, 59},
		{"pingpong", animation.LoopPingPong, 0.0171, 59},
		{"repeat 60fps", animation.LoopRepeat, 1.0 / 60, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			opts := DefaultOptions()
			opts.LoopMode = tt.loop
			opts.Repetitions = 0
			require.NoError(t, h.anim.Load(bindings(1), opts))
			require.NoError(t, h.anim.Record())

			ticks := 0
			for ticks < 600 && h.anim.State() == Recording {
				h.tick(tt.step)
				ticks++
				if h.anim.State() == Recording {
					h.anim.AfterRender()
				}
			}
			assert.Equal(t, tt.wantTicks, ticks)
			assert.Equal(t, Encoding, h.anim.State())

			res := waitExport(t, h.anim)
			assert.Equal(t, tt.wantTicks-1, res.Frames)
		})
	}
}

func TestRecord_RejectedWhileEncoding(t *testing.T) {
	h := newHarness(t)
	h.exporter.release = make(chan struct{})
	require.NoError(t, h.anim.Load(bindings(1), DefaultOptions()))

	require.NoError(t, h.anim.Record())
	h.anim.AfterRender()
	h.anim.Pause()
	require.Equal(t, Encoding, h.anim.State())

	assert.ErrorIs(t, h.anim.Record(), ErrBusy)

	// playback continues independently of the export
	h.anim.Play()
	h.tick(0.25)
	assert.Equal(t, 0.25, h.anim.Time())
	assert.Equal(t, Encoding, h.anim.State())

	close(h.exporter.release)
	waitExport(t, h.anim)
	assert.Equal(t, Playing, h.anim.State())
}

func TestRecord_ExportFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{"environment", &encoder.EnvironmentError{Tool: "ffmpeg", Err: errors.New("not found")}, "MP4 failed: ffmpeg is not available. Install ffmpeg or set recording.ffmpegPath."},
		{"generic", encoder.ErrExportFailed, "Error during MP4 encoding."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.exporter.err = tt.err
			require.NoError(t, h.anim.Load(bindings(1), DefaultOptions()))

			require.NoError(t, h.anim.Record())
			h.anim.AfterRender()
			h.anim.AfterRender()
			h.anim.Pause()

			res := waitExport(t, h.anim)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Equal(t, tt.wantStatus, h.anim.Status())
			assert.Equal(t, 0, h.anim.CapturedFrames())
			assert.Equal(t, Idle, h.anim.State())
		})
	}
}

func TestRecord_NoFrames(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1), DefaultOptions()))
	require.NoError(t, h.anim.Record())
	h.anim.Pause()

	assert.Equal(t, Idle, h.anim.State())
	assert.Equal(t, "No frames captured for MP4.", h.anim.Status())
}

func TestRecord_FrameLimit(t *testing.T) {
	h := newHarness(t, WithMaxFrames(2))
	require.NoError(t, h.anim.Load(bindings(10), DefaultOptions()))
	require.NoError(t, h.anim.Record())

	for range 5 {
		h.anim.AfterRender()
	}
	assert.Equal(t, 2, h.anim.CapturedFrames())
	h.anim.Pause()
	assert.Equal(t, "Encoding 2 frames to MP4 (3 over the limit dropped)...", h.statuses[len(h.statuses)-1])

	res := waitExport(t, h.anim)
	assert.Equal(t, 2, res.Frames)

	require.NoError(t, h.anim.Record())
	h.anim.AfterRender()
	assert.Equal(t, 1, h.anim.CapturedFrames(), "limit applies per recording")
}

func TestRecord_ImageSequence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1), DefaultOptions()))
	h.anim.SetFormat(encoder.FormatPNG)
	assert.Equal(t, encoder.FormatPNG, h.anim.Format())

	require.NoError(t, h.anim.Record())
	require.Len(t, h.exporter.seqs, 1)
	seq := h.exporter.seqs[0]

	h.tick(0.5)
	h.anim.AfterRender()
	h.tick(0.3)
	h.anim.AfterRender()
	assert.Equal(t, 2, seq.Frames())
	assert.Equal(t, 0, h.anim.CapturedFrames())

	h.anim.Pause()
	assert.Equal(t, Encoding, h.anim.State())

	res := waitExport(t, h.anim)
	assert.NoError(t, res.Err)
	assert.Equal(t, "/out/seq.tar", res.Path)
	assert.Equal(t, 2, res.Frames)
	assert.True(t, seq.closed)
	assert.Contains(t, h.anim.Status(), "ffmpeg -r 60 -i %07d.png")
}

func TestReset_DiscardsRecording(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(1), DefaultOptions()))
	h.anim.SetFormat(encoder.FormatJPG)
	require.NoError(t, h.anim.Record())
	h.anim.AfterRender()

	h.anim.Reset()
	assert.Equal(t, Idle, h.anim.State())
	assert.True(t, h.exporter.seqs[0].aborted)
	assert.Equal(t, "", h.anim.Status())
	assert.Empty(t, h.exports)
}

func TestStepFramesAndTimeScale(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anim.Load(bindings(2), DefaultOptions()))

	h.anim.StepFrames(3)
	assert.Equal(t, Idle, h.anim.State())
	assert.InDelta(t, 0.1, h.anim.Time(), 1e-9)

	h.anim.StepFrames(-6)
	assert.Equal(t, 0.0, h.anim.Time())

	h.anim.SetTimeScale(-1)
	assert.Equal(t, 0.0, h.anim.TimeScale())

	h.anim.SetTimeScale(2)
	h.anim.Play()
	h.tick(0.5)
	assert.InDelta(t, 1.0, h.anim.Time(), 1e-9)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "playing", Playing.String())
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "encoding", Encoding.String())
}
