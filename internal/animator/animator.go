// Package animator drives clip playback on the scene tree and records the
// rendered output while it plays.
package animator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/animation"
	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/queue"
	"github.com/scenecast/scenecast/internal/scene"
)

// TimeEpsilon is the tolerance used when deciding that a recording has
// reached the end of the loaded clips.
const TimeEpsilon = 1e-6

// StepRate is the frame rate used by StepFrames.
const StepRate = 30.0

// State is the animator's externally visible state.
type State int

const (
	Idle State = iota
	Playing
	Recording
	Encoding
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Recording:
		return "recording"
	case Encoding:
		return "encoding"
	}
	return "idle"
}

// ErrBusy is returned by Record while an export is still running.
var ErrBusy = errors.New("export already in progress")

// Binding attaches one clip, in three.js JSON form, to the node at Path.
type Binding struct {
	Path scene.Path
	Clip map[string]any
}

// Options apply to every binding of one Load.
type Options struct {
	Play              bool
	LoopMode          animation.LoopMode
	Repetitions       int
	ClampWhenFinished bool
}

// DefaultOptions plays each clip once and holds the final pose.
func DefaultOptions() Options {
	return Options{
		Play:              true,
		LoopMode:          animation.LoopOnce,
		Repetitions:       1,
		ClampWhenFinished: true,
	}
}

// Snapshotter returns the most recently rendered frame. The returned image
// belongs to the caller.
type Snapshotter interface {
	Snapshot() (image.Image, error)
}

// Exporter produces recording outputs. *encoder.Exporter implements it.
type Exporter interface {
	NewSequence(f encoder.Format) (encoder.Sequence, error)
	EncodeVideo(ctx context.Context, frames []image.Image, progress func(float64)) (string, error)
}

// Animator owns the mixer for the live animation set. All methods except
// WaitExport must be called from the goroutine that owns the scene tree.
type Animator struct {
	log       zerolog.Logger
	tree      *scene.Tree
	snap      Snapshotter
	exporter  Exporter
	clock     animation.Clock
	markDirty func()
	onStatus  func(string)
	onExport  func(ExportResult)
	maxFrames int

	mixer    *animation.Mixer
	duration float64
	time     float64
	playing  bool
	status   string

	rec recorder
}

// Option configures an Animator.
type Option func(*Animator)

// WithClock replaces the wall clock, for deterministic recording.
func WithClock(c animation.Clock) Option {
	return func(a *Animator) { a.clock = c }
}

// WithDirty registers the render loop's dirty hook.
func WithDirty(fn func()) Option {
	return func(a *Animator) { a.markDirty = fn }
}

// WithStatus registers a callback for status text changes.
func WithStatus(fn func(string)) Option {
	return func(a *Animator) { a.onStatus = fn }
}

// WithMaxFrames bounds the frames held for a video recording. Frames
// past the limit are dropped. Zero means unbounded.
func WithMaxFrames(n int) Option {
	return func(a *Animator) { a.maxFrames = n }
}

// WithExportHook registers a callback run on the owning goroutine after
// every finished export.
func WithExportHook(fn func(ExportResult)) Option {
	return func(a *Animator) { a.onExport = fn }
}

// New returns an idle animator with no clips loaded.
func New(log zerolog.Logger, tree *scene.Tree, snap Snapshotter, exporter Exporter, opts ...Option) *Animator {
	a := &Animator{
		log:       log,
		tree:      tree,
		snap:      snap,
		exporter:  exporter,
		clock:     animation.NewRealClock(),
		markDirty: func() {},
		mixer:     animation.NewMixer(),
	}
	a.rec = recorder{
		format: encoder.FormatMP4,
		events: make(chan exportEvent, 64),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.rec.frames = queue.New[image.Image](a.maxFrames)
	return a
}

// State reports the current state. An export in progress takes precedence
// over playback.
func (a *Animator) State() State {
	switch {
	case a.rec.state == recEncoding:
		return Encoding
	case a.rec.state == recRecording:
		return Recording
	case a.playing:
		return Playing
	}
	return Idle
}

// Duration is the longest clip duration of the live set.
func (a *Animator) Duration() float64 { return a.duration }

// Time is the displayed playback time.
func (a *Animator) Time() float64 { return a.time }

// TimeScale returns the playback speed factor.
func (a *Animator) TimeScale() float64 { return a.mixer.TimeScale }

// SetTimeScale sets the playback speed. Negative values clamp to zero.
func (a *Animator) SetTimeScale(s float64) {
	a.mixer.TimeScale = math.Max(0, s)
}

// Actions returns the live actions.
func (a *Animator) Actions() []*animation.Action { return a.mixer.Actions() }

// Status returns the last status message.
func (a *Animator) Status() string { return a.status }

func (a *Animator) setStatus(msg string) {
	a.status = msg
	if msg != "" {
		a.log.Info().Str("status", msg).Msg("Animator status")
	}
	if a.onStatus != nil {
		a.onStatus(msg)
	}
}

// Load replaces the live animation set. Clips are parsed before anything
// is torn down, so a malformed clip leaves the previous set playing.
func (a *Animator) Load(bindings []Binding, opts Options) error {
	clips := make([]*animation.Clip, len(bindings))
	for i, b := range bindings {
		clip, err := animation.ParseClip(b.Clip)
		if err != nil {
			return fmt.Errorf("animation %s: %w", b.Path, err)
		}
		clips[i] = clip
	}

	a.clear()
	for i, b := range bindings {
		target := a.tree.FindOrCreate(b.Path).Object()
		action := a.mixer.ClipAction(clips[i], target)
		action.ClampWhenFinished = opts.ClampWhenFinished
		action.SetLoop(opts.LoopMode, opts.Repetitions)
		for _, err := range action.Unbound() {
			a.log.Warn().Err(err).Str("path", b.Path.String()).Msg("Animation track has no target")
		}
		a.duration = math.Max(a.duration, clips[i].Duration)
	}
	a.log.Debug().Int("actions", len(bindings)).Float64("duration", a.duration).Msg("Animations loaded")

	a.Reset()
	if opts.Play {
		a.Play()
	}
	return nil
}

func (a *Animator) clear() {
	a.mixer.StopAllAction()
	a.clock.Stop()
	a.playing = false
	a.duration = 0
	a.time = 0
}

// Play starts or resumes playback. A pending recording keeps capturing.
func (a *Animator) Play() {
	a.clock.Start()
	for _, act := range a.mixer.Actions() {
		act.Play()
	}
	a.playing = true
}

// Pause stops playback. When recording, the captured output is exported
// in the background and the animator enters Encoding until it finishes.
func (a *Animator) Pause() {
	a.clock.Stop()
	a.playing = false
	if a.rec.state == recRecording {
		a.startExport()
	}
}

// Reset rewinds every action to time zero, stops playback and discards a
// recording in progress. A running export is left alone.
func (a *Animator) Reset() {
	for _, act := range a.mixer.Actions() {
		act.Reset()
	}
	a.mixer.SetTime(0)
	a.mixer.Evaluate()
	a.playing = false
	a.clock.Stop()
	a.time = 0
	if a.rec.state == recRecording {
		a.rec.discard()
	}
	if a.rec.state != recEncoding {
		a.setStatus("")
	}
	a.markDirty()
}

// Seek moves every action to t, clamped to that action's own clip, and
// applies the resulting pose.
func (a *Animator) Seek(t float64) {
	for _, act := range a.mixer.Actions() {
		act.SetTime(math.Max(0, math.Min(act.Clip().Duration, t)))
	}
	a.mixer.Evaluate()
	a.time = math.Max(0, math.Min(a.duration, t))
	a.markDirty()
}

// StepFrames pauses and moves n frames at StepRate. Negative n steps back.
func (a *Animator) StepFrames(n int) {
	if a.playing {
		a.Pause()
	}
	a.Seek(a.time + float64(n)/StepRate)
}

// Update runs once per render-loop tick. It applies finished exports and,
// while playing, advances the clips and performs the automatic pauses.
func (a *Animator) Update() {
	a.drainExports()
	if !a.playing {
		return
	}
	before := a.mixer.Time()
	a.mixer.Update(a.clock.Delta())
	a.markDirty()
	if a.rec.state == recRecording {
		a.rec.elapsed += a.mixer.Time() - before
	}

	if a.duration != 0 {
		current := 0.0
		for _, act := range a.mixer.Actions() {
			current = math.Max(current, act.Time())
		}
		a.time = math.Min(current, a.duration)
	} else {
		a.time = 0
	}

	switch {
	case a.allFinished():
		a.log.Debug().Msg("Animation finished")
		a.Pause()
	// Looping clips wrap a.time, so recordings stop on elapsed mixer time.
	case a.rec.state == recRecording && a.duration > 0 && a.rec.elapsed >= a.duration-TimeEpsilon:
		a.log.Debug().Msg("Recording reached the end of the animation")
		a.Pause()
	}
}

func (a *Animator) allFinished() bool {
	for _, act := range a.mixer.Actions() {
		if !act.Finished() {
			return false
		}
	}
	return true
}
