package animation

import (
	"math"

	"github.com/scenecast/scenecast/internal/scene"
)

// LoopMode uses the three.js loop constants.
type LoopMode int

const (
	LoopOnce     LoopMode = 2200
	LoopRepeat   LoopMode = 2201
	LoopPingPong LoopMode = 2202
)

// Action plays one clip against one root object.
type Action struct {
	clip     *Clip
	root     *scene.Object
	bindings []*binding
	unbound  []error

	// ClampWhenFinished holds the final pose when a finite loop ends.
	// Otherwise the action disables itself and its targets return to the
	// values they had before the clip was bound.
	ClampWhenFinished bool
	// TimeScale multiplies the mixer's delta for this action only.
	TimeScale float64

	loop        LoopMode
	repetitions int

	time      float64
	loopCount int
	running   bool
	paused    bool
	enabled   bool
	finished  bool
	restored  bool
}

func newAction(clip *Clip, root *scene.Object) *Action {
	a := &Action{
		clip:        clip,
		root:        root,
		TimeScale:   1,
		loop:        LoopRepeat,
		repetitions: math.MaxInt,
	}
	for _, tr := range clip.Tracks {
		b, err := bind(tr, root)
		if err != nil {
			a.unbound = append(a.unbound, err)
			continue
		}
		a.bindings = append(a.bindings, b)
	}
	a.Reset()
	return a
}

// Clip returns the action's clip.
func (a *Action) Clip() *Clip { return a.clip }

// Root returns the object the action animates.
func (a *Action) Root() *scene.Object { return a.root }

// Unbound lists tracks whose target could not be resolved. They are
// ignored during playback.
func (a *Action) Unbound() []error { return a.unbound }

// SetLoop sets the loop mode and repetition count. A non-positive count
// means unlimited repetitions.
func (a *Action) SetLoop(mode LoopMode, repetitions int) *Action {
	a.loop = mode
	if repetitions <= 0 {
		repetitions = math.MaxInt
	}
	a.repetitions = repetitions
	return a
}

// Loop returns the loop mode and repetition count.
func (a *Action) Loop() (LoopMode, int) { return a.loop, a.repetitions }

// Play schedules the action for mixer updates.
func (a *Action) Play() *Action {
	a.running = true
	return a
}

// Stop unschedules and rewinds the action.
func (a *Action) Stop() *Action {
	a.running = false
	return a.Reset()
}

// Reset rewinds the action to its initial state without changing whether
// it is scheduled.
func (a *Action) Reset() *Action {
	a.paused = false
	a.enabled = true
	a.finished = false
	a.restored = false
	a.time = 0
	a.loopCount = -1
	return a
}

// Running reports whether the action is scheduled and advancing.
func (a *Action) Running() bool {
	return a.running && a.enabled && !a.paused && a.TimeScale != 0
}

// Paused reports whether the action is held, as after a clamped finish.
func (a *Action) Paused() bool { return a.paused }

// Finished reports whether a finite loop has run out.
func (a *Action) Finished() bool { return a.finished }

// Time returns the local action time, before ping-pong mirroring.
func (a *Action) Time() float64 { return a.time }

// SetTime moves the local action time. Values are applied on the next
// mixer update.
func (a *Action) SetTime(t float64) { a.time = t }

// update advances the action by dt seconds of mixer time and applies its
// tracks. An action that finished without clamping puts its targets back
// to their original values once.
func (a *Action) update(dt float64) {
	if !a.enabled {
		if a.finished && !a.restored {
			for _, b := range a.bindings {
				b.restore()
			}
			a.restored = true
		}
		return
	}
	scale := a.TimeScale
	if a.paused {
		scale = 0
	}
	at := a.advance(dt * scale)
	if !a.enabled {
		a.update(0)
		return
	}
	a.apply(at)
}

func (a *Action) apply(at float64) {
	for _, b := range a.bindings {
		// a mismatched user property must not stop the other tracks
		_ = b.apply(at)
	}
}

// advance moves local time by dt and returns the clip time to evaluate.
func (a *Action) advance(dt float64) float64 {
	duration := a.clip.Duration
	t := a.time + dt
	pingPong := a.loop == LoopPingPong

	if dt == 0 {
		if a.loopCount == -1 {
			return t
		}
		if pingPong && a.loopCount&1 == 1 {
			return duration - t
		}
		return t
	}

	if a.loop == LoopOnce {
		if a.loopCount == -1 {
			a.loopCount = 0
		}
		switch {
		case t >= duration:
			t = duration
		case t < 0:
			t = 0
		default:
			a.time = t
			return t
		}
		a.finish()
		a.time = t
		return t
	}

	if a.loopCount == -1 {
		a.loopCount = 0
	}
	if duration <= 0 {
		a.time = 0
		a.finish()
		return 0
	}
	if t >= duration || t < 0 {
		loops := math.Floor(t / duration)
		t -= duration * loops
		a.loopCount += int(math.Abs(loops))
		if a.repetitions-a.loopCount <= 0 {
			a.finish()
			if dt > 0 {
				t = duration
			} else {
				t = 0
			}
		}
	}
	a.time = t
	if pingPong && a.loopCount&1 == 1 {
		return duration - t
	}
	return t
}

func (a *Action) finish() {
	a.finished = true
	if a.ClampWhenFinished {
		a.paused = true
	} else {
		a.enabled = false
	}
}
