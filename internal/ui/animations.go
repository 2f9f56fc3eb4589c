package ui

import (
	"errors"
	"slices"

	"github.com/scenecast/scenecast/internal/animator"
	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/scene"
)

var (
	// ErrDetached is returned by panel actions before Attach.
	ErrDetached = errors.New("panel is not attached to a viewer")
	// ErrQueueFull is returned when the viewer cannot take another action.
	ErrQueueFull = errors.New("viewer action queue is full")
)

// Host is the viewer side of the panel. Submit queues fn on the goroutine
// owning the scene; the other methods are only called from inside fn.
type Host interface {
	Submit(fn func()) bool
	Animator() *animator.Animator
	FilterNames(term string) []scene.Path
	EnableFiltered(term string) int
	DisableFiltered(term string) int
}

// AnimationState is what the Animations folder displays, as of the last
// panel action.
type AnimationState struct {
	State    string
	Time     float64
	Duration float64
	Speed    float64
	Format   encoder.Format
	Status   string
}

func (p *Panel) captureAnimation(h Host) {
	a := h.Animator()
	if a == nil {
		return
	}
	st := AnimationState{
		State:    a.State().String(),
		Time:     a.Time(),
		Duration: a.Duration(),
		Speed:    a.TimeScale(),
		Format:   a.Format(),
		Status:   a.Status(),
	}
	p.mu.Lock()
	p.anim = st
	p.mu.Unlock()
}

// Animation returns the animation state last seen by the panel.
func (p *Panel) Animation() AnimationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anim
}

// Play starts or resumes playback.
func (p *Panel) Play() error {
	return p.run(func(h Host) { h.Animator().Play() })
}

// Pause stops playback. A recording in progress is finished and exported.
func (p *Panel) Pause() error {
	return p.run(func(h Host) { h.Animator().Pause() })
}

// Reset rewinds every clip to its start.
func (p *Panel) Reset() error {
	return p.run(func(h Host) { h.Animator().Reset() })
}

// Record starts a recording in the selected format.
func (p *Panel) Record() error {
	return p.run(func(h Host) {
		if err := h.Animator().Record(); err != nil {
			p.log.Warn().Err(err).Msg("Recording not started")
		}
	})
}

// Scrub moves the time slider to t seconds.
func (p *Panel) Scrub(t float64) error {
	return p.run(func(h Host) { h.Animator().Seek(t) })
}

// Step moves n frames, pausing first. Negative n steps back.
func (p *Panel) Step(n int) error {
	return p.run(func(h Host) { h.Animator().StepFrames(n) })
}

// SetSpeed sets the playback time scale.
func (p *Panel) SetSpeed(s float64) error {
	return p.run(func(h Host) { h.Animator().SetTimeScale(s) })
}

// SetFormat selects the recording format by name.
func (p *Panel) SetFormat(name string) error {
	f, err := encoder.ParseFormat(name)
	if err != nil {
		return err
	}
	return p.run(func(h Host) { h.Animator().SetFormat(f) })
}

// Filter narrows the scene outline to nodes whose name contains term,
// with their ancestors.
func (p *Panel) Filter(term string) error {
	return p.run(func(h Host) {
		shown := h.FilterNames(term)
		p.mu.Lock()
		p.filterTerm = term
		p.shown = shown
		p.mu.Unlock()
	})
}

// Shown returns the outline paths produced by the last Filter.
func (p *Panel) Shown() []scene.Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.shown)
}

// EnableFiltered shows every node matching the current filter.
func (p *Panel) EnableFiltered() error {
	return p.toggleFiltered(true)
}

// DisableFiltered hides every node matching the current filter.
func (p *Panel) DisableFiltered() error {
	return p.toggleFiltered(false)
}

func (p *Panel) toggleFiltered(visible bool) error {
	p.mu.Lock()
	term := p.filterTerm
	p.mu.Unlock()
	return p.run(func(h Host) {
		var n int
		if visible {
			n = h.EnableFiltered(term)
		} else {
			n = h.DisableFiltered(term)
		}
		p.log.Debug().Str("term", term).Bool("visible", visible).Int("changed", n).Msg("Filter applied")
	})
}

// Attachable controls are connected to the viewer that owns them.
type Attachable interface {
	Attach(h Host, onChange func())
}

var _ Attachable = (*Panel)(nil)
