package animation

import (
	"github.com/scenecast/scenecast/internal/scene"
)

// Mixer owns a set of actions and advances them together.
type Mixer struct {
	// TimeScale multiplies every delta passed to Update.
	TimeScale float64

	time    float64
	actions []*Action
}

// NewMixer returns an empty mixer with unit time scale.
func NewMixer() *Mixer {
	return &Mixer{TimeScale: 1}
}

// ClipAction creates an action playing clip against root.
func (m *Mixer) ClipAction(clip *Clip, root *scene.Object) *Action {
	a := newAction(clip, root)
	m.actions = append(m.actions, a)
	return a
}

// Actions returns the mixer's actions in creation order.
func (m *Mixer) Actions() []*Action { return m.actions }

// Time returns the accumulated, scaled mixer time.
func (m *Mixer) Time() float64 { return m.time }

// Update advances every scheduled action by dt seconds scaled by
// TimeScale. A zero delta re-applies the current pose.
func (m *Mixer) Update(dt float64) {
	dt *= m.TimeScale
	m.time += dt
	for _, a := range m.actions {
		if a.running {
			a.update(dt)
		}
	}
}

// Evaluate applies every action's pose at its current time, whether or not
// it is scheduled.
func (m *Mixer) Evaluate() {
	for _, a := range m.actions {
		a.update(0)
	}
}

// SetTime rewinds every action and then advances by t.
func (m *Mixer) SetTime(t float64) {
	m.time = 0
	for _, a := range m.actions {
		a.time = 0
	}
	m.Update(t)
}

// StopAllAction stops and forgets every action.
func (m *Mixer) StopAllAction() {
	for _, a := range m.actions {
		a.Stop()
	}
	m.actions = nil
}
