package ui

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/protocol"
	"github.com/scenecast/scenecast/internal/scene"
)

// Field describes one editable property of a node. Zero Max means unbounded.
type Field struct {
	Name string
	Min  float64
	Max  float64
	Step float64
}

// NodeControls are the controls shown for one scene node.
type NodeControls struct {
	Path      scene.Path
	Object    *scene.Object
	Fields    []Field
	Refreshes int
}

// Value returns the current value of a field.
func (n *NodeControls) Value(field string) (any, bool) {
	return n.Object.Field(field)
}

// fieldsFor lists the controls an object gets, after visibility which
// every node has.
func fieldsFor(o *scene.Object) []Field {
	fields := []Field{{Name: "visible"}}
	if o.Light != nil {
		fields = append(fields, Field{Name: "intensity", Step: 0.01})
		if o.Shadow != nil {
			fields = append(fields, Field{Name: "castShadow"})
		}
		if o.Kind == scene.KindPointLight || o.Kind == scene.KindSpotLight {
			fields = append(fields, Field{Name: "distance", Max: 100, Step: 0.1})
		}
	}
	if o.Camera != nil {
		fields = append(fields, Field{Name: "zoom", Step: 0.1})
	}
	return fields
}

// ControlKind distinguishes sliders from buttons.
type ControlKind int

const (
	Button ControlKind = iota
	Slider
)

// Control is a named control defined by the producer. Callback is echoed
// back verbatim in the events it produces.
type Control struct {
	Name     string
	Kind     ControlKind
	Callback string
	Value    float64
	Min      float64
	Max      float64
	Step     float64
}

// Sender delivers an encoded control event to the producer.
type Sender func(msg []byte) error

// Panel is the in-memory control panel. Its methods may be called from
// the viewer loop and from input handlers. User edits reach the scene
// through the attached Host.
type Panel struct {
	mu       sync.Mutex
	log      zerolog.Logger
	send     Sender
	host     Host
	onChange func()
	nodes    map[string]*NodeControls
	controls map[string]*Control
	order    []string

	anim       AnimationState
	filterTerm string
	shown      []scene.Path
}

// NewPanel returns an empty panel. send may be nil when no producer
// is listening.
func NewPanel(log zerolog.Logger, send Sender) *Panel {
	return &Panel{
		log:      log,
		send:     send,
		nodes:    map[string]*NodeControls{},
		controls: map[string]*Control{},
	}
}

// Attach connects the panel to the viewer owning the scene. onChange runs
// on the viewer goroutine after every user edit of a node field. Until a
// panel is attached, edits apply on the caller's goroutine.
func (p *Panel) Attach(h Host, onChange func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.host = h
	p.onChange = onChange
}

// run queues fn on the host goroutine, refreshing the animation state
// shown in the panel afterwards.
func (p *Panel) run(fn func(h Host)) error {
	p.mu.Lock()
	h := p.host
	p.mu.Unlock()
	if h == nil {
		return ErrDetached
	}
	if !h.Submit(func() {
		fn(h)
		p.captureAnimation(h)
	}) {
		return ErrQueueFull
	}
	return nil
}

func key(path scene.Path) string { return strings.Join(path, "/") }

// Bind rebuilds the controls of the node at path for obj.
func (p *Panel) Bind(path scene.Path, obj *scene.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[key(path)] = &NodeControls{Path: slices.Clone(path), Object: obj, Fields: fieldsFor(obj)}
}

func (p *Panel) Unbind(path scene.Path) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, key(path))
}

// Refresh redisplays the node's values after a programmatic change.
func (p *Panel) Refresh(path scene.Path) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.nodes[key(path)]; ok {
		n.Refreshes++
	}
}

// Node returns the controls bound at path.
func (p *Panel) Node(path scene.Path) (*NodeControls, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[key(path)]
	return n, ok
}

// NodeCount returns the number of nodes with controls.
func (p *Panel) NodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// EditNode applies a user edit of a node field. The field is checked
// immediately; the value is applied on the viewer goroutine, where a
// rejected value is logged.
func (p *Panel) EditNode(path scene.Path, field string, value any) error {
	p.mu.Lock()
	n, ok := p.nodes[key(path)]
	h := p.host
	onChange := p.onChange
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no controls at %s: %w", path, scene.ErrInvalidPath)
	}
	if !slices.ContainsFunc(n.Fields, func(f Field) bool { return f.Name == field }) {
		return fmt.Errorf("node %s has no %q control", path, field)
	}
	if h == nil {
		if err := n.Object.ApplyProperty(field, value); err != nil {
			return err
		}
		if onChange != nil {
			onChange()
		}
		return nil
	}
	return p.run(func(Host) {
		if err := n.Object.ApplyProperty(field, value); err != nil {
			p.log.Warn().Err(err).Str("path", path.String()).Str("field", field).Msg("Edit rejected")
			return
		}
		if onChange != nil {
			onChange()
		}
	})
}

// SetControl adds a slider when c.Value is set, or a button otherwise,
// replacing any control with the same name.
func (p *Panel) SetControl(c protocol.SetControl) {
	ctl := &Control{Name: c.Name, Callback: c.Callback, Kind: Button}
	if c.Value != nil {
		ctl.Kind = Slider
		ctl.Value = *c.Value
		ctl.Min, ctl.Max = math.Inf(-1), math.Inf(1)
		if c.Min != nil {
			ctl.Min = *c.Min
		}
		if c.Max != nil {
			ctl.Max = *c.Max
		}
		if c.Step != nil {
			ctl.Step = *c.Step
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.controls[c.Name]; !ok {
		p.order = append(p.order, c.Name)
	}
	p.controls[c.Name] = ctl
}

// SetControlValue moves a slider. With invoke the change is reported to
// the producer as if the user had made it. Buttons and unknown names are
// ignored.
func (p *Panel) SetControlValue(name string, value any, invoke bool) error {
	f, ok := scene.Float(value)
	if !ok {
		return fmt.Errorf("control %q: expected number, got %T", name, value)
	}
	p.mu.Lock()
	ctl, ok := p.controls[name]
	if !ok || ctl.Kind != Slider {
		p.mu.Unlock()
		return nil
	}
	ctl.Value = ctl.constrain(f)
	ev := *ctl
	p.mu.Unlock()

	if invoke {
		return p.emit(ev.Name, ev.Value, ev.Callback)
	}
	return nil
}

// DeleteControl removes a named control.
func (p *Panel) DeleteControl(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.controls, name)
	p.order = slices.DeleteFunc(p.order, func(n string) bool { return n == name })
}

// Control returns a copy of a named control.
func (p *Panel) Control(name string) (Control, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.controls[name]
	if !ok {
		return Control{}, false
	}
	return *c, true
}

// ControlNames returns control names in creation order.
func (p *Panel) ControlNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.order)
}

// Press handles a user click on a button.
func (p *Panel) Press(name string) error {
	p.mu.Lock()
	ctl, ok := p.controls[name]
	if !ok || ctl.Kind != Button {
		p.mu.Unlock()
		return fmt.Errorf("no button %q", name)
	}
	cb := ctl.Callback
	p.mu.Unlock()
	return p.emit(name, nil, cb)
}

// Slide handles a user drag of a slider.
func (p *Panel) Slide(name string, value float64) error {
	return p.SetControlValue(name, value, true)
}

func (p *Panel) emit(name string, value any, callback string) error {
	msg, err := protocol.NewControlEvent(name, value, callback)
	if err != nil {
		return fmt.Errorf("encode control event: %w", err)
	}
	if p.send == nil {
		p.log.Debug().Str("control", name).Msg("No producer connected, dropping control event")
		return nil
	}
	if err := p.send(msg); err != nil {
		return fmt.Errorf("send control event %q: %w", name, err)
	}
	return nil
}

// constrain clamps v to the slider range and snaps it to the step grid.
func (c *Control) constrain(v float64) float64 {
	v = math.Max(c.Min, math.Min(c.Max, v))
	if c.Step > 0 {
		base := c.Min
		if math.IsInf(base, 0) {
			base = 0
		}
		v = base + math.Round((v-base)/c.Step)*c.Step
		v = math.Min(c.Max, v)
	}
	return v
}
