package animation

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/scenecast/scenecast/internal/scene"
)

// trackName is a parsed three.js track name such as ".position",
// "arm.quaternion", ".material.opacity" or ".position[x]".
type trackName struct {
	node     string
	material bool
	property string
	index    int
}

var componentIndex = map[string]int{"x": 0, "y": 1, "z": 2, "w": 3, "r": 0, "g": 1, "b": 2}

func parseTrackName(name string) (trackName, error) {
	tn := trackName{index: -1}
	if open := strings.IndexByte(name, '['); open >= 0 {
		if !strings.HasSuffix(name, "]") {
			return tn, fmt.Errorf("track %q: unterminated index", name)
		}
		idx := name[open+1 : len(name)-1]
		i, ok := componentIndex[idx]
		if !ok {
			if _, err := fmt.Sscanf(idx, "%d", &i); err != nil {
				return tn, fmt.Errorf("track %q: bad index %q", name, idx)
			}
		}
		tn.index = i
		name = name[:open]
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return tn, fmt.Errorf("track %q: expected node.property", name)
	}
	tn.property = parts[len(parts)-1]
	rest := parts[:len(parts)-1]
	if n := len(rest); n > 0 && rest[n-1] == "material" {
		tn.material = true
		rest = rest[:n-1]
	}
	tn.node = strings.Join(rest, ".")
	if tn.property == "" {
		return tn, fmt.Errorf("track %q: empty property", name)
	}
	return tn, nil
}

// binding applies one track's values to one object.
type binding struct {
	track  *Track
	target *scene.Object
	name   trackName
	buf    []float64
	orig   []float64
}

// bind resolves a track against root. An empty node name targets root
// itself; otherwise the first descendant with a matching name or UUID.
func bind(tr *Track, root *scene.Object) (*binding, error) {
	tn, err := parseTrackName(tr.Name)
	if err != nil {
		return nil, err
	}
	target := root
	if tn.node != "" {
		target = nil
		root.Traverse(func(o *scene.Object) {
			if target == nil && (o.Name == tn.node || o.UUID == tn.node) {
				target = o
			}
		})
		if target == nil {
			return nil, fmt.Errorf("track %q: no node named %q", tr.Name, tn.node)
		}
	}
	b := &binding{track: tr, target: target, name: tn, buf: make([]float64, tr.ValueSize)}
	b.orig = b.read()
	return b, nil
}

func (b *binding) apply(at float64) error {
	b.track.Evaluate(at, b.buf)
	return b.set(b.buf)
}

// restore puts back the value the target had when the track was bound.
func (b *binding) restore() {
	if b.orig != nil {
		_ = b.set(b.orig)
	}
}

// read returns the target's current value, or nil when it has none.
func (b *binding) read() []float64 {
	o := b.target
	pick := func(v []float64) []float64 {
		if b.name.index >= 0 {
			if b.name.index < len(v) {
				return []float64{v[b.name.index]}
			}
			return nil
		}
		return v
	}
	if b.name.material {
		m := o.Material()
		if m == nil {
			return nil
		}
		switch b.name.property {
		case "opacity":
			return []float64{m.Opacity}
		case "color":
			return pick(m.Color[:])
		}
		if f, ok := scene.Float(m.Props[b.name.property]); ok {
			return []float64{f}
		}
		return nil
	}
	switch b.name.property {
	case "position":
		return pick([]float64{o.Position[0], o.Position[1], o.Position[2]})
	case "scale":
		return pick([]float64{o.Scale[0], o.Scale[1], o.Scale[2]})
	case "quaternion":
		q := o.Quaternion
		return []float64{q.V[0], q.V[1], q.V[2], q.W}
	case "rotation":
		return nil
	case "visible":
		return []float64{boolValue(o.Visible)}
	}
	v, ok := o.Field(b.name.property)
	if !ok {
		return nil
	}
	if f, ok := scene.Float(v); ok {
		return []float64{f}
	}
	if vals, err := scene.Floats(v, 0); err == nil {
		return vals
	}
	return nil
}

func (b *binding) set(v []float64) error {
	o := b.target

	if b.name.material {
		for _, m := range o.Materials {
			if m == nil {
				continue
			}
			switch b.name.property {
			case "opacity":
				m.Opacity = v[0]
				m.Transparent = m.Opacity < 1
			case "color":
				if len(v) >= 3 {
					m.Color = [3]float64{v[0], v[1], v[2]}
				} else if b.name.index >= 0 && b.name.index < 3 {
					m.Color[b.name.index] = v[0]
				}
			default:
				m.Props[b.name.property] = v[0]
			}
		}
		return nil
	}

	switch b.name.property {
	case "position":
		setVec(&o.Position, v, b.name.index)
	case "scale":
		setVec(&o.Scale, v, b.name.index)
	case "quaternion":
		if len(v) < 4 {
			return fmt.Errorf("track %q: quaternion needs 4 values", b.track.Name)
		}
		o.Quaternion = mgl64.Quat{W: v[3], V: mgl64.Vec3{v[0], v[1], v[2]}}.Normalize()
	case "rotation":
		if len(v) < 3 {
			return fmt.Errorf("track %q: rotation needs 3 values", b.track.Name)
		}
		o.Quaternion = mgl64.AnglesToQuat(v[0], v[1], v[2], mgl64.XYZ)
	case "visible":
		o.Visible = v[0] >= 0.5
	default:
		if len(v) == 1 {
			return o.ApplyProperty(b.name.property, v[0])
		}
		return o.ApplyProperty(b.name.property, append([]float64(nil), v...))
	}
	return nil
}

func setVec(dst *mgl64.Vec3, v []float64, index int) {
	if index >= 0 {
		if index < 3 {
			dst[index] = v[0]
		}
		return
	}
	for i := 0; i < 3 && i < len(v); i++ {
		dst[i] = v[i]
	}
}
