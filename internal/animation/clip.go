// Package animation evaluates keyframe clips against scene objects. Clips
// use the three.js JSON clip format; actions follow three.js loop, clamp
// and time-scale semantics.
package animation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/scenecast/scenecast/internal/scene"
)

// ErrMalformedClip is returned when clip data cannot be parsed.
var ErrMalformedClip = errors.New("malformed clip")

// Interpolation selects how values between keyframes are computed.
type Interpolation int

// Interpolation codes as written by three.js.
const (
	InterpolateDiscrete Interpolation = 2300
	InterpolateLinear   Interpolation = 2301
	// InterpolateSmooth is accepted and evaluated as linear.
	InterpolateSmooth Interpolation = 2302
)

// ValueType is the three.js track type name.
type ValueType string

const (
	TypeNumber     ValueType = "number"
	TypeVector     ValueType = "vector"
	TypeQuaternion ValueType = "quaternion"
	TypeColor      ValueType = "color"
	TypeBool       ValueType = "bool"
)

// Track is one keyframed property. Values holds ValueSize numbers per key;
// bool tracks store 0 or 1.
type Track struct {
	Name          string
	Type          ValueType
	Times         []float64
	Values        []float64
	ValueSize     int
	Interpolation Interpolation
}

// Clip is a named set of tracks with a duration in seconds.
type Clip struct {
	UUID     string
	Name     string
	Duration float64
	Tracks   []*Track
}

type keyEntry struct {
	Time  float64 `json:"time"`
	Value any     `json:"value"`
}

type trackEntry struct {
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Times         any        `json:"times"`
	Values        any        `json:"values"`
	Keys          []keyEntry `json:"keys"`
	Interpolation *int       `json:"interpolation"`
}

type clipEntry struct {
	UUID     string       `json:"uuid"`
	Name     string       `json:"name"`
	Duration *float64     `json:"duration"`
	FPS      float64      `json:"fps"`
	Tracks   []trackEntry `json:"tracks"`
}

// ParseClip decodes a clip in three.js JSON form. Tracks may carry flat
// times/values arrays or a keys list; key times are in frames when the
// clip has an fps field. A missing or negative duration is computed from
// the last key of any track. The clip always gets a fresh UUID.
func ParseClip(data map[string]any) (*Clip, error) {
	var ce clipEntry
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &ce,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClip, err)
	}

	frameTime := 1.0
	if ce.FPS > 0 {
		frameTime = 1 / ce.FPS
	}
	clip := &Clip{UUID: uuid.NewString(), Name: ce.Name, Duration: -1}
	for i := range ce.Tracks {
		tr, err := parseTrack(&ce.Tracks[i])
		if err != nil {
			return nil, fmt.Errorf("%w: track %d (%s): %v", ErrMalformedClip, i, ce.Tracks[i].Name, err)
		}
		for k := range tr.Times {
			tr.Times[k] *= frameTime
		}
		clip.Tracks = append(clip.Tracks, tr)
	}
	if ce.Duration != nil && *ce.Duration >= 0 {
		clip.Duration = *ce.Duration
	} else {
		clip.ResetDuration()
	}
	return clip, nil
}

// ResetDuration sets the duration to the latest key time of any track.
func (c *Clip) ResetDuration() {
	c.Duration = 0
	for _, t := range c.Tracks {
		if n := len(t.Times); n > 0 {
			c.Duration = math.Max(c.Duration, t.Times[n-1])
		}
	}
}

func parseTrack(te *trackEntry) (*Track, error) {
	if te.Name == "" {
		return nil, errors.New("missing name")
	}
	tr := &Track{Name: te.Name, Type: ValueType(te.Type), Interpolation: InterpolateLinear}
	switch tr.Type {
	case TypeNumber, TypeVector, TypeQuaternion, TypeColor, TypeBool:
	case "":
		return nil, errors.New("missing type")
	default:
		return nil, fmt.Errorf("unsupported track type %q", te.Type)
	}
	if te.Interpolation != nil {
		tr.Interpolation = Interpolation(*te.Interpolation)
	}
	if tr.Type == TypeBool {
		tr.Interpolation = InterpolateDiscrete
	}

	if te.Times == nil {
		for _, k := range te.Keys {
			vals, err := trackValues(k.Value)
			if err != nil {
				return nil, err
			}
			tr.Times = append(tr.Times, k.Time)
			tr.Values = append(tr.Values, vals...)
		}
	} else {
		times, err := scene.Floats(te.Times, 0)
		if err != nil {
			return nil, fmt.Errorf("times: %w", err)
		}
		tr.Times = times
		if tr.Values, err = trackValues(te.Values); err != nil {
			return nil, err
		}
	}

	if len(tr.Times) == 0 {
		return nil, errors.New("no keyframes")
	}
	if len(tr.Values)%len(tr.Times) != 0 {
		return nil, fmt.Errorf("%d values for %d keyframes", len(tr.Values), len(tr.Times))
	}
	tr.ValueSize = len(tr.Values) / len(tr.Times)
	if tr.ValueSize == 0 {
		return nil, errors.New("empty values")
	}
	if !sort.Float64sAreSorted(tr.Times) {
		return nil, errors.New("times not ascending")
	}
	return tr, nil
}

// trackValues flattens a key value, a list of numbers, or bools.
func trackValues(v any) ([]float64, error) {
	switch x := v.(type) {
	case bool:
		return []float64{boolValue(x)}, nil
	case []bool:
		out := make([]float64, len(x))
		for i, b := range x {
			out[i] = boolValue(b)
		}
		return out, nil
	case []any:
		out := make([]float64, 0, len(x))
		for i, e := range x {
			if b, ok := e.(bool); ok {
				out = append(out, boolValue(b))
				continue
			}
			f, ok := scene.Float(e)
			if !ok {
				return nil, fmt.Errorf("value %d: expected number or bool, got %T", i, e)
			}
			out = append(out, f)
		}
		return out, nil
	}
	if f, ok := scene.Float(v); ok {
		return []float64{f}, nil
	}
	return scene.Floats(v, 0)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Evaluate writes the track value at time t into out, which must hold
// ValueSize elements. Times outside the keyed range clamp to the first or
// last key.
func (t *Track) Evaluate(at float64, out []float64) {
	n := len(t.Times)
	size := t.ValueSize
	key := func(i int) []float64 { return t.Values[i*size : (i+1)*size] }

	if at <= t.Times[0] {
		copy(out, key(0))
		return
	}
	if at >= t.Times[n-1] {
		copy(out, key(n-1))
		return
	}
	// first key strictly after at
	hi := sort.Search(n, func(i int) bool { return t.Times[i] > at })
	lo := hi - 1
	if t.Interpolation == InterpolateDiscrete {
		copy(out, key(lo))
		return
	}
	span := t.Times[hi] - t.Times[lo]
	alpha := 0.0
	if span > 0 {
		alpha = (at - t.Times[lo]) / span
	}
	a, b := key(lo), key(hi)
	if t.Type == TypeQuaternion && size == 4 {
		qa := mgl64.Quat{W: a[3], V: mgl64.Vec3{a[0], a[1], a[2]}}
		qb := mgl64.Quat{W: b[3], V: mgl64.Vec3{b[0], b[1], b[2]}}
		q := mgl64.QuatSlerp(qa, qb, alpha)
		out[0], out[1], out[2], out[3] = q.V[0], q.V[1], q.V[2], q.W
		return
	}
	for i := range size {
		out[i] = a[i] + (b[i]-a[i])*alpha
	}
}
