package protocol

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-viper/mapstructure/v2"

	"github.com/scenecast/scenecast/internal/scene"
)

// Type is the wire tag of a command.
type Type string

const (
	TypeSetTransform    Type = "set_transform"
	TypeSetObject       Type = "set_object"
	TypeSetProperty     Type = "set_property"
	TypeDelete          Type = "delete"
	TypeSetAnimation    Type = "set_animation"
	TypeSetTarget       Type = "set_target"
	TypeSetControl      Type = "set_control"
	TypeSetControlValue Type = "set_control_value"
	TypeDeleteControl   Type = "delete_control"
	TypeCaptureImage    Type = "capture_image"
	TypeSaveImage       Type = "save_image"
)

// ProtocolError reports a message that is not a valid command.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Command is one decoded message.
type Command interface {
	Type() Type
}

type SetTransform struct {
	Path scene.Path
	// Matrix is column-major, as sent.
	Matrix mgl64.Mat4
}

type SetObject struct {
	Path   scene.Path
	Object map[string]any
}

type SetProperty struct {
	Path     scene.Path
	Property string
	Value    any
}

type Delete struct {
	Path scene.Path
}

// Animation binds one clip to a path.
type Animation struct {
	Path scene.Path
	Clip map[string]any
}

// AnimationOptions are shared by all animations of one SetAnimation.
// Absent fields keep looping forever without clamping, and play.
type AnimationOptions struct {
	Play              bool
	LoopMode          int
	Repetitions       int
	ClampWhenFinished bool
}

type SetAnimation struct {
	Animations []Animation
	Options    AnimationOptions
}

type SetTarget struct {
	Target mgl64.Vec3
}

// SetControl creates a slider when Value is set, or a button otherwise.
// Callback is opaque text echoed back in control events.
type SetControl struct {
	Name     string
	Callback string
	Value    *float64
	Min      *float64
	Max      *float64
	Step     *float64
}

type SetControlValue struct {
	Name           string
	Value          any
	InvokeCallback bool
}

type DeleteControl struct {
	Name string
}

// CaptureImage requests a snapshot at the given resolution. Zero means
// the default of 1920x1080.
type CaptureImage struct {
	XRes int
	YRes int
}

type SaveImage struct{}

func (SetTransform) Type() Type    { return TypeSetTransform }
func (SetObject) Type() Type       { return TypeSetObject }
func (SetProperty) Type() Type     { return TypeSetProperty }
func (Delete) Type() Type          { return TypeDelete }
func (SetAnimation) Type() Type    { return TypeSetAnimation }
func (SetTarget) Type() Type       { return TypeSetTarget }
func (SetControl) Type() Type      { return TypeSetControl }
func (SetControlValue) Type() Type { return TypeSetControlValue }
func (DeleteControl) Type() Type   { return TypeDeleteControl }
func (CaptureImage) Type() Type    { return TypeCaptureImage }
func (SaveImage) Type() Type       { return TypeSaveImage }

// DefaultLoopMode repeats the clip; see animation.LoopRepeat.
const DefaultLoopMode = 2201

type wireAnimation struct {
	Path string         `json:"path"`
	Clip map[string]any `json:"clip"`
}

type wireOptions struct {
	Play              *bool `json:"play"`
	LoopMode          *int  `json:"loopMode"`
	Repetitions       *int  `json:"repetitions"`
	ClampWhenFinished *bool `json:"clampWhenFinished"`
}

type wireCommand struct {
	Type           string          `json:"type"`
	Path           *string         `json:"path"`
	Matrix         any             `json:"matrix"`
	Object         map[string]any  `json:"object"`
	Property       string          `json:"property"`
	Value          any             `json:"value"`
	Animations     []wireAnimation `json:"animations"`
	Options        *wireOptions    `json:"options"`
	Name           string          `json:"name"`
	Callback       string          `json:"callback"`
	Min            *float64        `json:"min"`
	Max            *float64        `json:"max"`
	Step           *float64        `json:"step"`
	InvokeCallback *bool           `json:"invoke_callback"`
	XRes           *float64        `json:"xres"`
	YRes           *float64        `json:"yres"`
}

// Decode parses one msgpack message into a Command. Every failure is a
// *ProtocolError.
func Decode(data []byte) (Command, error) {
	m, err := Unmarshal(data)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	return DecodeMap(m)
}

// DecodeMap builds a Command from an already decoded message.
func DecodeMap(m map[string]any) (Command, error) {
	var w wireCommand
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &w,
	})
	if err != nil {
		return nil, err
	}
	typ, _ := m["type"].(string)
	if err := dec.Decode(m); err != nil {
		return nil, &ProtocolError{Type: typ, Err: err}
	}
	cmd, err := w.command()
	if err != nil {
		return nil, &ProtocolError{Type: typ, Err: err}
	}
	return cmd, nil
}

var errMissingPath = errors.New("missing path")

func (w *wireCommand) path() (scene.Path, error) {
	if w.Path == nil {
		return nil, errMissingPath
	}
	return scene.SplitPath(*w.Path), nil
}

func (w *wireCommand) command() (Command, error) {
	switch Type(w.Type) {
	case TypeSetTransform:
		p, err := w.path()
		if err != nil {
			return nil, err
		}
		vals, err := scene.Floats(w.Matrix, 16)
		if err != nil {
			return nil, fmt.Errorf("matrix: %w", err)
		}
		var m mgl64.Mat4
		copy(m[:], vals)
		return SetTransform{Path: p, Matrix: m}, nil

	case TypeSetObject:
		p, err := w.path()
		if err != nil {
			return nil, err
		}
		if w.Object == nil {
			return nil, errors.New("missing object")
		}
		return SetObject{Path: p, Object: w.Object}, nil

	case TypeSetProperty:
		p, err := w.path()
		if err != nil {
			return nil, err
		}
		if w.Property == "" {
			return nil, errors.New("missing property")
		}
		return SetProperty{Path: p, Property: w.Property, Value: w.Value}, nil

	case TypeDelete:
		p, err := w.path()
		if err != nil {
			return nil, err
		}
		return Delete{Path: p}, nil

	case TypeSetAnimation:
		cmd := SetAnimation{Options: w.options()}
		for i, a := range w.Animations {
			if a.Clip == nil {
				return nil, fmt.Errorf("animation %d: missing clip", i)
			}
			cmd.Animations = append(cmd.Animations, Animation{Path: scene.SplitPath(a.Path), Clip: a.Clip})
		}
		return cmd, nil

	case TypeSetTarget:
		v, err := scene.Floats(w.Value, 3)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		return SetTarget{Target: mgl64.Vec3{v[0], v[1], v[2]}}, nil

	case TypeSetControl:
		if w.Name == "" {
			return nil, errors.New("missing name")
		}
		cmd := SetControl{Name: w.Name, Callback: w.Callback, Min: w.Min, Max: w.Max, Step: w.Step}
		if w.Value != nil {
			f, ok := scene.Float(w.Value)
			if !ok {
				return nil, fmt.Errorf("value: expected number, got %T", w.Value)
			}
			cmd.Value = &f
		}
		return cmd, nil

	case TypeSetControlValue:
		if w.Name == "" {
			return nil, errors.New("missing name")
		}
		invoke := true
		if w.InvokeCallback != nil {
			invoke = *w.InvokeCallback
		}
		return SetControlValue{Name: w.Name, Value: w.Value, InvokeCallback: invoke}, nil

	case TypeDeleteControl:
		if w.Name == "" {
			return nil, errors.New("missing name")
		}
		return DeleteControl{Name: w.Name}, nil

	case TypeCaptureImage:
		cmd := CaptureImage{}
		if w.XRes != nil {
			cmd.XRes = int(*w.XRes)
		}
		if w.YRes != nil {
			cmd.YRes = int(*w.YRes)
		}
		return cmd, nil

	case TypeSaveImage:
		return SaveImage{}, nil

	case "":
		return nil, errors.New("missing type")
	}
	return nil, fmt.Errorf("unknown command type %q", w.Type)
}

func (w *wireCommand) options() AnimationOptions {
	opts := AnimationOptions{Play: true, LoopMode: DefaultLoopMode}
	if o := w.Options; o != nil {
		if o.Play != nil {
			opts.Play = *o.Play
		}
		if o.LoopMode != nil {
			opts.LoopMode = *o.LoopMode
		}
		if o.Repetitions != nil {
			opts.Repetitions = *o.Repetitions
		}
		if o.ClampWhenFinished != nil {
			opts.ClampWhenFinished = *o.ClampWhenFinished
		}
	}
	return opts
}
