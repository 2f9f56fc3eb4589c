package protocol

import (
	"encoding/json"
	"fmt"
)

// ToMap renders a command in wire form. Matrices travel as Float32Array.
func ToMap(cmd Command) map[string]any {
	m := map[string]any{"type": string(cmd.Type())}
	switch c := cmd.(type) {
	case SetTransform:
		m["path"] = c.Path.String()
		mat := make(Float32Array, 16)
		for i, v := range c.Matrix {
			mat[i] = float32(v)
		}
		m["matrix"] = mat
	case SetObject:
		m["path"] = c.Path.String()
		m["object"] = c.Object
	case SetProperty:
		m["path"] = c.Path.String()
		m["property"] = c.Property
		m["value"] = c.Value
	case Delete:
		m["path"] = c.Path.String()
	case SetAnimation:
		anims := make([]any, len(c.Animations))
		for i, a := range c.Animations {
			anims[i] = map[string]any{"path": a.Path.String(), "clip": a.Clip}
		}
		m["animations"] = anims
		m["options"] = map[string]any{
			"play":              c.Options.Play,
			"loopMode":          c.Options.LoopMode,
			"repetitions":       c.Options.Repetitions,
			"clampWhenFinished": c.Options.ClampWhenFinished,
		}
	case SetTarget:
		m["value"] = []float64{c.Target[0], c.Target[1], c.Target[2]}
	case SetControl:
		m["name"] = c.Name
		m["callback"] = c.Callback
		for k, v := range map[string]*float64{"value": c.Value, "min": c.Min, "max": c.Max, "step": c.Step} {
			if v != nil {
				m[k] = *v
			}
		}
	case SetControlValue:
		m["name"] = c.Name
		m["value"] = c.Value
		m["invoke_callback"] = c.InvokeCallback
	case DeleteControl:
		m["name"] = c.Name
	case CaptureImage:
		if c.XRes > 0 {
			m["xres"] = c.XRes
		}
		if c.YRes > 0 {
			m["yres"] = c.YRes
		}
	}
	return m
}

// Encode renders a command as a msgpack message.
func Encode(cmd Command) ([]byte, error) {
	data, err := Marshal(ToMap(cmd))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Type(), err)
	}
	return data, nil
}

// ImageReply is sent in answer to capture_image.
type ImageReply struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewImageReply wraps an image data URI.
func NewImageReply(dataURI string) ([]byte, error) {
	return json.Marshal(ImageReply{Type: "img", Data: dataURI})
}

// ControlEvent reports a user interaction with a producer-defined control.
// Value is omitted for buttons.
type ControlEvent struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    any    `json:"value,omitempty"`
	Callback string `json:"callback,omitempty"`
}

// NewControlEvent encodes a control event.
func NewControlEvent(name string, value any, callback string) ([]byte, error) {
	return json.Marshal(ControlEvent{Type: "control", Name: name, Value: value, Callback: callback})
}
