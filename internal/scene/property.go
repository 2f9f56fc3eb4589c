package scene

import (
	"fmt"
	"reflect"

	"github.com/go-gl/mathgl/mgl64"
)

// PropertyKind selects how SetProperty applies a value.
type PropertyKind int

const (
	// PropertyField assigns the value to the object's like-named field.
	PropertyField PropertyKind = iota
	PropertyPosition
	PropertyQuaternion
	PropertyScale
	// PropertyColor sets RGBA on every material in the subtree.
	PropertyColor
	// PropertyTopColor and PropertyBottomColor store background gradient
	// colors in 0..255 channels.
	PropertyTopColor
	PropertyBottomColor
)

// ParsePropertyKind maps a property name to its kind.
func ParsePropertyKind(name string) PropertyKind {
	switch name {
	case "position":
		return PropertyPosition
	case "quaternion":
		return PropertyQuaternion
	case "scale":
		return PropertyScale
	case "color":
		return PropertyColor
	case "top_color":
		return PropertyTopColor
	case "bottom_color":
		return PropertyBottomColor
	}
	return PropertyField
}

type propertyHandler func(o *Object, name string, value any) error

var propertyHandlers = map[PropertyKind]propertyHandler{
	PropertyField: setField,
	PropertyPosition: func(o *Object, name string, value any) error {
		v, err := Floats(value, 3)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		o.Position = mgl64.Vec3{v[0], v[1], v[2]}
		return nil
	},
	PropertyQuaternion: func(o *Object, name string, value any) error {
		v, err := Floats(value, 4)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		// wire order is x, y, z, w
		o.Quaternion = mgl64.Quat{W: v[3], V: mgl64.Vec3{v[0], v[1], v[2]}}
		return nil
	},
	PropertyScale: func(o *Object, name string, value any) error {
		v, err := Floats(value, 3)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		o.Scale = mgl64.Vec3{v[0], v[1], v[2]}
		return nil
	},
	PropertyColor: func(o *Object, name string, value any) error {
		v, err := Floats(value, 4)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		o.Traverse(func(c *Object) {
			for _, m := range c.Materials {
				if m == nil {
					continue
				}
				m.Color = [3]float64{v[0], v[1], v[2]}
				m.Opacity = v[3]
				m.Transparent = v[3] != 1
			}
		})
		return nil
	},
	PropertyTopColor:    setGradientColor,
	PropertyBottomColor: setGradientColor,
}

// ApplyProperty applies a named property to o using the handler for its kind.
func (o *Object) ApplyProperty(name string, value any) error {
	return propertyHandlers[ParsePropertyKind(name)](o, name, value)
}

func setGradientColor(o *Object, name string, value any) error {
	v, err := Floats(value, 3)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	scaled := make([]float64, len(v))
	for i, x := range v {
		scaled[i] = x * 255
	}
	o.Props[name] = scaled
	return nil
}

// setField assigns value to a named field of o. Names without a dedicated
// field are kept in Props.
func setField(o *Object, name string, value any) error {
	switch name {
	case "visible":
		return assignBool(&o.Visible, name, value)
	case "castShadow":
		return assignBool(&o.CastShadow, name, value)
	case "receiveShadow":
		return assignBool(&o.ReceiveShadow, name, value)
	case "frustumCulled":
		return assignBool(&o.FrustumCulled, name, value)
	case "name":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected string, got %T", name, value)
		}
		o.Name = s
		return nil
	case "renderOrder":
		f, ok := Float(value)
		if !ok {
			return fmt.Errorf("%s: expected number, got %T", name, value)
		}
		o.RenderOrder = int(f)
		return nil
	case "layers":
		f, ok := Float(value)
		if !ok {
			return fmt.Errorf("%s: expected number, got %T", name, value)
		}
		o.Layers = uint32(f)
		return nil
	}

	if o.Light != nil {
		switch name {
		case "intensity":
			return assignFloat(&o.Light.Intensity, name, value)
		case "distance":
			return assignFloat(&o.Light.Distance, name, value)
		case "decay":
			return assignFloat(&o.Light.Decay, name, value)
		case "angle":
			return assignFloat(&o.Light.Angle, name, value)
		case "penumbra":
			return assignFloat(&o.Light.Penumbra, name, value)
		}
	}
	if o.Camera != nil {
		switch name {
		case "zoom":
			return assignFloat(&o.Camera.Zoom, name, value)
		case "fov":
			return assignFloat(&o.Camera.Fov, name, value)
		case "near":
			return assignFloat(&o.Camera.Near, name, value)
		case "far":
			return assignFloat(&o.Camera.Far, name, value)
		case "aspect":
			return assignFloat(&o.Camera.Aspect, name, value)
		}
	}

	o.Props[name] = value
	return nil
}

// Field returns the current value of a named field, as set by setField.
func (o *Object) Field(name string) (any, bool) {
	switch name {
	case "visible":
		return o.Visible, true
	case "castShadow":
		return o.CastShadow, true
	case "receiveShadow":
		return o.ReceiveShadow, true
	case "frustumCulled":
		return o.FrustumCulled, true
	case "name":
		return o.Name, true
	case "renderOrder":
		return o.RenderOrder, true
	case "layers":
		return o.Layers, true
	}
	if o.Light != nil {
		switch name {
		case "intensity":
			return o.Light.Intensity, true
		case "distance":
			return o.Light.Distance, true
		case "decay":
			return o.Light.Decay, true
		case "angle":
			return o.Light.Angle, true
		case "penumbra":
			return o.Light.Penumbra, true
		}
	}
	if o.Camera != nil {
		switch name {
		case "zoom":
			return o.Camera.Zoom, true
		case "fov":
			return o.Camera.Fov, true
		case "near":
			return o.Camera.Near, true
		case "far":
			return o.Camera.Far, true
		case "aspect":
			return o.Camera.Aspect, true
		}
	}
	v, ok := o.Props[name]
	return v, ok
}

func assignBool(dst *bool, name string, value any) error {
	b, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%s: expected bool, got %T", name, value)
	}
	*dst = b
	return nil
}

func assignFloat(dst *float64, name string, value any) error {
	f, ok := Float(value)
	if !ok {
		return fmt.Errorf("%s: expected number, got %T", name, value)
	}
	*dst = f
	return nil
}

// Float converts any numeric value to float64.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// Floats converts a numeric sequence to float64s. It requires at least n
// elements when n > 0.
func Floats(v any, n int) ([]float64, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("expected numeric sequence, got %T", v)
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := Float(rv.Index(i).Interface())
		if !ok {
			return nil, fmt.Errorf("element %d: expected number, got %T", i, rv.Index(i).Interface())
		}
		out[i] = f
	}
	if n > 0 && len(out) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(out))
	}
	return out, nil
}
