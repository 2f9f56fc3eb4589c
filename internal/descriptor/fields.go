package descriptor

import (
	"encoding/base64"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-viper/mapstructure/v2"

	"github.com/scenecast/scenecast/internal/scene"
)

// decodeInto maps a raw entry onto a typed struct using its json tags.
func decodeInto(e Entry, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// objectFields are the generic transform and flag fields shared by every
// object type, including mesh-file objects.
type objectFields struct {
	UUID          string         `json:"uuid"`
	Name          string         `json:"name"`
	Matrix        any            `json:"matrix"`
	Position      any            `json:"position"`
	Rotation      any            `json:"rotation"`
	Quaternion    any            `json:"quaternion"`
	Scale         any            `json:"scale"`
	CastShadow    *bool          `json:"castShadow"`
	ReceiveShadow *bool          `json:"receiveShadow"`
	Visible       *bool          `json:"visible"`
	FrustumCulled *bool          `json:"frustumCulled"`
	RenderOrder   *int           `json:"renderOrder"`
	UserData      map[string]any `json:"userData"`
	Layers        *uint32        `json:"layers"`
	Shadow        *shadowFields  `json:"shadow"`
}

type shadowFields struct {
	Bias    *float64       `json:"bias"`
	Radius  *float64       `json:"radius"`
	MapSize []float64      `json:"mapSize"`
	Camera  map[string]any `json:"camera"`
}

// applyObjectFields sets the generic fields of e onto obj. A matrix takes
// precedence over the separate position/rotation/quaternion/scale fields.
func applyObjectFields(obj *scene.Object, e Entry, refs *Refs) error {
	var f objectFields
	if err := decodeInto(e, &f); err != nil {
		return err
	}
	if f.UUID != "" {
		obj.UUID = f.UUID
	}
	if f.Name != "" {
		obj.Name = f.Name
	}

	if f.Matrix != nil {
		m, err := matrix(f.Matrix)
		if err != nil {
			return err
		}
		if !obj.SetMatrix(m) {
			refs.Warn(fmt.Errorf("object %s: degenerate matrix ignored", f.UUID))
		}
	} else {
		if err := applyTRS(obj, f); err != nil {
			return err
		}
	}

	if f.CastShadow != nil {
		obj.CastShadow = *f.CastShadow
	}
	if f.ReceiveShadow != nil {
		obj.ReceiveShadow = *f.ReceiveShadow
	}
	if f.Shadow != nil {
		if obj.Shadow == nil {
			obj.Shadow = &scene.Shadow{MapSize: [2]float64{512, 512}}
		}
		if f.Shadow.Bias != nil {
			obj.Shadow.Bias = *f.Shadow.Bias
		}
		if f.Shadow.Radius != nil {
			obj.Shadow.Radius = *f.Shadow.Radius
		}
		if len(f.Shadow.MapSize) >= 2 {
			obj.Shadow.MapSize = [2]float64{f.Shadow.MapSize[0], f.Shadow.MapSize[1]}
		}
		if near, ok := scene.Float(f.Shadow.Camera["near"]); ok {
			obj.Shadow.Near = near
		}
		if far, ok := scene.Float(f.Shadow.Camera["far"]); ok {
			obj.Shadow.Far = far
		}
	}
	if f.Visible != nil {
		obj.Visible = *f.Visible
	}
	if f.FrustumCulled != nil {
		obj.FrustumCulled = *f.FrustumCulled
	}
	if f.RenderOrder != nil {
		obj.RenderOrder = *f.RenderOrder
	}
	if f.UserData != nil {
		obj.UserData = f.UserData
	}
	if f.Layers != nil {
		obj.Layers = *f.Layers
	}
	return nil
}

func applyTRS(obj *scene.Object, f objectFields) error {
	if f.Position != nil {
		v, err := vecN(f.Position, 3, "position")
		if err != nil {
			return err
		}
		obj.Position = mgl64.Vec3{v[0], v[1], v[2]}
	}
	if f.Rotation != nil {
		q, err := euler(f.Rotation)
		if err != nil {
			return err
		}
		obj.Quaternion = q
	}
	if f.Quaternion != nil {
		v, err := vecN(f.Quaternion, 4, "quaternion")
		if err != nil {
			return err
		}
		obj.Quaternion = mgl64.Quat{W: v[3], V: mgl64.Vec3{v[0], v[1], v[2]}}
	}
	if f.Scale != nil {
		v, err := vecN(f.Scale, 3, "scale")
		if err != nil {
			return err
		}
		obj.Scale = mgl64.Vec3{v[0], v[1], v[2]}
	}
	return nil
}

func vecN(v any, n int, name string) ([]float64, error) {
	out, err := scene.Floats(v, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	for _, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s is not finite", ErrMalformed, name)
		}
	}
	return out, nil
}

// matrix reads a column-major 4x4 matrix.
func matrix(v any) (mgl64.Mat4, error) {
	vals, err := vecN(v, 16, "matrix")
	if err != nil {
		return mgl64.Mat4{}, err
	}
	if len(vals) != 16 {
		return mgl64.Mat4{}, fmt.Errorf("%w: matrix has %d elements", ErrMalformed, len(vals))
	}
	var m mgl64.Mat4
	copy(m[:], vals)
	return m, nil
}

// euler converts an [x, y, z, order] rotation to a quaternion. The order
// names the axes in the sequence their rotations are multiplied.
func euler(v any) (mgl64.Quat, error) {
	list, ok := v.([]any)
	order := "XYZ"
	if ok && len(list) == 4 {
		if s, isStr := list[3].(string); isStr {
			order = strings.ToUpper(s)
			v = list[:3]
		}
	}
	angles, err := vecN(v, 3, "rotation")
	if err != nil {
		return mgl64.Quat{}, err
	}
	if len(order) != 3 {
		return mgl64.Quat{}, fmt.Errorf("%w: rotation order %q", ErrMalformed, order)
	}
	q := mgl64.QuatIdent()
	for _, axis := range order {
		switch axis {
		case 'X':
			q = q.Mul(mgl64.QuatRotate(angles[0], mgl64.Vec3{1, 0, 0}))
		case 'Y':
			q = q.Mul(mgl64.QuatRotate(angles[1], mgl64.Vec3{0, 1, 0}))
		case 'Z':
			q = q.Mul(mgl64.QuatRotate(angles[2], mgl64.Vec3{0, 0, 1}))
		default:
			return mgl64.Quat{}, fmt.Errorf("%w: rotation order %q", ErrMalformed, order)
		}
	}
	return q, nil
}

// hexColor converts a 0xRRGGBB integer to linear [0,1] components.
func hexColor(v any) ([3]float64, bool) {
	f, ok := scene.Float(v)
	if !ok {
		return [3]float64{}, false
	}
	c := uint32(f)
	return [3]float64{
		float64(c>>16&0xff) / 255,
		float64(c>>8&0xff) / 255,
		float64(c&0xff) / 255,
	}, true
}

func colorHex(c [3]float64) uint32 {
	ch := func(x float64) uint32 { return uint32(math.Round(math.Max(0, math.Min(1, x)) * 255)) }
	return ch(c[0])<<16 | ch(c[1])<<8 | ch(c[2])
}

// payload returns the raw bytes of a data field that may arrive as a
// binary blob, a data URI or plain text.
func payload(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		if strings.HasPrefix(x, "data:") {
			_, data, err := DecodeDataURI(x)
			return data, err
		}
		return []byte(x), nil
	case nil:
		return nil, fmt.Errorf("%w: data", ErrMissingField)
	}
	return nil, fmt.Errorf("%w: data has type %T", ErrMalformed, v)
}

// DecodeDataURI splits a data URI into its media type and decoded body.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data uri")
	}
	meta, body, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data uri without payload")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return "", nil, fmt.Errorf("data uri: %w", err)
		}
		return mime, data, nil
	}
	data, err := url.PathUnescape(body)
	if err != nil {
		return "", nil, fmt.Errorf("data uri: %w", err)
	}
	return mime, []byte(data), nil
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
