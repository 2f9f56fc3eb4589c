package descriptor

import (
	"bytes"
	"image/png"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/scenecast/scenecast/internal/scene"
)

// FormatVersion is written into the metadata of encoded descriptors.
const FormatVersion = 4.6

type encoder struct {
	geometries map[string]Entry
	materials  map[string]Entry
	textures   map[string]Entry
	images     map[string]Entry
}

// Encode serializes the object tree under root into a descriptor that
// Load turns back into an equivalent tree. Mesh-file extensions are
// written in their flattened buffer-geometry form.
func Encode(root *scene.Object) Entry {
	enc := &encoder{
		geometries: map[string]Entry{},
		materials:  map[string]Entry{},
		textures:   map[string]Entry{},
		images:     map[string]Entry{},
	}
	obj := enc.object(root)
	return Entry{
		"metadata": Entry{
			"version":   FormatVersion,
			"type":      "Object",
			"generator": "scenecast",
		},
		"geometries": sortedValues(enc.geometries),
		"materials":  sortedValues(enc.materials),
		"textures":   sortedValues(enc.textures),
		"images":     sortedValues(enc.images),
		"object":     obj,
	}
}

func sortedValues(m map[string]Entry) []any {
	out := make([]any, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}

func (enc *encoder) object(o *scene.Object) Entry {
	m := o.Matrix()
	e := Entry{
		"uuid":          o.UUID,
		"type":          string(o.Kind),
		"matrix":        m[:],
		"visible":       o.Visible,
		"castShadow":    o.CastShadow,
		"receiveShadow": o.ReceiveShadow,
		"frustumCulled": o.FrustumCulled,
		"renderOrder":   o.RenderOrder,
		"layers":        o.Layers,
	}
	if o.Name != "" {
		e["name"] = o.Name
	}
	if len(o.UserData) > 0 {
		e["userData"] = o.UserData
	}

	if o.Kind.Drawable() {
		if o.Geometry != nil {
			e["geometry"] = enc.geometry(o.Geometry)
		}
		ids := make([]any, 0, len(o.Materials))
		for _, mat := range o.Materials {
			if mat != nil {
				ids = append(ids, enc.material(mat))
			}
		}
		switch {
		case o.MultiMaterial:
			e["material"] = ids
		case len(ids) > 0:
			e["material"] = ids[0]
		}
	}
	if c := o.Camera; c != nil {
		e["fov"], e["aspect"], e["near"], e["far"], e["zoom"] = c.Fov, c.Aspect, c.Near, c.Far, c.Zoom
		if o.Kind == scene.KindOrthographicCamera {
			e["left"], e["right"], e["top"], e["bottom"] = c.Left, c.Right, c.Top, c.Bottom
		}
	}
	if l := o.Light; l != nil {
		e["color"] = colorHex(l.Color)
		e["intensity"] = l.Intensity
		e["distance"] = l.Distance
		e["decay"] = l.Decay
		e["angle"] = l.Angle
		e["penumbra"] = l.Penumbra
		if o.Kind == scene.KindHemisphereLight {
			e["groundColor"] = colorHex(l.GroundColor)
		}
	}
	if s := o.Shadow; s != nil {
		e["shadow"] = Entry{
			"bias":    s.Bias,
			"radius":  s.Radius,
			"mapSize": []float64{s.MapSize[0], s.MapSize[1]},
			"camera":  Entry{"near": s.Near, "far": s.Far},
		}
	}

	children := o.Children()
	if len(children) > 0 {
		list := make([]any, len(children))
		for i, c := range children {
			list[i] = enc.object(c)
		}
		e["children"] = list
	}
	return e
}

func (enc *encoder) geometry(g *scene.Geometry) string {
	if _, done := enc.geometries[g.UUID]; done {
		return g.UUID
	}
	attrs := Entry{}
	for name, a := range g.Attributes {
		attrs[name] = Entry{
			"itemSize":   a.ItemSize,
			"type":       "Float32Array",
			"array":      a.Array,
			"normalized": a.Normalized,
		}
	}
	data := Entry{"attributes": attrs}
	if g.Index != nil {
		data["index"] = Entry{"type": "Uint32Array", "array": g.Index}
	}
	if len(g.Groups) > 0 {
		groups := make([]any, len(g.Groups))
		for i, gr := range g.Groups {
			groups[i] = Entry{"start": gr.Start, "count": gr.Count, "materialIndex": gr.MaterialIndex}
		}
		data["groups"] = groups
	}
	e := Entry{"uuid": g.UUID, "type": "BufferGeometry", "data": data}
	if g.Name != "" {
		e["name"] = g.Name
	}
	enc.geometries[g.UUID] = e
	return g.UUID
}

func (enc *encoder) material(m *scene.Material) string {
	if _, done := enc.materials[m.UUID]; done {
		return m.UUID
	}
	e := maps.Clone(m.Props)
	if e == nil {
		e = Entry{}
	}
	e["uuid"] = m.UUID
	e["type"] = m.Kind
	e["color"] = colorHex(m.Color)
	e["opacity"] = m.Opacity
	e["transparent"] = m.Transparent
	if m.Name != "" {
		e["name"] = m.Name
	}
	if m.Map != nil {
		if id, ok := enc.texture(m.Map); ok {
			e["map"] = id
		}
	}
	enc.materials[m.UUID] = e
	return m.UUID
}

func (enc *encoder) texture(t *scene.Texture) (string, bool) {
	if _, done := enc.textures[t.UUID]; done {
		return t.UUID, true
	}
	if t.Image == nil {
		return "", false
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, t.Image); err != nil {
		return "", false
	}
	imageID := uuid.NewString()
	enc.images[imageID] = Entry{"uuid": imageID, "url": EncodeDataURI("image/png", buf.Bytes())}

	e := maps.Clone(t.Props)
	if e == nil {
		e = Entry{}
	}
	delete(e, "text")
	e["uuid"] = t.UUID
	e["image"] = imageID
	if t.Name != "" {
		e["name"] = t.Name
	}
	enc.textures[t.UUID] = e
	return t.UUID, true
}
