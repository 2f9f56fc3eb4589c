package descriptor

import (
	"fmt"
	"image"
	"maps"
	"strings"

	"github.com/scenecast/scenecast/internal/meshfile"
	"github.com/scenecast/scenecast/internal/scene"
)

// Generic decodes the plain three.js JSON object format.
type Generic struct{}

type imageEntry struct {
	UUID string `json:"uuid"`
	URL  any    `json:"url"`
}

// Images decodes embedded data-URI images. External URLs are not fetched.
func (Generic) Images(list []Entry, refs *Refs) (map[string]image.Image, error) {
	out := map[string]image.Image{}
	for _, e := range list {
		var ie imageEntry
		if err := decodeInto(e, &ie); err != nil {
			return nil, err
		}
		if ie.UUID == "" {
			return nil, fmt.Errorf("%w: image uuid", ErrMissingField)
		}
		uri, ok := ie.URL.(string)
		if !ok {
			refs.Warn(&UnsupportedFormatError{Kind: "image", Format: fmt.Sprintf("%T", ie.URL), UUID: ie.UUID})
			continue
		}
		if !strings.HasPrefix(uri, "data:") {
			refs.Warn(fmt.Errorf("image %s: only data uris are supported", ie.UUID))
			continue
		}
		_, data, err := DecodeDataURI(uri)
		if err != nil {
			refs.Warn(fmt.Errorf("image %s: %w", ie.UUID, err))
			continue
		}
		img, err := meshfile.DecodeImage(data)
		if err != nil {
			refs.Warn(fmt.Errorf("image %s: %w", ie.UUID, err))
			continue
		}
		out[ie.UUID] = img
	}
	return out, nil
}

var textureKeys = []string{"uuid", "name", "image", "type"}

// Textures wraps decoded images. Sampling parameters are kept as props.
func (Generic) Textures(list []Entry, refs *Refs) (map[string]*scene.Texture, error) {
	out := map[string]*scene.Texture{}
	for _, e := range list {
		id := str(e, "uuid")
		if id == "" {
			return nil, fmt.Errorf("%w: texture uuid", ErrMissingField)
		}
		if t := str(e, "type"); strings.HasPrefix(t, "_") {
			refs.Warn(&UnsupportedFormatError{Kind: "texture", Format: t, UUID: id})
			continue
		}
		img, ok := refs.Images[str(e, "image")]
		if !ok {
			refs.Warn(fmt.Errorf("texture %s: undefined image %q", id, str(e, "image")))
		}
		tex := scene.NewTexture(img)
		tex.UUID = id
		tex.Name = str(e, "name")
		tex.Props = extraProps(e, textureKeys)
		out[id] = tex
	}
	return out, nil
}

// Geometries decodes buffer geometries and the parametric primitives.
func (Generic) Geometries(list []Entry, refs *Refs) (map[string]*scene.Geometry, error) {
	out := map[string]*scene.Geometry{}
	for _, e := range list {
		id := str(e, "uuid")
		if id == "" {
			return nil, fmt.Errorf("%w: geometry uuid", ErrMissingField)
		}
		build, ok := geometryBuilders[geometryType(str(e, "type"))]
		if !ok {
			refs.Warn(&UnsupportedFormatError{Kind: "geometry", Format: str(e, "type"), UUID: id})
			continue
		}
		g, err := build(e)
		if err != nil {
			if fatal(err) {
				return nil, fmt.Errorf("geometry %s: %w", id, err)
			}
			refs.Warn(fmt.Errorf("geometry %s: %w", id, err))
			continue
		}
		g.UUID = id
		g.Name = str(e, "name")
		out[id] = g
	}
	return out, nil
}

type materialEntry struct {
	UUID        string   `json:"uuid"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Color       any      `json:"color"`
	Opacity     *float64 `json:"opacity"`
	Transparent *bool    `json:"transparent"`
	Map         string   `json:"map"`
}

var materialKeys = []string{"uuid", "type", "name", "color", "opacity", "transparent", "map"}

// Materials decodes materials and resolves their texture maps.
func (Generic) Materials(list []Entry, refs *Refs) (map[string]*scene.Material, error) {
	out := map[string]*scene.Material{}
	for _, e := range list {
		var me materialEntry
		if err := decodeInto(e, &me); err != nil {
			return nil, err
		}
		if me.UUID == "" {
			return nil, fmt.Errorf("%w: material uuid", ErrMissingField)
		}
		kind := me.Type
		if kind == "" {
			kind = "MeshBasicMaterial"
		}
		m := scene.NewMaterial(kind)
		m.UUID = me.UUID
		m.Name = me.Name
		if c, ok := hexColor(me.Color); ok {
			m.Color = c
		}
		if me.Opacity != nil {
			m.Opacity = *me.Opacity
		}
		if me.Transparent != nil {
			m.Transparent = *me.Transparent
		}
		if me.Map != "" {
			if tex, ok := refs.Textures[me.Map]; ok {
				m.Map = tex
			} else {
				refs.Warn(fmt.Errorf("material %s: undefined texture %q", me.UUID, me.Map))
			}
		}
		m.Props = extraProps(e, materialKeys)
		out[me.UUID] = m
	}
	return out, nil
}

var objectKinds = map[string]scene.Kind{
	"Scene":              scene.KindScene,
	"Group":              scene.KindGroup,
	"Object3D":           scene.KindObject3D,
	"Mesh":               scene.KindMesh,
	"Points":             scene.KindPoints,
	"Line":               scene.KindLine,
	"LineSegments":       scene.KindLineSegments,
	"LineLoop":           scene.KindLineLoop,
	"PerspectiveCamera":  scene.KindPerspectiveCamera,
	"OrthographicCamera": scene.KindOrthographicCamera,
	"AmbientLight":       scene.KindAmbientLight,
	"DirectionalLight":   scene.KindDirectionalLight,
	"PointLight":         scene.KindPointLight,
	"SpotLight":          scene.KindSpotLight,
	"HemisphereLight":    scene.KindHemisphereLight,
}

type cameraEntry struct {
	Fov    *float64 `json:"fov"`
	Aspect *float64 `json:"aspect"`
	Near   *float64 `json:"near"`
	Far    *float64 `json:"far"`
	Zoom   *float64 `json:"zoom"`
	Left   *float64 `json:"left"`
	Right  *float64 `json:"right"`
	Top    *float64 `json:"top"`
	Bottom *float64 `json:"bottom"`
}

type lightEntry struct {
	Color       any      `json:"color"`
	GroundColor any      `json:"groundColor"`
	Intensity   *float64 `json:"intensity"`
	Distance    *float64 `json:"distance"`
	Decay       *float64 `json:"decay"`
	Angle       *float64 `json:"angle"`
	Penumbra    *float64 `json:"penumbra"`
}

// Object decodes a single object entry without its children.
func (Generic) Object(e Entry, refs *Refs) (*scene.Object, error) {
	typ := str(e, "type")
	kind, ok := objectKinds[typ]
	if !ok {
		refs.Warn(&UnsupportedFormatError{Kind: "object", Format: typ, UUID: str(e, "uuid")})
		kind = scene.KindObject3D
	}
	obj := scene.NewObject(kind, "")
	if err := applyObjectFields(obj, e, refs); err != nil {
		return nil, err
	}

	if kind.Drawable() {
		if id := str(e, "geometry"); id != "" {
			if g, ok := refs.Geometries[id]; ok {
				obj.Geometry = g
			} else {
				refs.Warn(fmt.Errorf("object %s: undefined geometry %q", obj.UUID, id))
			}
		}
		obj.Materials, obj.MultiMaterial = resolveMaterials(e["material"], obj.UUID, refs)
	}

	if obj.Camera != nil {
		var ce cameraEntry
		if err := decodeInto(e, &ce); err != nil {
			return nil, err
		}
		setIf(&obj.Camera.Fov, ce.Fov)
		setIf(&obj.Camera.Aspect, ce.Aspect)
		setIf(&obj.Camera.Near, ce.Near)
		setIf(&obj.Camera.Far, ce.Far)
		setIf(&obj.Camera.Zoom, ce.Zoom)
		setIf(&obj.Camera.Left, ce.Left)
		setIf(&obj.Camera.Right, ce.Right)
		setIf(&obj.Camera.Top, ce.Top)
		setIf(&obj.Camera.Bottom, ce.Bottom)
	}
	if obj.Light != nil {
		var le lightEntry
		if err := decodeInto(e, &le); err != nil {
			return nil, err
		}
		if c, ok := hexColor(le.Color); ok {
			obj.Light.Color = c
		}
		if c, ok := hexColor(le.GroundColor); ok {
			obj.Light.GroundColor = c
		}
		setIf(&obj.Light.Intensity, le.Intensity)
		setIf(&obj.Light.Distance, le.Distance)
		setIf(&obj.Light.Decay, le.Decay)
		setIf(&obj.Light.Angle, le.Angle)
		setIf(&obj.Light.Penumbra, le.Penumbra)
	}
	return obj, nil
}

func resolveMaterials(v any, owner string, refs *Refs) ([]*scene.Material, bool) {
	lookup := func(id string) *scene.Material {
		if m, ok := refs.Materials[id]; ok {
			return m
		}
		refs.Warn(fmt.Errorf("object %s: undefined material %q", owner, id))
		return scene.NewMaterial("MeshBasicMaterial")
	}
	switch x := v.(type) {
	case string:
		return []*scene.Material{lookup(x)}, false
	case []any:
		mats := make([]*scene.Material, 0, len(x))
		for _, id := range x {
			if s, ok := id.(string); ok {
				mats = append(mats, lookup(s))
			}
		}
		return mats, true
	}
	return []*scene.Material{scene.NewMaterial("MeshBasicMaterial")}, false
}

func setIf(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// extraProps copies the entry minus the given keys.
func extraProps(e Entry, skip []string) map[string]any {
	props := maps.Clone(e)
	for _, k := range skip {
		delete(props, k)
	}
	return props
}
