package scene

import (
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Kind names the native object type, using the descriptor format's type tags.
type Kind string

const (
	KindScene              Kind = "Scene"
	KindGroup              Kind = "Group"
	KindObject3D           Kind = "Object3D"
	KindMesh               Kind = "Mesh"
	KindPoints             Kind = "Points"
	KindLine               Kind = "Line"
	KindLineSegments       Kind = "LineSegments"
	KindLineLoop           Kind = "LineLoop"
	KindPerspectiveCamera  Kind = "PerspectiveCamera"
	KindOrthographicCamera Kind = "OrthographicCamera"
	KindAmbientLight       Kind = "AmbientLight"
	KindDirectionalLight   Kind = "DirectionalLight"
	KindPointLight         Kind = "PointLight"
	KindSpotLight          Kind = "SpotLight"
	KindHemisphereLight    Kind = "HemisphereLight"
)

// IsCamera reports whether the kind is a camera.
func (k Kind) IsCamera() bool { return strings.HasSuffix(string(k), "Camera") }

// IsLight reports whether the kind is a light source.
func (k Kind) IsLight() bool { return strings.HasSuffix(string(k), "Light") }

// Drawable reports whether objects of this kind carry geometry and materials.
func (k Kind) Drawable() bool {
	switch k {
	case KindMesh, KindPoints, KindLine, KindLineSegments, KindLineLoop:
		return true
	}
	return false
}

// Camera holds projection parameters. Perspective cameras use Fov/Aspect,
// orthographic cameras use the Left/Right/Top/Bottom frustum planes.
type Camera struct {
	Fov    float64
	Aspect float64
	Near   float64
	Far    float64
	Zoom   float64
	Left   float64
	Right  float64
	Top    float64
	Bottom float64
}

// Light holds light parameters. Unused fields stay zero for kinds that
// do not have them.
type Light struct {
	Color     [3]float64
	Intensity float64
	Distance  float64
	Decay     float64
	Angle     float64
	Penumbra  float64
	// GroundColor is only used by hemisphere lights.
	GroundColor [3]float64
}

// Shadow holds shadow-map parameters.
type Shadow struct {
	Bias    float64
	Radius  float64
	MapSize [2]float64
	Near    float64
	Far     float64
}

// Object is a native scene object. Objects form their own parent/child
// hierarchy which the Tree keeps identical to its node hierarchy.
type Object struct {
	UUID          string
	Name          string
	Kind          Kind
	Position      mgl64.Vec3
	Quaternion    mgl64.Quat
	Scale         mgl64.Vec3
	Visible       bool
	CastShadow    bool
	ReceiveShadow bool
	FrustumCulled bool
	RenderOrder   int
	Layers        uint32
	UserData      map[string]any

	Geometry *Geometry
	// Materials holds one material, or one per geometry group when
	// MultiMaterial is set.
	Materials     []*Material
	MultiMaterial bool

	Camera *Camera
	Light  *Light
	Shadow *Shadow

	// Props holds named fields without a dedicated struct field.
	Props map[string]any

	parent   *Object
	children []*Object
}

// NewObject returns an object of the given kind with identity transform.
func NewObject(kind Kind, name string) *Object {
	o := &Object{
		UUID:          uuid.NewString(),
		Name:          name,
		Kind:          kind,
		Quaternion:    mgl64.QuatIdent(),
		Scale:         mgl64.Vec3{1, 1, 1},
		Visible:       true,
		FrustumCulled: true,
		Layers:        1,
		Props:         map[string]any{},
	}
	switch {
	case kind == KindPerspectiveCamera:
		o.Camera = &Camera{Fov: 50, Aspect: 1, Near: 0.1, Far: 2000, Zoom: 1}
	case kind == KindOrthographicCamera:
		o.Camera = &Camera{Left: -1, Right: 1, Top: 1, Bottom: -1, Near: 0.1, Far: 2000, Zoom: 1}
	case kind.IsLight():
		o.Light = &Light{Color: [3]float64{1, 1, 1}, Intensity: 1, Decay: 2}
		if kind == KindSpotLight {
			o.Light.Angle = math.Pi / 3
		}
		if kind != KindAmbientLight && kind != KindHemisphereLight {
			o.Shadow = &Shadow{MapSize: [2]float64{512, 512}, Near: 0.5, Far: 500}
		}
	}
	return o
}

// NewGroup returns an empty group.
func NewGroup(name string) *Object {
	return NewObject(KindGroup, name)
}

// NewMesh returns a drawable object of the given kind.
func NewMesh(kind Kind, geometry *Geometry, materials ...*Material) *Object {
	o := NewObject(kind, "")
	o.Geometry = geometry
	o.Materials = materials
	o.MultiMaterial = len(materials) > 1
	return o
}

// Parent returns the native parent, or nil.
func (o *Object) Parent() *Object { return o.parent }

// Children returns a copy of the native children.
func (o *Object) Children() []*Object {
	out := make([]*Object, len(o.children))
	copy(out, o.children)
	return out
}

// Add attaches child, detaching it from any previous parent.
func (o *Object) Add(child *Object) {
	if child == nil || child == o {
		return
	}
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.parent = o
	o.children = append(o.children, child)
}

// Remove detaches child. It reports whether child was attached to o.
func (o *Object) Remove(child *Object) bool {
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Traverse calls fn for o and every descendant, parents before children.
func (o *Object) Traverse(fn func(*Object)) {
	fn(o)
	for _, c := range o.children {
		c.Traverse(fn)
	}
}

// Material returns the first material, or nil.
func (o *Object) Material() *Material {
	if len(o.Materials) == 0 {
		return nil
	}
	return o.Materials[0]
}

// Matrix composes the local transform.
func (o *Object) Matrix() mgl64.Mat4 {
	return Compose(o.Position, o.Quaternion, o.Scale)
}

// WorldMatrix composes the transforms from the outermost ancestor down to o.
func (o *Object) WorldMatrix() mgl64.Mat4 {
	m := o.Matrix()
	for p := o.parent; p != nil; p = p.parent {
		m = p.Matrix().Mul4(m)
	}
	return m
}

// SetMatrix decomposes m into position, rotation and scale. It reports
// false and leaves the object unchanged when m is degenerate.
func (o *Object) SetMatrix(m mgl64.Mat4) bool {
	pos, rot, scale, ok := Decompose(m)
	if !ok {
		return false
	}
	o.Position, o.Quaternion, o.Scale = pos, rot, scale
	return true
}

// Compose builds a transform matrix from translation, rotation and scale.
func Compose(pos mgl64.Vec3, rot mgl64.Quat, scale mgl64.Vec3) mgl64.Mat4 {
	return mgl64.Translate3D(pos[0], pos[1], pos[2]).
		Mul4(rot.Normalize().Mat4()).
		Mul4(mgl64.Scale3D(scale[0], scale[1], scale[2]))
}

// Decompose splits an affine matrix into translation, rotation and scale.
// A negative determinant is folded into the x scale.
func Decompose(m mgl64.Mat4) (pos mgl64.Vec3, rot mgl64.Quat, scale mgl64.Vec3, ok bool) {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return pos, rot, scale, false
		}
	}
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	if sx == 0 || sy == 0 || sz == 0 {
		return pos, rot, scale, false
	}
	if m.Det() < 0 {
		sx = -sx
	}

	var r mgl64.Mat4
	r.SetCol(0, m.Col(0).Mul(1/sx))
	r.SetCol(1, m.Col(1).Mul(1/sy))
	r.SetCol(2, m.Col(2).Mul(1/sz))
	r.SetCol(3, mgl64.Vec4{0, 0, 0, 1})
	r.Set(3, 0, 0)
	r.Set(3, 1, 0)
	r.Set(3, 2, 0)

	return m.Col(3).Vec3(), mgl64.Mat4ToQuat(r).Normalize(), mgl64.Vec3{sx, sy, sz}, true
}
