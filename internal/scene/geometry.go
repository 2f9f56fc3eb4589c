package scene

import (
	"errors"
	"fmt"
	"image"
	"maps"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Attribute is a flat per-vertex buffer.
type Attribute struct {
	ItemSize   int
	Array      []float32
	Normalized bool
}

// Count returns the number of vertices the attribute describes.
func (a *Attribute) Count() int {
	if a == nil || a.ItemSize == 0 {
		return 0
	}
	return len(a.Array) / a.ItemSize
}

func (a *Attribute) clone() *Attribute {
	return &Attribute{ItemSize: a.ItemSize, Array: slices.Clone(a.Array), Normalized: a.Normalized}
}

// Group is a draw range bound to one entry of a material array.
type Group struct {
	Start         int
	Count         int
	MaterialIndex int
}

// Geometry is an indexed or non-indexed vertex buffer set.
type Geometry struct {
	UUID       string
	Name       string
	Attributes map[string]*Attribute
	Index      []uint32
	Groups     []Group

	disposed bool
}

// NewGeometry returns an empty geometry with a fresh UUID.
func NewGeometry() *Geometry {
	return &Geometry{UUID: uuid.NewString(), Attributes: map[string]*Attribute{}}
}

// SetAttribute replaces the named attribute.
func (g *Geometry) SetAttribute(name string, itemSize int, array []float32) {
	g.Attributes[name] = &Attribute{ItemSize: itemSize, Array: array}
}

// VertexCount returns the number of vertices in the position attribute.
func (g *Geometry) VertexCount() int {
	return g.Attributes["position"].Count()
}

// HasNormals reports whether a non-empty normal attribute is present.
func (g *Geometry) HasNormals() bool {
	return g.Attributes["normal"].Count() > 0
}

// Clone deep-copies the geometry, keeping its UUID.
func (g *Geometry) Clone() *Geometry {
	out := &Geometry{
		UUID:       g.UUID,
		Name:       g.Name,
		Attributes: make(map[string]*Attribute, len(g.Attributes)),
		Index:      slices.Clone(g.Index),
		Groups:     slices.Clone(g.Groups),
	}
	for k, a := range g.Attributes {
		out.Attributes[k] = a.clone()
	}
	return out
}

// ApplyMatrix transforms positions by m and normals by its normal matrix.
func (g *Geometry) ApplyMatrix(m mgl64.Mat4) {
	if pos := g.Attributes["position"]; pos != nil && pos.ItemSize == 3 {
		for i := 0; i+2 < len(pos.Array); i += 3 {
			v := m.Mul4x1(mgl64.Vec4{float64(pos.Array[i]), float64(pos.Array[i+1]), float64(pos.Array[i+2]), 1})
			pos.Array[i], pos.Array[i+1], pos.Array[i+2] = float32(v[0]), float32(v[1]), float32(v[2])
		}
	}
	if nrm := g.Attributes["normal"]; nrm != nil && nrm.ItemSize == 3 {
		nm := m.Mat3().Inv().Transpose()
		for i := 0; i+2 < len(nrm.Array); i += 3 {
			v := nm.Mul3x1(mgl64.Vec3{float64(nrm.Array[i]), float64(nrm.Array[i+1]), float64(nrm.Array[i+2])})
			if l := v.Len(); l > 0 {
				v = v.Mul(1 / l)
			}
			nrm.Array[i], nrm.Array[i+1], nrm.Array[i+2] = float32(v[0]), float32(v[1]), float32(v[2])
		}
	}
}

// ComputeVertexNormals sets area-weighted vertex normals from the triangles.
func (g *Geometry) ComputeVertexNormals() {
	pos := g.Attributes["position"]
	if pos == nil || pos.ItemSize != 3 {
		return
	}
	n := pos.Count()
	normals := make([]float32, 3*n)
	vertex := func(i uint32) mgl64.Vec3 {
		return mgl64.Vec3{float64(pos.Array[3*i]), float64(pos.Array[3*i+1]), float64(pos.Array[3*i+2])}
	}
	accumulate := func(a, b, c uint32) {
		va, vb, vc := vertex(a), vertex(b), vertex(c)
		face := vc.Sub(vb).Cross(va.Sub(vb))
		for _, i := range [3]uint32{a, b, c} {
			normals[3*i] += float32(face[0])
			normals[3*i+1] += float32(face[1])
			normals[3*i+2] += float32(face[2])
		}
	}
	if g.Index != nil {
		for i := 0; i+2 < len(g.Index); i += 3 {
			a, b, c := g.Index[i], g.Index[i+1], g.Index[i+2]
			if int(a) >= n || int(b) >= n || int(c) >= n {
				continue
			}
			accumulate(a, b, c)
		}
	} else {
		for i := 0; i+2 < n; i += 3 {
			accumulate(uint32(i), uint32(i+1), uint32(i+2))
		}
	}
	for i := 0; i < n; i++ {
		v := mgl64.Vec3{float64(normals[3*i]), float64(normals[3*i+1]), float64(normals[3*i+2])}
		if l := v.Len(); l > 0 {
			v = v.Mul(1 / l)
		}
		normals[3*i], normals[3*i+1], normals[3*i+2] = float32(v[0]), float32(v[1]), float32(v[2])
	}
	g.SetAttribute("normal", 3, normals)
}

// Dispose releases the geometry's render handle. Attributes, index and
// groups are kept: a loaded descriptor shares one geometry between every
// object that references its UUID, and the survivors still draw from it.
func (g *Geometry) Dispose() {
	if g == nil {
		return
	}
	g.disposed = true
}

// Disposed reports whether Dispose has been called.
func (g *Geometry) Disposed() bool { return g != nil && g.disposed }

// ErrEmptyMerge is returned when MergeGeometries is given no input.
var ErrEmptyMerge = errors.New("no geometries to merge")

// MergeGeometries concatenates geometries into one. Attributes missing
// from any input are dropped. With useGroups, one group per input is
// recorded so a parallel material array can be applied.
func MergeGeometries(geoms []*Geometry, useGroups bool) (*Geometry, error) {
	if len(geoms) == 0 {
		return nil, ErrEmptyMerge
	}

	common := map[string]int{}
	for name, a := range geoms[0].Attributes {
		common[name] = a.ItemSize
	}
	for _, g := range geoms[1:] {
		for name, size := range common {
			a, ok := g.Attributes[name]
			if !ok || a.ItemSize != size {
				delete(common, name)
			}
		}
	}
	if _, ok := common["position"]; !ok {
		return nil, fmt.Errorf("merge: inputs do not share a position attribute")
	}

	indexed := false
	for _, g := range geoms {
		if g.Index != nil {
			indexed = true
			break
		}
	}

	out := NewGeometry()
	for _, name := range slices.Sorted(maps.Keys(common)) {
		out.Attributes[name] = &Attribute{ItemSize: common[name]}
	}

	offset := 0
	start := 0
	for i, g := range geoms {
		count := g.VertexCount()
		for name, a := range out.Attributes {
			src := g.Attributes[name]
			want := count * src.ItemSize
			n := min(want, len(src.Array))
			a.Array = append(a.Array, src.Array[:n]...)
			a.Array = append(a.Array, make([]float32, want-n)...)
			a.Normalized = src.Normalized
		}
		drawCount := count
		if indexed {
			if g.Index != nil {
				for _, idx := range g.Index {
					out.Index = append(out.Index, idx+uint32(offset))
				}
				drawCount = len(g.Index)
			} else {
				for v := 0; v < count; v++ {
					out.Index = append(out.Index, uint32(offset+v))
				}
			}
		}
		if useGroups {
			out.Groups = append(out.Groups, Group{Start: start, Count: drawCount, MaterialIndex: i})
		}
		start += drawCount
		offset += count
	}
	return out, nil
}

// Material is a surface description. Color is linear RGB in [0,1].
type Material struct {
	UUID        string
	Name        string
	Kind        string
	Color       [3]float64
	Opacity     float64
	Transparent bool
	Map         *Texture
	Props       map[string]any

	disposed bool
}

// NewMaterial returns an opaque white material of the given kind.
func NewMaterial(kind string) *Material {
	return &Material{
		UUID:    uuid.NewString(),
		Kind:    kind,
		Color:   [3]float64{1, 1, 1},
		Opacity: 1,
		Props:   map[string]any{},
	}
}

// Dispose releases the material. Its texture map is released separately.
func (m *Material) Dispose() {
	if m == nil {
		return
	}
	m.disposed = true
}

// Disposed reports whether Dispose has been called.
func (m *Material) Disposed() bool { return m != nil && m.disposed }

// Texture wraps a decoded raster image.
type Texture struct {
	UUID  string
	Name  string
	Image image.Image
	Props map[string]any

	disposed bool
}

// NewTexture wraps img in a texture with a fresh UUID.
func NewTexture(img image.Image) *Texture {
	return &Texture{UUID: uuid.NewString(), Image: img, Props: map[string]any{}}
}

// Dispose releases the texture's render handle. The image stays
// readable for other materials sharing the texture.
func (t *Texture) Dispose() {
	if t == nil {
		return
	}
	t.disposed = true
}

// Disposed reports whether Dispose has been called.
func (t *Texture) Disposed() bool { return t != nil && t.disposed }

// DisposeObject releases the geometry, materials and material maps held
// directly by o. Children are not visited.
func DisposeObject(o *Object) {
	if o == nil {
		return
	}
	o.Geometry.Dispose()
	for _, m := range o.Materials {
		if m == nil {
			continue
		}
		m.Map.Dispose()
		m.Dispose()
	}
}
