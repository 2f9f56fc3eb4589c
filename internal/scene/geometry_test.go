package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triangle() *Geometry {
	g := NewGeometry()
	g.SetAttribute("position", 3, []float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	return g
}

func TestMergeGeometries(t *testing.T) {
	a := triangle()
	b := triangle()
	b.Index = []uint32{0, 2, 1}
	b.SetAttribute("uv", 2, []float32{0, 0, 1, 0, 0, 1})

	merged, err := MergeGeometries([]*Geometry{a, b}, true)
	require.NoError(t, err)

	assert.Equal(t, 6, merged.VertexCount())
	assert.NotContains(t, merged.Attributes, "uv", "attributes missing from an input are dropped")
	assert.Equal(t, []uint32{0, 1, 2, 3, 5, 4}, merged.Index)
	assert.Equal(t, []Group{
		{Start: 0, Count: 3, MaterialIndex: 0},
		{Start: 3, Count: 3, MaterialIndex: 1},
	}, merged.Groups)
}

func TestMergeGeometries_Empty(t *testing.T) {
	_, err := MergeGeometries(nil, false)
	assert.ErrorIs(t, err, ErrEmptyMerge)
}

func TestGeometry_ApplyMatrix(t *testing.T) {
	g := triangle()
	g.ComputeVertexNormals()

	g.ApplyMatrix(mgl64.Translate3D(0, 0, 5).Mul4(mgl64.HomogRotate3DX(mgl64.DegToRad(90))))

	pos := g.Attributes["position"].Array
	assert.InDelta(t, 1, pos[3], 1e-6)
	assert.InDelta(t, 5, pos[5], 1e-6)
	assert.InDelta(t, 6, pos[8], 1e-6) // (0,1,0) rotated onto +z, then shifted

	nrm := g.Attributes["normal"].Array
	assert.InDelta(t, -1, nrm[1], 1e-6) // +z normal rotated onto -y
}

func TestGeometry_ComputeVertexNormals(t *testing.T) {
	g := triangle()
	assert.False(t, g.HasNormals())

	g.ComputeVertexNormals()

	require.True(t, g.HasNormals())
	nrm := g.Attributes["normal"].Array
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1, nrm[3*i+2], 1e-6)
	}
}

func TestDisposeObject(t *testing.T) {
	o := newMeshObject()
	shared := o.Material()
	o.Materials = append(o.Materials, shared) // disposing twice is harmless

	DisposeObject(o)

	assert.True(t, o.Geometry.Disposed())
	assert.True(t, shared.Disposed())
	assert.True(t, shared.Map.Disposed())
	assert.Equal(t, 3, o.Geometry.VertexCount(), "CPU buffers outlive the handle")
}

func TestDecompose_NegativeDeterminant(t *testing.T) {
	m := mgl64.Scale3D(-2, 1, 1)

	pos, _, scale, ok := Decompose(m)

	require.True(t, ok)
	assert.Equal(t, mgl64.Vec3{}, pos)
	assert.InDelta(t, -2, scale[0], 1e-9)
	assert.True(t, Compose(pos, mgl64.QuatIdent(), scale).ApproxEqual(m))
}
