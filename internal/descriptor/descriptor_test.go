package descriptor

import (
	"encoding/json"
	"image"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenecast/scenecast/internal/scene"
	"github.com/scenecast/scenecast/internal/textraster"
)

const triangleOBJ = "v 0 0 0\nv 1 0 0\nv 0 1 0\nusemtl shiny\nf 1 2 3\n"

func triangleBuffer(id string) Entry {
	return Entry{
		"uuid": id,
		"type": "BufferGeometry",
		"data": Entry{
			"attributes": Entry{
				"position": Entry{"itemSize": 3, "type": "Float32Array", "array": []any{0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0, 0.0}},
			},
		},
	}
}

func meshObject(id, geometry string) Entry {
	return Entry{"uuid": id, "type": "Mesh", "geometry": geometry, "material": "mat"}
}

func basicMaterial() Entry {
	return Entry{"uuid": "mat", "type": "MeshLambertMaterial", "color": 0xff0000}
}

func newTestLoader(opts ...Option) *Loader {
	return NewLoader(zerolog.Nop(), opts...)
}

func TestLoad_GenericMesh(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"geometries": []any{triangleBuffer("geom")},
		"materials":  []any{basicMaterial()},
		"object": Entry{
			"uuid": "obj", "type": "Mesh", "name": "tri", "geometry": "geom", "material": "mat",
			"position": []any{1.0, 2.0, 3.0},
			"castShadow": true, "renderOrder": 4.0, "layers": 3.0,
			"userData": Entry{"k": "v"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	obj := res.Object
	assert.Equal(t, "obj", obj.UUID)
	assert.Equal(t, "tri", obj.Name)
	assert.Equal(t, scene.KindMesh, obj.Kind)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, obj.Position)
	assert.True(t, obj.CastShadow)
	assert.Equal(t, 4, obj.RenderOrder)
	assert.Equal(t, uint32(3), obj.Layers)
	assert.Equal(t, "v", obj.UserData["k"])
	require.NotNil(t, obj.Geometry)
	assert.Equal(t, 3, obj.Geometry.VertexCount())
	assert.Equal(t, [3]float64{1, 0, 0}, obj.Material().Color)
}

func TestLoad_ExtensionWinsOnCollision(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"geometries": []any{
			triangleBuffer("shared"),
			Entry{"uuid": "shared", "type": TypeMeshfileGeometry, "format": "obj", "data": []byte(triangleOBJ + "f 1 3 2\n")},
		},
		"object": meshObject("obj", "shared"),
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Object.Geometry.VertexCount(), "meshfile geometry has two faces")
}

func TestLoad_UnsupportedFormatIsSkipped(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"geometries": []any{
			Entry{"uuid": "bad", "type": TypeMeshfileGeometry, "format": "fbx", "data": []byte{1, 2}},
			triangleBuffer("good"),
		},
		"object": Entry{
			"uuid": "root", "type": "Group",
			"children": []any{meshObject("a", "bad"), meshObject("b", "good")},
		},
	})
	require.NoError(t, err)

	var unsupported *UnsupportedFormatError
	require.NotEmpty(t, res.Warnings)
	assert.ErrorAs(t, res.Warnings[0], &unsupported)
	assert.Equal(t, "fbx", unsupported.Format)

	children := res.Object.Children()
	require.Len(t, children, 2)
	assert.Nil(t, children[0].Geometry)
	assert.Equal(t, 3, children[1].Geometry.VertexCount())
}

func TestLoad_DeprecatedMeshfileAlias(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"geometries": []any{Entry{"uuid": "g", "type": TypeMeshfile, "format": "obj", "data": triangleOBJ}},
		"object":     meshObject("o", "g"),
	})
	require.NoError(t, err)
	assert.Equal(t, "g", res.Object.Geometry.UUID)
	assert.Equal(t, 3, res.Object.Geometry.VertexCount())
}

func TestLoad_TextTexture(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"textures":   []any{Entry{"uuid": "txt", "type": TypeText, "text": "hello", "font_size": 300, "font_face": "sans-serif"}},
		"materials":  []any{Entry{"uuid": "mat", "type": "MeshBasicMaterial", "map": "txt"}},
		"geometries": []any{triangleBuffer("g")},
		"object":     meshObject("o", "g"),
	})
	require.NoError(t, err)

	tex := res.Object.Material().Map
	require.NotNil(t, tex)
	assert.Equal(t, "txt", tex.UUID)
	assert.Equal(t, image.Rect(0, 0, textraster.Size, textraster.Size), tex.Image.Bounds())
}

func TestLoad_MeshfileObject(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"object": Entry{
			"uuid":          "mesh",
			"type":          TypeMeshfileObject,
			"format":        "obj",
			"data":          []byte(triangleOBJ),
			"mtl_library":   "newmtl shiny\nKd 0 0 1\n",
			"resources":     Entry{},
			"quaternion":    []any{0.0, 0.0, 1.0, 0.0},
			"receiveShadow": true,
			"visible":       false,
		},
	})
	require.NoError(t, err)

	obj := res.Object
	assert.Equal(t, "mesh", obj.UUID)
	assert.Equal(t, scene.KindMesh, obj.Kind)
	assert.Equal(t, "mesh", obj.Geometry.UUID)
	assert.Equal(t, [3]float64{0, 0, 1}, obj.Material().Color)
	assert.Equal(t, 1.0, obj.Quaternion.V[2])
	assert.True(t, obj.ReceiveShadow)
	assert.False(t, obj.Visible)
}

func TestLoad_MeshfileObjectWithoutMaterials(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"object": Entry{"uuid": "m", "type": TypeMeshfileObject, "format": "obj", "data": "o empty\n"},
	})
	require.NoError(t, err)
	assert.Zero(t, res.Object.Geometry.VertexCount())
	assert.Len(t, res.Object.Materials, 1)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		desc Entry
		want error
	}{
		{"missing object", Entry{}, ErrMissingField},
		{"short matrix", Entry{"object": Entry{"uuid": "a", "type": "Group", "matrix": []any{1.0, 0.0}}}, ErrMalformed},
		{"non-finite position", Entry{"object": Entry{"uuid": "a", "type": "Group", "position": []any{math.NaN(), 0.0, 0.0}}}, ErrMalformed},
		{"geometry without position", Entry{
			"geometries": []any{Entry{"uuid": "g", "type": "BufferGeometry", "data": Entry{"attributes": Entry{}}}},
			"object":     Entry{"uuid": "a", "type": "Group"},
		}, ErrMissingField},
		{"meshfile without data", Entry{
			"geometries": []any{Entry{"uuid": "g", "type": TypeMeshfileGeometry, "format": "stl"}},
			"object":     Entry{"uuid": "a", "type": "Group"},
		}, ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().Load(tt.desc)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_EulerRotation(t *testing.T) {
	res, err := newTestLoader().Load(Entry{
		"object": Entry{"uuid": "a", "type": "Group", "rotation": []any{math.Pi / 2, 0.0, math.Pi / 2, "XYZ"}},
	})
	require.NoError(t, err)

	want := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{1, 0, 0}).Mul(mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}))
	assert.True(t, res.Object.Quaternion.ApproxEqual(want))
}

// countingDecoder wraps the generic decoder and records which entries
// reached it.
type countingDecoder struct {
	Generic
	geometries []string
}

func (d *countingDecoder) Geometries(list []Entry, refs *Refs) (map[string]*scene.Geometry, error) {
	for _, e := range list {
		d.geometries = append(d.geometries, str(e, "uuid"))
	}
	return d.Generic.Geometries(list, refs)
}

func TestLoad_ExtensionsNeverReachGenericDecoder(t *testing.T) {
	dec := &countingDecoder{}
	_, err := newTestLoader(WithDecoder(dec)).Load(Entry{
		"geometries": []any{
			triangleBuffer("plain"),
			Entry{"uuid": "ext", "type": TypeMeshfileGeometry, "format": "obj", "data": triangleOBJ},
		},
		"object": Entry{"uuid": "a", "type": "Group"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, dec.geometries)
}

func TestPrimitives(t *testing.T) {
	tests := []struct {
		name     string
		entry    Entry
		vertices int
	}{
		{"box", Entry{"uuid": "b", "type": "BoxGeometry", "width": 2.0}, 24},
		{"sphere", Entry{"uuid": "s", "type": "SphereGeometry", "widthSegments": 4.0, "heightSegments": 2.0}, 15},
		{"cylinder open", Entry{"uuid": "c", "type": "CylinderGeometry", "radialSegments": 3.0, "openEnded": true}, 8},
		{"plane", Entry{"uuid": "p", "type": "PlaneBufferGeometry"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := newRefs()
			out, err := Generic{}.Geometries([]Entry{tt.entry}, refs)
			require.NoError(t, err)
			g := out[str(tt.entry, "uuid")]
			require.NotNil(t, g)
			assert.Equal(t, tt.vertices, g.VertexCount())
			assert.True(t, g.HasNormals())
			for _, idx := range g.Index {
				assert.Less(t, int(idx), g.VertexCount())
			}
		})
	}
}

func TestBox_FacesPointOutward(t *testing.T) {
	g, err := boxGeometry(Entry{})
	require.NoError(t, err)
	pos := g.Attributes["position"].Array
	nrm := g.Attributes["normal"].Array
	for i := 0; i < len(g.Index); i += 3 {
		var p [3]mgl64.Vec3
		for k := range p {
			v := g.Index[i+k]
			p[k] = mgl64.Vec3{float64(pos[3*v]), float64(pos[3*v+1]), float64(pos[3*v+2])}
		}
		face := p[1].Sub(p[0]).Cross(p[2].Sub(p[0]))
		v := g.Index[i]
		n := mgl64.Vec3{float64(nrm[3*v]), float64(nrm[3*v+1]), float64(nrm[3*v+2])}
		assert.Positive(t, face.Dot(n), "triangle %d winds against its normal", i/3)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	root := scene.NewObject(scene.KindScene, "Scene")
	tree := scene.NewTree(root)

	g := scene.NewGeometry()
	g.SetAttribute("position", 3, []float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	mat := scene.NewMaterial("MeshPhongMaterial")
	mat.Color = [3]float64{0, 1, 0}
	mat.Map = scene.NewTexture(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	tree.SetObject(scene.SplitPath("/robot/arm/<object>"), scene.NewMesh(scene.KindMesh, g, mat))
	tree.SetTransform(scene.SplitPath("/robot/arm"), mgl64.Translate3D(0, 0, 2))
	tree.SetObject(scene.SplitPath("/Cameras/default/<object>"), scene.NewObject(scene.KindPerspectiveCamera, ""))
	tree.SetObject(scene.SplitPath("/Lights/sun"), scene.NewObject(scene.KindDirectionalLight, ""))

	data, err := json.Marshal(Encode(root))
	require.NoError(t, err)
	res, err := newTestLoader().LoadJSON(data)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	loaded := scene.NewTree(res.Object)
	kinds := func(tr *scene.Tree) map[string]scene.Kind {
		out := map[string]scene.Kind{}
		tr.Walk(func(n *scene.Node) bool {
			out[n.Path().String()] = n.Object().Kind
			return true
		})
		return out
	}
	assert.Equal(t, kinds(tree), kinds(loaded))

	arm, ok := loaded.Find(scene.SplitPath("/robot/arm"))
	require.True(t, ok)
	assert.InDelta(t, 2, arm.Object().Position[2], 1e-9)

	mesh, ok := loaded.Find(scene.SplitPath("/robot/arm/<object>"))
	require.True(t, ok)
	assert.Equal(t, g.UUID, mesh.Object().Geometry.UUID)
	assert.Equal(t, [3]float64{0, 1, 0}, mesh.Object().Material().Color)
	require.NotNil(t, mesh.Object().Material().Map)
	assert.NotNil(t, mesh.Object().Material().Map.Image)
}

func TestDataURI(t *testing.T) {
	uri := EncodeDataURI("text/plain", []byte("hi there"))
	mime, data, err := DecodeDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mime)
	assert.Equal(t, "hi there", string(data))

	_, data, err = DecodeDataURI("data:text/plain,a%20b")
	require.NoError(t, err)
	assert.Equal(t, "a b", string(data))

	_, _, err = DecodeDataURI("http://example.com/x.png")
	assert.Error(t, err)
}
