// Package meshfile parses mesh file payloads (OBJ with MTL, Collada, STL)
// into mesh hierarchies and flattens them into a single geometry.
package meshfile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/scenecast/scenecast/internal/scene"
)

// Supported format tags.
const (
	FormatOBJ = "obj"
	FormatDAE = "dae"
	FormatSTL = "stl"
)

// ErrUnsupportedFormat is returned by Parse for unknown format tags.
var ErrUnsupportedFormat = errors.New("unsupported mesh format")

// Node is one level of a parsed mesh hierarchy.
type Node struct {
	Name     string
	Matrix   mgl64.Mat4
	Meshes   []Mesh
	Children []*Node
}

// Mesh is a leaf geometry with its material, which may be nil.
type Mesh struct {
	Geometry *scene.Geometry
	Material *scene.Material
}

func newNode(name string) *Node {
	return &Node{Name: name, Matrix: mgl64.Ident4()}
}

// Resources resolves auxiliary payloads (material libraries, textures) by
// the URL a mesh file refers to them with.
type Resources map[string][]byte

// Options carries side inputs for a parse.
type Options struct {
	// MaterialLibrary is MTL text applied to OBJ payloads.
	MaterialLibrary string
	Resources       Resources
}

type parser func(data []byte, opts Options) (*Node, error)

var parsers = map[string]parser{
	FormatOBJ: parseOBJ,
	FormatDAE: parseDAE,
	FormatSTL: parseSTL,
}

// Supported reports whether format has a parser.
func Supported(format string) bool {
	_, ok := parsers[format]
	return ok
}

// Parse decodes data in the given format.
func Parse(format string, data []byte, opts Options) (*Node, error) {
	p, ok := parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	root, err := p(data, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", format, err)
	}
	return root, nil
}

// Flatten bakes every leaf mesh's accumulated root-to-leaf transform into
// its vertices and merges the results. One leaf is returned as is, several
// are concatenated with one group per leaf, none yields an empty geometry.
// When preserveMaterials is set, the returned materials parallel the
// geometry groups; missing materials are replaced by a default.
func Flatten(root *Node, preserveMaterials bool) (*scene.Geometry, []*scene.Material, error) {
	var geoms []*scene.Geometry
	var mats []*scene.Material

	var walk func(n *Node, parent mgl64.Mat4)
	walk = func(n *Node, parent mgl64.Mat4) {
		m := parent.Mul4(n.Matrix)
		for _, mesh := range n.Meshes {
			if mesh.Geometry == nil {
				continue
			}
			g := mesh.Geometry.Clone()
			g.ApplyMatrix(m)
			geoms = append(geoms, g)
			mats = append(mats, mesh.Material)
		}
		for _, c := range n.Children {
			walk(c, m)
		}
	}
	walk(root, mgl64.Ident4())

	var out *scene.Geometry
	switch len(geoms) {
	case 0:
		return scene.NewGeometry(), nil, nil
	case 1:
		out = geoms[0]
	default:
		merged, err := scene.MergeGeometries(geoms, true)
		if err != nil {
			return nil, nil, err
		}
		out = merged
	}

	if !preserveMaterials {
		return out, nil, nil
	}
	for i, m := range mats {
		if m == nil {
			mats[i] = scene.NewMaterial("MeshPhongMaterial")
		}
	}
	return out, mats, nil
}

// LeafVertexCount sums the vertex counts of all meshes under n.
func LeafVertexCount(n *Node) int {
	total := 0
	for _, m := range n.Meshes {
		if m.Geometry != nil {
			total += m.Geometry.VertexCount()
		}
	}
	for _, c := range n.Children {
		total += LeafVertexCount(c)
	}
	return total
}

// DecodeImage decodes a side-loaded image payload after checking its magic
// bytes.
func DecodeImage(data []byte) (image.Image, error) {
	if !filetype.IsImage(data) {
		kind, _ := filetype.Match(data)
		return nil, fmt.Errorf("resource is not an image (detected %q)", kind.MIME.Value)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func (r Resources) texture(name string) (*scene.Texture, error) {
	data, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("resource %q not provided", name)
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	tex := scene.NewTexture(img)
	tex.Name = name
	return tex, nil
}
