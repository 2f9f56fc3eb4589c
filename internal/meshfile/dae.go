package meshfile

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/scenecast/scenecast/internal/scene"
)

// Collada document subset: static triangle and polylist meshes, node
// hierarchies with matrix/translate/rotate/scale transforms and the
// diffuse color of common-profile effects.
type collada struct {
	Asset struct {
		UpAxis string `xml:"up_axis"`
		Unit   struct {
			Meter float64 `xml:"meter,attr"`
		} `xml:"unit"`
	} `xml:"asset"`
	Geometries   []daeGeometry    `xml:"library_geometries>geometry"`
	Effects      []daeEffect      `xml:"library_effects>effect"`
	Materials    []daeMaterial    `xml:"library_materials>material"`
	Nodes        []daeNode        `xml:"library_nodes>node"`
	VisualScenes []daeVisualScene `xml:"library_visual_scenes>visual_scene"`
	Scene        struct {
		Instance struct {
			URL string `xml:"url,attr"`
		} `xml:"instance_visual_scene"`
	} `xml:"scene"`
}

type daeGeometry struct {
	ID   string   `xml:"id,attr"`
	Name string   `xml:"name,attr"`
	Mesh *daeMesh `xml:"mesh"`
}

type daeMesh struct {
	Sources   []daeSource    `xml:"source"`
	Vertices  daeVertices    `xml:"vertices"`
	Triangles []daePrimitive `xml:"triangles"`
	Polylists []daePrimitive `xml:"polylist"`
}

type daeSource struct {
	ID        string `xml:"id,attr"`
	Floats    string `xml:"float_array"`
	Technique struct {
		Accessor struct {
			Stride int `xml:"stride,attr"`
		} `xml:"accessor"`
	} `xml:"technique_common"`
}

type daeVertices struct {
	ID     string     `xml:"id,attr"`
	Inputs []daeInput `xml:"input"`
}

type daeInput struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   int    `xml:"offset,attr"`
	Set      int    `xml:"set,attr"`
}

type daePrimitive struct {
	Count    int        `xml:"count,attr"`
	Material string     `xml:"material,attr"`
	Inputs   []daeInput `xml:"input"`
	VCount   string     `xml:"vcount"`
	P        string     `xml:"p"`
}

type daeColor struct {
	Color string `xml:"color"`
}

type daeShading struct {
	Diffuse      *daeColor `xml:"diffuse"`
	Emission     *daeColor `xml:"emission"`
	Transparency *struct {
		Float string `xml:"float"`
	} `xml:"transparency"`
}

type daeEffect struct {
	ID       string      `xml:"id,attr"`
	Phong    *daeShading `xml:"profile_COMMON>technique>phong"`
	Lambert  *daeShading `xml:"profile_COMMON>technique>lambert"`
	Blinn    *daeShading `xml:"profile_COMMON>technique>blinn"`
	Constant *daeShading `xml:"profile_COMMON>technique>constant"`
}

type daeMaterial struct {
	ID     string `xml:"id,attr"`
	Name   string `xml:"name,attr"`
	Effect struct {
		URL string `xml:"url,attr"`
	} `xml:"instance_effect"`
}

type daeInstanceMaterial struct {
	Symbol string `xml:"symbol,attr"`
	Target string `xml:"target,attr"`
}

type daeInstanceGeometry struct {
	URL       string                `xml:"url,attr"`
	Materials []daeInstanceMaterial `xml:"bind_material>technique_common>instance_material"`
}

// daeTransform captures transform elements in document order.
type daeTransform struct {
	XMLName xml.Name
	Data    string `xml:",chardata"`
}

type daeNode struct {
	ID           string                `xml:"id,attr"`
	Name         string                `xml:"name,attr"`
	Geometries   []daeInstanceGeometry `xml:"instance_geometry"`
	InstanceNode []struct {
		URL string `xml:"url,attr"`
	} `xml:"instance_node"`
	Nodes      []daeNode      `xml:"node"`
	Transforms []daeTransform `xml:",any"`
}

type daeVisualScene struct {
	ID    string    `xml:"id,attr"`
	Nodes []daeNode `xml:"node"`
}

type daeDocument struct {
	doc        *collada
	sources    map[string][]float64
	strides    map[string]int
	geometries map[string]*daeGeometry
	materials  map[string]*scene.Material
	library    map[string]*daeNode
}

func parseDAE(data []byte, _ Options) (*Node, error) {
	var doc collada
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding collada: %w", err)
	}

	d := &daeDocument{
		doc:        &doc,
		sources:    map[string][]float64{},
		strides:    map[string]int{},
		geometries: map[string]*daeGeometry{},
		materials:  map[string]*scene.Material{},
		library:    map[string]*daeNode{},
	}
	if err := d.index(); err != nil {
		return nil, err
	}

	vs := d.visualScene()
	root := newNode("")
	if vs == nil {
		return root, nil
	}
	root.Name = vs.ID
	root.Matrix = d.sceneMatrix()
	for i := range vs.Nodes {
		child, err := d.buildNode(&vs.Nodes[i], 0)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

func ref(url string) string { return strings.TrimPrefix(url, "#") }

func (d *daeDocument) index() error {
	effects := map[string]*daeEffect{}
	for i := range d.doc.Effects {
		effects[d.doc.Effects[i].ID] = &d.doc.Effects[i]
	}
	for _, m := range d.doc.Materials {
		mat := scene.NewMaterial("MeshPhongMaterial")
		mat.Name = m.Name
		if e, ok := effects[ref(m.Effect.URL)]; ok {
			applyEffect(mat, e)
		}
		d.materials[m.ID] = mat
	}
	for i := range d.doc.Geometries {
		g := &d.doc.Geometries[i]
		d.geometries[g.ID] = g
		if g.Mesh == nil {
			continue
		}
		for _, s := range g.Mesh.Sources {
			vals, err := parseFloatList(s.Floats)
			if err != nil {
				return fmt.Errorf("source %s: %w", s.ID, err)
			}
			d.sources[s.ID] = vals
			d.strides[s.ID] = max(s.Technique.Accessor.Stride, 1)
		}
	}
	var indexNodes func(nodes []daeNode)
	indexNodes = func(nodes []daeNode) {
		for i := range nodes {
			if nodes[i].ID != "" {
				d.library[nodes[i].ID] = &nodes[i]
			}
			indexNodes(nodes[i].Nodes)
		}
	}
	indexNodes(d.doc.Nodes)
	return nil
}

func applyEffect(mat *scene.Material, e *daeEffect) {
	shading := e.Phong
	for _, s := range []*daeShading{e.Lambert, e.Blinn, e.Constant} {
		if shading == nil {
			shading = s
		}
	}
	if shading == nil {
		return
	}
	src := shading.Diffuse
	if src == nil {
		src = shading.Emission
	}
	if src != nil {
		if vals, err := parseFloatList(src.Color); err == nil && len(vals) >= 3 {
			mat.Color = [3]float64{vals[0], vals[1], vals[2]}
		}
	}
	if shading.Transparency != nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(shading.Transparency.Float), 64); err == nil && v < 1 {
			mat.Opacity = v
			mat.Transparent = true
		}
	}
}

func (d *daeDocument) visualScene() *daeVisualScene {
	want := ref(d.doc.Scene.Instance.URL)
	for i := range d.doc.VisualScenes {
		if want == "" || d.doc.VisualScenes[i].ID == want {
			return &d.doc.VisualScenes[i]
		}
	}
	return nil
}

// sceneMatrix applies the asset's unit scale and converts Z-up documents
// to the Y-up convention mesh loaders produce.
func (d *daeDocument) sceneMatrix() mgl64.Mat4 {
	m := mgl64.Ident4()
	if d.doc.Asset.UpAxis == "Z_UP" {
		m = mgl64.HomogRotate3DX(-math.Pi / 2)
	}
	if u := d.doc.Asset.Unit.Meter; u > 0 && u != 1 {
		m = m.Mul4(mgl64.Scale3D(u, u, u))
	}
	return m
}

const maxNodeDepth = 64

func (d *daeDocument) buildNode(n *daeNode, depth int) (*Node, error) {
	if depth > maxNodeDepth {
		return nil, fmt.Errorf("node %q: hierarchy deeper than %d", n.ID, maxNodeDepth)
	}
	name := n.Name
	if name == "" {
		name = n.ID
	}
	out := newNode(name)
	m, err := nodeMatrix(n.Transforms)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", name, err)
	}
	out.Matrix = m

	for _, ig := range n.Geometries {
		g, ok := d.geometries[ref(ig.URL)]
		if !ok || g.Mesh == nil {
			continue
		}
		bindings := map[string]string{}
		for _, im := range ig.Materials {
			bindings[im.Symbol] = ref(im.Target)
		}
		meshes, err := d.buildMeshes(g, bindings)
		if err != nil {
			return nil, err
		}
		out.Meshes = append(out.Meshes, meshes...)
	}
	for _, in := range n.InstanceNode {
		lib, ok := d.library[ref(in.URL)]
		if !ok {
			continue
		}
		child, err := d.buildNode(lib, depth+1)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, child)
	}
	for i := range n.Nodes {
		child, err := d.buildNode(&n.Nodes[i], depth+1)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// nodeMatrix composes transform elements left to right.
func nodeMatrix(transforms []daeTransform) (mgl64.Mat4, error) {
	m := mgl64.Ident4()
	for _, t := range transforms {
		switch t.XMLName.Local {
		case "matrix", "translate", "scale", "rotate":
		default:
			continue
		}
		vals, err := parseFloatList(t.Data)
		if err != nil {
			return m, fmt.Errorf("%s: %w", t.XMLName.Local, err)
		}
		switch t.XMLName.Local {
		case "matrix":
			if len(vals) != 16 {
				return m, fmt.Errorf("matrix has %d values", len(vals))
			}
			// row-major in the document
			var local mgl64.Mat4
			for r := 0; r < 4; r++ {
				for c := 0; c < 4; c++ {
					local.Set(r, c, vals[r*4+c])
				}
			}
			m = m.Mul4(local)
		case "translate":
			if len(vals) == 3 {
				m = m.Mul4(mgl64.Translate3D(vals[0], vals[1], vals[2]))
			}
		case "scale":
			if len(vals) == 3 {
				m = m.Mul4(mgl64.Scale3D(vals[0], vals[1], vals[2]))
			}
		case "rotate":
			if len(vals) == 4 {
				axis := mgl64.Vec3{vals[0], vals[1], vals[2]}
				if axis.Len() > 0 {
					m = m.Mul4(mgl64.HomogRotate3D(mgl64.DegToRad(vals[3]), axis.Normalize()))
				}
			}
		}
	}
	return m, nil
}

func (d *daeDocument) buildMeshes(g *daeGeometry, bindings map[string]string) ([]Mesh, error) {
	positionSource := ""
	for _, in := range g.Mesh.Vertices.Inputs {
		if in.Semantic == "POSITION" {
			positionSource = ref(in.Source)
		}
	}

	var meshes []Mesh
	prims := append(append([]daePrimitive{}, g.Mesh.Triangles...), g.Mesh.Polylists...)
	for _, p := range prims {
		geom, err := d.buildPrimitive(p, positionSource)
		if err != nil {
			return nil, fmt.Errorf("geometry %q: %w", g.ID, err)
		}
		if geom.VertexCount() == 0 {
			continue
		}
		geom.Name = g.Name
		var mat *scene.Material
		if target, ok := bindings[p.Material]; ok {
			mat = d.materials[target]
		}
		meshes = append(meshes, Mesh{Geometry: geom, Material: mat})
	}
	return meshes, nil
}

func (d *daeDocument) buildPrimitive(p daePrimitive, positionSource string) (*scene.Geometry, error) {
	indices, err := parseIntList(p.P)
	if err != nil {
		return nil, err
	}
	stride := 0
	type channel struct {
		name   string
		size   int
		offset int
		source string
	}
	var channels []channel
	for _, in := range p.Inputs {
		stride = max(stride, in.Offset+1)
		switch in.Semantic {
		case "VERTEX":
			channels = append(channels, channel{name: "position", size: 3, offset: in.Offset, source: positionSource})
		case "NORMAL":
			channels = append(channels, channel{name: "normal", size: 3, offset: in.Offset, source: ref(in.Source)})
		case "TEXCOORD":
			if in.Set == 0 {
				channels = append(channels, channel{name: "uv", size: 2, offset: in.Offset, source: ref(in.Source)})
			}
		}
	}
	if stride == 0 {
		return scene.NewGeometry(), nil
	}

	counts := []int{}
	if p.VCount != "" {
		if counts, err = parseIntList(p.VCount); err != nil {
			return nil, err
		}
	} else {
		for i := 0; i < p.Count; i++ {
			counts = append(counts, 3)
		}
	}

	arrays := make([][]float32, len(channels))
	emit := func(vertex int) error {
		base := vertex * stride
		if base+stride > len(indices) {
			return fmt.Errorf("index list too short")
		}
		for ci, ch := range channels {
			src := d.sources[ch.source]
			s := d.strides[ch.source]
			at := indices[base+ch.offset] * s
			if at < 0 || at+ch.size > len(src) {
				return fmt.Errorf("%s index %d out of range", ch.name, indices[base+ch.offset])
			}
			for k := 0; k < ch.size; k++ {
				arrays[ci] = append(arrays[ci], float32(src[at+k]))
			}
		}
		return nil
	}

	vertex := 0
	for _, n := range counts {
		for i := 1; i+1 < n; i++ {
			for _, v := range []int{vertex, vertex + i, vertex + i + 1} {
				if err := emit(v); err != nil {
					return nil, err
				}
			}
		}
		vertex += n
	}

	geom := scene.NewGeometry()
	for ci, ch := range channels {
		geom.SetAttribute(ch.name, ch.size, arrays[ci])
	}
	return geom, nil
}

func parseFloatList(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseIntList(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
