package meshfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scenecast/scenecast/internal/scene"
)

const noIndex = -1

type objFace struct {
	material string
	verts    []int
	uvs      []int
	normals  []int
}

type objObject struct {
	name  string
	faces []objFace
}

// objDecoder accumulates the shared vertex pools and per-object faces of
// an OBJ document.
type objDecoder struct {
	line      int
	positions []float32
	normals   []float32
	uvs       []float32
	colors    []float32
	objects   []*objObject
	current   *objObject
	material  string
	matlib    string
}

func parseOBJ(data []byte, opts Options) (*Node, error) {
	dec := &objDecoder{}
	if err := dec.parse(data, dec.parseLine); err != nil {
		return nil, err
	}

	mtlText := opts.MaterialLibrary
	if mtlText == "" && dec.matlib != "" {
		if raw, ok := opts.Resources[dec.matlib]; ok {
			mtlText = string(raw)
		}
	}
	materials, err := parseMTL(mtlText, opts.Resources)
	if err != nil {
		return nil, err
	}

	root := newNode("")
	for _, ob := range dec.objects {
		child := newNode(ob.name)
		for _, run := range splitByMaterial(ob.faces) {
			g := dec.buildGeometry(run)
			if g.VertexCount() == 0 {
				continue
			}
			mat := materials[run[0].material]
			child.Meshes = append(child.Meshes, Mesh{Geometry: g, Material: mat})
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

func (dec *objDecoder) parse(data []byte, parseLine func([]string) error) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	dec.line = 0
	for sc.Scan() {
		dec.line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if err := parseLine(fields); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (dec *objDecoder) formatError(msg string) error {
	return fmt.Errorf("line %d: %s", dec.line, msg)
}

func (dec *objDecoder) parseLine(fields []string) error {
	args := fields[1:]
	switch fields[0] {
	case "mtllib":
		if len(args) < 1 {
			return dec.formatError("mtllib with no fields")
		}
		dec.matlib = strings.Join(args, " ")
	case "o", "g":
		name := strings.Join(args, " ")
		dec.current = &objObject{name: name}
		dec.objects = append(dec.objects, dec.current)
	case "v":
		if len(args) < 3 {
			return dec.formatError("less than 3 coordinates in 'v' line")
		}
		if err := appendFloats(&dec.positions, args[:3]); err != nil {
			return dec.formatError(err.Error())
		}
		if len(args) >= 6 {
			if err := appendFloats(&dec.colors, args[3:6]); err != nil {
				return dec.formatError(err.Error())
			}
		}
	case "vn":
		if len(args) < 3 {
			return dec.formatError("less than 3 coordinates in 'vn' line")
		}
		if err := appendFloats(&dec.normals, args[:3]); err != nil {
			return dec.formatError(err.Error())
		}
	case "vt":
		if len(args) < 2 {
			return dec.formatError("less than 2 coordinates in 'vt' line")
		}
		if err := appendFloats(&dec.uvs, args[:2]); err != nil {
			return dec.formatError(err.Error())
		}
	case "f":
		return dec.parseFace(args)
	case "usemtl":
		if len(args) < 1 {
			return dec.formatError("usemtl with no fields")
		}
		dec.material = args[0]
	}
	// s, l and other statements do not affect geometry
	return nil
}

func appendFloats(dst *[]float32, fields []string) error {
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return err
		}
		*dst = append(*dst, float32(v))
	}
	return nil
}

func (dec *objDecoder) parseFace(fields []string) error {
	if len(fields) < 3 {
		return dec.formatError("face line with less than 3 vertices")
	}
	if dec.current == nil {
		dec.current = &objObject{}
		dec.objects = append(dec.objects, dec.current)
	}

	face := objFace{
		material: dec.material,
		verts:    make([]int, len(fields)),
		uvs:      make([]int, len(fields)),
		normals:  make([]int, len(fields)),
	}
	for i, f := range fields {
		parts := strings.Split(f, "/")
		var err error
		if face.verts[i], err = resolveIndex(parts[0], len(dec.positions)/3); err != nil {
			return dec.formatError("vertex " + err.Error())
		}
		face.uvs[i], face.normals[i] = noIndex, noIndex
		if len(parts) > 1 && parts[1] != "" {
			if face.uvs[i], err = resolveIndex(parts[1], len(dec.uvs)/2); err != nil {
				return dec.formatError("uv " + err.Error())
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			if face.normals[i], err = resolveIndex(parts[2], len(dec.normals)/3); err != nil {
				return dec.formatError("normal " + err.Error())
			}
		}
	}
	dec.current.faces = append(dec.current.faces, face)
	return nil
}

var errZeroIndex = errors.New("index value equal to 0")

// resolveIndex converts a 1-based or negative relative index to 0-based.
func resolveIndex(s string, count int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch {
	case v > 0:
		v--
	case v < 0:
		v = count + v
	default:
		return 0, errZeroIndex
	}
	if v < 0 || v >= count {
		return 0, fmt.Errorf("index %s out of range", s)
	}
	return v, nil
}

// splitByMaterial groups consecutive faces sharing a material.
func splitByMaterial(faces []objFace) [][]objFace {
	var runs [][]objFace
	start := 0
	for i := 1; i <= len(faces); i++ {
		if i == len(faces) || faces[i].material != faces[start].material {
			runs = append(runs, faces[start:i])
			start = i
		}
	}
	return runs
}

// buildGeometry expands faces into a non-indexed triangle list. Normals
// and uvs are kept only when every face vertex carries them.
func (dec *objDecoder) buildGeometry(faces []objFace) *scene.Geometry {
	var pos, nrm, uv, col []float32
	hasNormals, hasUVs := true, true
	hasColors := len(dec.colors) == len(dec.positions) && len(dec.colors) > 0

	copyVertex := func(f objFace, i int) {
		v := f.verts[i]
		pos = append(pos, dec.positions[3*v:3*v+3]...)
		if hasColors {
			col = append(col, dec.colors[3*v:3*v+3]...)
		}
		if n := f.normals[i]; n != noIndex {
			nrm = append(nrm, dec.normals[3*n:3*n+3]...)
		} else {
			hasNormals = false
		}
		if t := f.uvs[i]; t != noIndex {
			uv = append(uv, dec.uvs[2*t:2*t+2]...)
		} else {
			hasUVs = false
		}
	}

	for _, f := range faces {
		// fan triangulation
		for i := 1; i+1 < len(f.verts); i++ {
			copyVertex(f, 0)
			copyVertex(f, i)
			copyVertex(f, i+1)
		}
	}

	g := scene.NewGeometry()
	g.SetAttribute("position", 3, pos)
	if hasNormals && len(nrm) == len(pos) {
		g.SetAttribute("normal", 3, nrm)
	}
	if hasUVs && len(uv) > 0 {
		g.SetAttribute("uv", 2, uv)
	}
	if hasColors {
		g.SetAttribute("color", 3, col)
	}
	return g
}
