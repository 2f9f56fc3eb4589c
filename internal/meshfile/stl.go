package meshfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/scenecast/scenecast/internal/scene"
)

const (
	stlHeaderSize = 80
	stlFaceSize   = 50
)

// parseSTL reads binary or ASCII STL. Binary is detected by the face
// count matching the payload size, as ASCII files may also begin with
// "solid".
func parseSTL(data []byte, _ Options) (*Node, error) {
	var g *scene.Geometry
	var err error
	if isBinarySTL(data) {
		g, err = parseBinarySTL(data)
	} else {
		g, err = parseASCIISTL(data)
	}
	if err != nil {
		return nil, err
	}
	root := newNode("")
	root.Meshes = []Mesh{{Geometry: g}}
	return root, nil
}

func isBinarySTL(data []byte) bool {
	if len(data) < stlHeaderSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[stlHeaderSize:])
	if stlHeaderSize+4+int(n)*stlFaceSize == len(data) {
		return true
	}
	return !bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid"))
}

var errTruncated = errors.New("truncated binary stl")

func parseBinarySTL(data []byte) (*scene.Geometry, error) {
	n := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	body := data[stlHeaderSize+4:]
	if len(body) < n*stlFaceSize {
		return nil, errTruncated
	}
	pos := make([]float32, 0, n*9)
	nrm := make([]float32, 0, n*9)
	f32 := func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }

	for i := 0; i < n; i++ {
		face := body[i*stlFaceSize:]
		nx, ny, nz := f32(face[0:]), f32(face[4:]), f32(face[8:])
		for v := 0; v < 3; v++ {
			off := 12 + v*12
			pos = append(pos, f32(face[off:]), f32(face[off+4:]), f32(face[off+8:]))
			nrm = append(nrm, nx, ny, nz)
		}
	}
	g := scene.NewGeometry()
	g.SetAttribute("position", 3, pos)
	g.SetAttribute("normal", 3, nrm)
	return g, nil
}

func parseASCIISTL(data []byte) (*scene.Geometry, error) {
	var pos, nrm []float32
	var normal [3]float32
	line := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "facet":
			if len(fields) >= 5 && fields[1] == "normal" {
				v, err := parseVec3(fields[2:5])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				normal = v
			}
		case "vertex":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex with less than 3 coordinates", line)
			}
			v, err := parseVec3(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			pos = append(pos, v[:]...)
			nrm = append(nrm, normal[:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(pos)%9 != 0 {
		return nil, fmt.Errorf("vertex count %d is not a multiple of 3", len(pos)/3)
	}
	g := scene.NewGeometry()
	g.SetAttribute("position", 3, pos)
	g.SetAttribute("normal", 3, nrm)
	return g, nil
}

func parseVec3(fields []string) ([3]float32, error) {
	var v [3]float32
	for i := range v {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}
