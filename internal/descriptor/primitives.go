package descriptor

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/scenecast/scenecast/internal/scene"
)

type geometryBuilder func(e Entry) (*scene.Geometry, error)

var geometryBuilders = map[string]geometryBuilder{
	"Buffer":   bufferGeometry,
	"Box":      boxGeometry,
	"Sphere":   sphereGeometry,
	"Cylinder": cylinderGeometry,
	"Plane":    planeGeometry,
}

// geometryType strips the Geometry/BufferGeometry suffixes so that
// "BoxGeometry" and "BoxBufferGeometry" share a builder.
func geometryType(t string) string {
	if t == "BufferGeometry" {
		return "Buffer"
	}
	t = strings.TrimSuffix(t, "BufferGeometry")
	return strings.TrimSuffix(t, "Geometry")
}

type attributeEntry struct {
	ItemSize   int  `json:"itemSize"`
	Array      any  `json:"array"`
	Normalized bool `json:"normalized"`
}

type groupEntry struct {
	Start         int `json:"start"`
	Count         int `json:"count"`
	MaterialIndex int `json:"materialIndex"`
}

type bufferEntry struct {
	Data struct {
		Attributes map[string]attributeEntry `json:"attributes"`
		Index      *struct {
			Array any `json:"array"`
		} `json:"index"`
		Groups []groupEntry `json:"groups"`
	} `json:"data"`
}

func bufferGeometry(e Entry) (*scene.Geometry, error) {
	var be bufferEntry
	if err := decodeInto(e, &be); err != nil {
		return nil, err
	}
	if _, ok := be.Data.Attributes["position"]; !ok {
		return nil, fmt.Errorf("%w: data.attributes.position", ErrMissingField)
	}

	g := scene.NewGeometry()
	for name, a := range be.Data.Attributes {
		if a.ItemSize <= 0 {
			return nil, fmt.Errorf("%w: attribute %s itemSize %d", ErrMalformed, name, a.ItemSize)
		}
		arr, err := float32s(a.Array)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %s: %v", ErrMalformed, name, err)
		}
		if len(arr)%a.ItemSize != 0 {
			return nil, fmt.Errorf("%w: attribute %s length %d not a multiple of %d", ErrMalformed, name, len(arr), a.ItemSize)
		}
		g.SetAttribute(name, a.ItemSize, arr)
		g.Attributes[name].Normalized = a.Normalized
	}
	if be.Data.Index != nil {
		idx, err := uint32s(be.Data.Index.Array)
		if err != nil {
			return nil, fmt.Errorf("%w: index: %v", ErrMalformed, err)
		}
		g.Index = idx
	}
	for _, gr := range be.Data.Groups {
		g.Groups = append(g.Groups, scene.Group(gr))
	}
	return g, nil
}

var (
	float32Slice = reflect.TypeOf([]float32(nil))
	uint32Slice  = reflect.TypeOf([]uint32(nil))
)

// float32s converts any numeric sequence, including typed-array slices, to
// []float32 without copying when the element type already matches.
func float32s(v any) ([]float32, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Float32 {
		return rv.Convert(float32Slice).Interface().([]float32), nil
	}
	vals, err := scene.Floats(v, 0)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vals))
	for i, x := range vals {
		out[i] = float32(x)
	}
	return out, nil
}

func uint32s(v any) ([]uint32, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint32 {
		return rv.Convert(uint32Slice).Interface().([]uint32), nil
	}
	vals, err := scene.Floats(v, 0)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(vals))
	for i, x := range vals {
		if x < 0 || x != math.Trunc(x) {
			return nil, fmt.Errorf("element %d: %v is not a vertex index", i, x)
		}
		out[i] = uint32(x)
	}
	return out, nil
}

// num reads an optional numeric parameter.
func num(e Entry, key string, def float64) float64 {
	if f, ok := scene.Float(e[key]); ok {
		return f
	}
	return def
}

// meshBuilder accumulates indexed vertex data for the primitives.
type meshBuilder struct {
	pos, nrm, uv []float32
	index        []uint32
}

func (b *meshBuilder) vertex(p, n mgl64.Vec3, u, v float64) uint32 {
	i := uint32(len(b.pos) / 3)
	b.pos = append(b.pos, float32(p[0]), float32(p[1]), float32(p[2]))
	b.nrm = append(b.nrm, float32(n[0]), float32(n[1]), float32(n[2]))
	b.uv = append(b.uv, float32(u), float32(v))
	return i
}

func (b *meshBuilder) tri(a, c, d uint32) { b.index = append(b.index, a, c, d) }

func (b *meshBuilder) geometry() *scene.Geometry {
	g := scene.NewGeometry()
	g.SetAttribute("position", 3, b.pos)
	g.SetAttribute("normal", 3, b.nrm)
	g.SetAttribute("uv", 2, b.uv)
	g.Index = b.index
	return g
}

func boxGeometry(e Entry) (*scene.Geometry, error) {
	half := mgl64.Vec3{num(e, "width", 1) / 2, num(e, "height", 1) / 2, num(e, "depth", 1) / 2}
	faces := []struct{ n, u, v mgl64.Vec3 }{
		{mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, -1}, mgl64.Vec3{0, 1, 0}},
		{mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 1, 0}},
		{mgl64.Vec3{0, 1, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, -1}},
		{mgl64.Vec3{0, -1, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, 1}},
		{mgl64.Vec3{0, 0, 1}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}},
		{mgl64.Vec3{0, 0, -1}, mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{0, 1, 0}},
	}
	mul := func(a, b mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]} }

	b := &meshBuilder{}
	var groups []scene.Group
	for i, f := range faces {
		corner := func(su, sv float64) mgl64.Vec3 {
			return mul(f.n.Add(f.u.Mul(su)).Add(f.v.Mul(sv)), half)
		}
		v0 := b.vertex(corner(-1, -1), f.n, 0, 0)
		v1 := b.vertex(corner(1, -1), f.n, 1, 0)
		v2 := b.vertex(corner(1, 1), f.n, 1, 1)
		v3 := b.vertex(corner(-1, 1), f.n, 0, 1)
		b.tri(v0, v1, v2)
		b.tri(v0, v2, v3)
		groups = append(groups, scene.Group{Start: i * 6, Count: 6, MaterialIndex: i})
	}
	g := b.geometry()
	g.Groups = groups
	return g, nil
}

func sphereGeometry(e Entry) (*scene.Geometry, error) {
	r := num(e, "radius", 1)
	ws := max(3, int(num(e, "widthSegments", 32)))
	hs := max(2, int(num(e, "heightSegments", 16)))

	b := &meshBuilder{}
	grid := make([][]uint32, hs+1)
	for iy := 0; iy <= hs; iy++ {
		v := float64(iy) / float64(hs)
		for ix := 0; ix <= ws; ix++ {
			u := float64(ix) / float64(ws)
			p := mgl64.Vec3{
				-r * math.Cos(u*2*math.Pi) * math.Sin(v*math.Pi),
				r * math.Cos(v*math.Pi),
				r * math.Sin(u*2*math.Pi) * math.Sin(v*math.Pi),
			}
			n := p
			if n.Len() > 0 {
				n = n.Normalize()
			}
			grid[iy] = append(grid[iy], b.vertex(p, n, u, 1-v))
		}
	}
	for iy := 0; iy < hs; iy++ {
		for ix := 0; ix < ws; ix++ {
			a, bb := grid[iy][ix+1], grid[iy][ix]
			c, d := grid[iy+1][ix], grid[iy+1][ix+1]
			if iy != 0 {
				b.tri(a, bb, d)
			}
			if iy != hs-1 {
				b.tri(bb, c, d)
			}
		}
	}
	return b.geometry(), nil
}

func cylinderGeometry(e Entry) (*scene.Geometry, error) {
	rt := num(e, "radiusTop", 1)
	rb := num(e, "radiusBottom", 1)
	h := num(e, "height", 1)
	rs := max(3, int(num(e, "radialSegments", 32)))
	hsegs := max(1, int(num(e, "heightSegments", 1)))
	openEnded, _ := e["openEnded"].(bool)
	halfH := h / 2
	slope := 0.0
	if h != 0 {
		slope = (rb - rt) / h
	}

	b := &meshBuilder{}
	rows := make([][]uint32, hsegs+1)
	for y := 0; y <= hsegs; y++ {
		v := float64(y) / float64(hsegs)
		radius := v*(rb-rt) + rt
		for x := 0; x <= rs; x++ {
			u := float64(x) / float64(rs)
			sin, cos := math.Sincos(u * 2 * math.Pi)
			p := mgl64.Vec3{radius * sin, -v*h + halfH, radius * cos}
			n := mgl64.Vec3{sin, slope, cos}.Normalize()
			rows[y] = append(rows[y], b.vertex(p, n, u, 1-v))
		}
	}
	for x := 0; x < rs; x++ {
		for y := 0; y < hsegs; y++ {
			a, bb := rows[y][x], rows[y+1][x]
			c, d := rows[y+1][x+1], rows[y][x+1]
			b.tri(a, bb, d)
			b.tri(bb, c, d)
		}
	}

	addCap := func(top bool) {
		radius, sign := rb, -1.0
		if top {
			radius, sign = rt, 1.0
		}
		if radius <= 0 {
			return
		}
		n := mgl64.Vec3{0, sign, 0}
		centers := make([]uint32, rs)
		for x := 0; x < rs; x++ {
			centers[x] = b.vertex(mgl64.Vec3{0, halfH * sign, 0}, n, 0.5, 0.5)
		}
		ring := make([]uint32, rs+1)
		for x := 0; x <= rs; x++ {
			sin, cos := math.Sincos(float64(x) / float64(rs) * 2 * math.Pi)
			ring[x] = b.vertex(mgl64.Vec3{radius * sin, halfH * sign, radius * cos}, n, cos*0.5+0.5, sin*0.5*sign+0.5)
		}
		for x := 0; x < rs; x++ {
			if top {
				b.tri(ring[x], ring[x+1], centers[x])
			} else {
				b.tri(ring[x+1], ring[x], centers[x])
			}
		}
	}
	if !openEnded {
		addCap(true)
		addCap(false)
	}
	return b.geometry(), nil
}

func planeGeometry(e Entry) (*scene.Geometry, error) {
	hw, hh := num(e, "width", 1)/2, num(e, "height", 1)/2
	n := mgl64.Vec3{0, 0, 1}
	b := &meshBuilder{}
	v0 := b.vertex(mgl64.Vec3{-hw, hh, 0}, n, 0, 1)
	v1 := b.vertex(mgl64.Vec3{hw, hh, 0}, n, 1, 1)
	v2 := b.vertex(mgl64.Vec3{-hw, -hh, 0}, n, 0, 0)
	v3 := b.vertex(mgl64.Vec3{hw, -hh, 0}, n, 1, 0)
	b.tri(v0, v2, v1)
	b.tri(v2, v3, v1)
	return b.geometry(), nil
}
