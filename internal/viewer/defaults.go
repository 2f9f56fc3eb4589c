package viewer

import (
	"image"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/scenecast/scenecast/internal/render"
	"github.com/scenecast/scenecast/internal/scene"
)

// ObjectSlot is the path segment holding the object set at a path.
const ObjectSlot = "<object>"

var (
	backgroundPath = scene.Path{"Background"}
	cameraPath     = scene.Path{"Cameras", "default", "rotated"}

	// DefaultTopColor and DefaultBottomColor are the background gradient
	// colors, as sent in set_property (channels in 0..1).
	DefaultTopColor    = []float64{135.0 / 255, 206.0 / 255, 250.0 / 255}
	DefaultBottomColor = []float64{25.0 / 255, 25.0 / 255, 112.0 / 255}
)

// newRoot returns the scene root, rotated so that +Z is up.
func newRoot() *scene.Object {
	root := scene.NewObject(scene.KindScene, "Scene")
	root.Quaternion = mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{1, 0, 0})
	return root
}

func (v *Viewer) buildDefaultScene() {
	v.setProperty(backgroundPath, "top_color", DefaultTopColor)
	v.setProperty(backgroundPath, "bottom_color", DefaultBottomColor)

	spot := defaultLight(scene.KindSpotLight, 0.8, mgl64.Vec3{1.5, 1.5, 2}, 50)
	v.setObject(scene.Path{"Lights", "SpotLight"}, spot)
	v.setProperty(scene.Path{"Lights", "SpotLight"}, "visible", false)

	px := defaultLight(scene.KindPointLight, 0.4, mgl64.Vec3{1.5, 1.5, 2}, 10)
	px.Light.Distance = 10
	v.setObject(scene.Path{"Lights", "PointLightNegativeX"}, px)

	nx := defaultLight(scene.KindPointLight, 0.4, mgl64.Vec3{-1.5, -1.5, 2}, 10)
	nx.Light.Distance = 10
	v.setObject(scene.Path{"Lights", "PointLightPositiveX"}, nx)

	v.setObject(scene.Path{"Lights", "AmbientLight"}, defaultLight(scene.KindAmbientLight, 0.6, mgl64.Vec3{}, 0))
	v.setObject(scene.Path{"Lights", "FillLight"}, defaultLight(scene.KindDirectionalLight, 0.4, mgl64.Vec3{-10, -10, 0}, 0))

	grid := gridHelper(20, 40)
	grid.Quaternion = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{1, 0, 0})
	v.setObject(scene.Path{"Grid"}, grid)
	v.setObject(scene.Path{"Axes"}, axesHelper(0.5))

	v.createCamera()
}

func defaultLight(kind scene.Kind, intensity float64, pos mgl64.Vec3, shadowFar float64) *scene.Object {
	l := scene.NewObject(kind, "")
	l.Light.Intensity = intensity
	l.Position = pos
	if l.Shadow != nil {
		l.Shadow.MapSize = [2]float64{1024, 1024}
		l.Shadow.Near = 0.5
		l.Shadow.Far = shadowFar
		l.Shadow.Bias = -0.001
	}
	return l
}

// createCamera installs the default perspective camera.
func (v *Viewer) createCamera() {
	v.tree.SetTransform(cameraPath, mgl64.HomogRotate3DX(math.Pi/2))
	cam := scene.NewObject(scene.KindPerspectiveCamera, "")
	cam.Camera.Fov = 75
	cam.Camera.Near = 0.01
	cam.Camera.Far = 100
	cam.Position = mgl64.Vec3{3, 1, 0}
	v.setCamera(cam)
	v.setObject(cameraPath, cam)
	w, h := v.renderer.Size()
	v.setSize(w, h)
}

// gridHelper builds a size x size grid of line segments in the XZ plane,
// with darker center lines.
func gridHelper(size float64, divisions int) *scene.Object {
	center := divisions / 2
	step := size / float64(divisions)
	half := size / 2
	var pos, col []float32
	for i := 0; i <= divisions; i++ {
		k := float32(-half + float64(i)*step)
		h := float32(half)
		pos = append(pos, -h, 0, k, h, 0, k, k, 0, -h, k, 0, h)
		c := float32(0x88) / 255
		if i == center {
			c = float32(0x44) / 255
		}
		for j := 0; j < 4; j++ {
			col = append(col, c, c, c)
		}
	}
	return lineHelper(pos, col)
}

// axesHelper builds red, green and blue segments along +X, +Y and +Z.
func axesHelper(size float32) *scene.Object {
	pos := []float32{
		0, 0, 0, size, 0, 0,
		0, 0, 0, 0, size, 0,
		0, 0, 0, 0, 0, size,
	}
	col := []float32{
		1, 0, 0, 1, 0.6, 0,
		0, 1, 0, 0.6, 1, 0,
		0, 0, 1, 0, 0.6, 1,
	}
	return lineHelper(pos, col)
}

func lineHelper(pos, col []float32) *scene.Object {
	g := scene.NewGeometry()
	g.SetAttribute("position", 3, pos)
	g.SetAttribute("color", 3, col)
	m := scene.NewMaterial("LineBasicMaterial")
	m.Props["vertexColors"] = true
	m.Props["toneMapped"] = false
	return scene.NewMesh(scene.KindLineSegments, g, m)
}

// GradientTexture returns a 1x2 texture holding the two background colors,
// top row first. Colors are in 0..255 channels.
func GradientTexture(top, bottom []float64) *scene.Texture {
	img := image.NewRGBA(image.Rect(0, 0, 1, 2))
	img.SetRGBA(0, 0, rgba(top))
	img.SetRGBA(0, 1, rgba(bottom))
	return scene.NewTexture(img)
}

func rgba(c []float64) color.RGBA {
	ch := func(i int) uint8 {
		if i >= len(c) {
			return 0
		}
		return uint8(math.Round(math.Max(0, math.Min(255, c[i]))))
	}
	return color.RGBA{R: ch(0), G: ch(1), B: ch(2), A: 255}
}

type backgroundSetter interface {
	SetBackground(render.Background)
}

// updateBackground rebuilds the gradient from the Background node and
// hands it to the renderer.
func (v *Viewer) updateBackground() {
	n := v.tree.FindOrCreate(backgroundPath)
	obj := n.Object()
	top := gradientColor(obj, "top_color", DefaultTopColor)
	bottom := gradientColor(obj, "bottom_color", DefaultBottomColor)

	v.background.Dispose()
	v.background = nil
	if obj.Visible {
		v.background = GradientTexture(top, bottom)
	}
	if bs, ok := v.renderer.(backgroundSetter); ok {
		bs.SetBackground(render.Background{Enabled: obj.Visible, Top: rgba(top), Bottom: rgba(bottom)})
	}
	v.setDirty()
}

// Background returns the current background texture, nil when hidden.
func (v *Viewer) Background() *scene.Texture { return v.background }

func gradientColor(obj *scene.Object, name string, def []float64) []float64 {
	if c, err := scene.Floats(obj.Props[name], 3); err == nil {
		return c
	}
	out := make([]float64, len(def))
	for i, x := range def {
		out[i] = x * 255
	}
	return out
}
