// Package render defines the rasterizer boundary and a headless
// implementation that lets capture and recording run without a GPU.
package render

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"github.com/scenecast/scenecast/internal/scene"
)

// Renderer draws a scene through a camera into an output surface.
type Renderer interface {
	Size() (w, h int)
	SetSize(w, h int)
	Render(root, camera *scene.Object) error
	// Snapshot returns the last rendered frame.
	Snapshot() (image.Image, error)
}

// ErrNoFrame is returned by Snapshot before anything has been rendered.
var ErrNoFrame = errors.New("nothing rendered yet")

// Background describes the scene background. With Enabled false the frame
// is cleared to transparent black.
type Background struct {
	Enabled bool
	Top     color.RGBA
	Bottom  color.RGBA
}

// Headless clears each frame to the background gradient and draws nothing
// else.
type Headless struct {
	mu     sync.Mutex
	w, h   int
	bg     Background
	frame  *image.RGBA
	frames int
}

// NewHeadless returns a renderer with the given output size.
func NewHeadless(w, h int) *Headless {
	return &Headless{w: max(w, 1), h: max(h, 1)}
}

func (r *Headless) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w, r.h
}

func (r *Headless) SetSize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w, r.h = max(w, 1), max(h, 1)
}

// SetBackground changes the clear colors used by later renders.
func (r *Headless) SetBackground(bg Background) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bg = bg
}

func (r *Headless) Render(root, camera *scene.Object) error {
	if root == nil {
		return errors.New("render: no scene")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	img := image.NewRGBA(image.Rect(0, 0, r.w, r.h))
	if r.bg.Enabled {
		fillGradient(img, r.bg.Top, r.bg.Bottom)
	}
	r.frame = img
	r.frames++
	return nil
}

func (r *Headless) Snapshot() (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil, ErrNoFrame
	}
	out := image.NewRGBA(r.frame.Bounds())
	copy(out.Pix, r.frame.Pix)
	return out, nil
}

// Frames returns the number of Render calls.
func (r *Headless) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// fillGradient interpolates rows from top to bottom.
func fillGradient(img *image.RGBA, top, bottom color.RGBA) {
	b := img.Bounds()
	h := b.Dy()
	for y := 0; y < h; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y) / float64(h-1)
		}
		c := color.RGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: lerp(top.A, bottom.A, t),
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, b.Min.Y+y, c)
		}
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

// Resize scales img to w x h. Images already at that size are returned
// unchanged.
func Resize(img image.Image, w, h int) image.Image {
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
