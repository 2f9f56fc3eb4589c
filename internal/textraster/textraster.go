// Package textraster draws text labels onto fixed-size texture surfaces.
package textraster

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Size is the width and height of every rendered surface. Powers of two
// keep GPU texture uploads free of resampling.
const Size = 256

// DefaultFontSize is used when a request carries no usable size.
const DefaultFontSize = 64

// Request describes one text texture.
type Request struct {
	Text     string
	FontSize int
	FontFace string
}

var (
	fontsOnce sync.Once
	fonts     map[string]*sfnt.Font
	fontsErr  error
)

func loadFonts() {
	fonts = map[string]*sfnt.Font{}
	for name, ttf := range map[string][]byte{
		"regular": goregular.TTF,
		"mono":    gomono.TTF,
		"bold":    gobold.TTF,
	} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			fontsErr = fmt.Errorf("parsing %s font: %w", name, err)
			return
		}
		fonts[name] = f
	}
}

// family maps a CSS-like font face to one of the bundled Go fonts.
func family(face string) string {
	f := strings.ToLower(face)
	switch {
	case strings.Contains(f, "mono"), strings.Contains(f, "courier"), strings.Contains(f, "consol"):
		return "mono"
	case strings.Contains(f, "bold"):
		return "bold"
	default:
		return "regular"
	}
}

// fit opens the largest face no bigger than the requested size whose
// rendering of text fits within Size pixels. Sizes are capped at the
// surface height and searched by bisection. The caller closes the face.
func fit(req Request) (font.Face, int, fixed.Int26_6, error) {
	fontsOnce.Do(loadFonts)
	if fontsErr != nil {
		return nil, 0, 0, fontsErr
	}
	f := fonts[family(req.FontFace)]
	measure := func(size int) (font.Face, fixed.Int26_6, error) {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingNone})
		if err != nil {
			return nil, 0, fmt.Errorf("creating face: %w", err)
		}
		return face, font.MeasureString(face, req.Text), nil
	}

	size := req.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	size = min(size, Size)

	face, width, err := measure(size)
	if err != nil {
		return nil, 0, 0, err
	}
	if width <= fixed.I(Size) || size == 1 {
		return face, size, width, nil
	}
	face.Close()

	// lo always fits (or is 1), hi never does.
	lo, hi := 1, size
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		face, width, err := measure(mid)
		if err != nil {
			return nil, 0, 0, err
		}
		face.Close()
		if width <= fixed.I(Size) {
			lo = mid
		} else {
			hi = mid
		}
	}
	face, width, err = measure(lo)
	if err != nil {
		return nil, 0, 0, err
	}
	return face, lo, width, nil
}

// Render draws the text centered on a transparent Size x Size surface. The
// font size is reduced until the text fits the width.
func Render(req Request) (*image.RGBA, error) {
	face, _, width, err := fit(req)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	dst := image.NewRGBA(image.Rect(0, 0, Size, Size))
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.Point26_6{X: (fixed.I(Size) - width) / 2, Y: fixed.I(Size / 2)},
	}
	d.DrawString(req.Text)
	return dst, nil
}

// FittedSize returns the font size Render would settle on.
func FittedSize(req Request) (int, error) {
	face, size, _, err := fit(req)
	if err != nil {
		return 0, err
	}
	face.Close()
	return size, nil
}
