package waterfall

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme names one of the predefined palettes
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Navy -> blue -> cyan -> yellow -> red -> white
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
)

// ColorStop is one breakpoint of a piecewise-linear gradient
type ColorStop struct {
	Position float64 // Fraction in [0-1]
	Color    colorful.Color
}

// Palette is an ordered set of color stops spanning [0,1]
type Palette []ColorStop

var (
	classicPalette = Palette{
		{0.0, mustHex("#000020")},
		{0.2, mustHex("#0000ff")},
		{0.4, mustHex("#00ffff")},
		{0.6, mustHex("#ffff00")},
		{0.8, mustHex("#ff0000")},
		{1.0, mustHex("#ffffff")},
	}

	grayscalePalette = Palette{
		{0.0, mustHex("#000000")},
		{0.2, mustHex("#333333")},
		{0.4, mustHex("#666666")},
		{0.6, mustHex("#999999")},
		{0.8, mustHex("#cccccc")},
		{1.0, mustHex("#ffffff")},
	}

	thermalPalette = Palette{
		{0.0, mustHex("#000000")},
		{0.2, mustHex("#550000")},
		{0.4, mustHex("#ff0000")},
		{0.6, mustHex("#ff8000")},
		{0.8, mustHex("#ffff00")},
		{1.0, mustHex("#ffffff")},
	}
)

// ClassicPalette returns the default waterfall gradient
func ClassicPalette() Palette {
	return classicPalette
}

// PaletteFor returns the palette of the given theme. Unknown themes fall back
// to the classic palette.
func PaletteFor(theme ColorTheme) Palette {
	switch theme {
	case GrayscaleTheme:
		return grayscalePalette
	case ThermalTheme:
		return thermalPalette
	default:
		return classicPalette
	}
}

// ValidTheme reports whether the theme is one of the predefined palettes
func ValidTheme(theme ColorTheme) bool {
	switch theme {
	case ClassicTheme, GrayscaleTheme, ThermalTheme:
		return true
	}
	return false
}

// ColorFor maps a dB value onto the classic palette using the given range
func ColorFor(value, minDb, maxDb float64) color.RGBA {
	return classicPalette.ColorFor(value, minDb, maxDb)
}

// ColorFor maps a dB value onto the palette using the given range
func (p Palette) ColorFor(value, minDb, maxDb float64) color.RGBA {
	return p.At(Normalize(value, minDb, maxDb))
}

// Normalize converts a dB value into a fraction of the range, clamped to [0,1].
// A degenerate range (maxDb <= minDb) yields 0.5.
func Normalize(value, minDb, maxDb float64) float64 {
	if !(maxDb > minDb) {
		return 0.5
	}

	n := (value - minDb) / (maxDb - minDb)
	if math.IsNaN(n) {
		return 0
	}
	return math.Max(0, math.Min(1, n))
}

// At returns the interpolated color at fraction n of the gradient
func (p Palette) At(n float64) color.RGBA {
	if len(p) == 0 {
		return color.RGBA{A: 0xff}
	}
	if n <= p[0].Position {
		return toRGBA(p[0].Color)
	}

	for i := 1; i < len(p); i++ {
		if n <= p[i].Position {
			return toRGBA(p.segment(i-1, n))
		}
	}
	return toRGBA(p[len(p)-1].Color)
}

// segment interpolates n along the segment starting at stop i
func (p Palette) segment(i int, n float64) colorful.Color {
	lo, hi := p[i], p[i+1]
	t := (n - lo.Position) / (hi.Position - lo.Position)
	return lerp(lo.Color, hi.Color, t)
}

// lerp uses a*(1-t) + b*t so both segment ends reproduce the stop colors exactly
func lerp(a, b colorful.Color, t float64) colorful.Color {
	return colorful.Color{
		R: a.R*(1-t) + b.R*t,
		G: a.G*(1-t) + b.G*t,
		B: a.B*(1-t) + b.B*t,
	}
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(fmt.Sprintf("waterfall: invalid palette color %q: %s", s, err))
	}
	return c
}
