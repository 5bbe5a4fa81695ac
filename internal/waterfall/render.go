package waterfall

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

const (
	minRowHeight         = 2.0
	defaultGridDivisions = 10
	defaultFontSize      = 10.0
)

var (
	defaultBackground  = color.RGBA{R: 0x00, G: 0x00, B: 0x10, A: 0xff}
	defaultMarkerColor = color.RGBA{R: 0xff, G: 0x40, B: 0x40, A: 0xc0}
	defaultGridColor   = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x50}
)

// RenderConfig holds the visual options of the waterfall raster
type RenderConfig struct {
	Theme         ColorTheme  // Palette used for power values
	Background    color.Color // Fill for the area not covered by rows
	MarkerColor   color.Color // Center frequency marker
	GridColor     color.Color // Vertical grid lines
	GridDivisions int         // Number of equal columns the grid splits the raster into
	FontSize      float64     // Annotation font size in points
	NoAnnotations bool        // Disables frequency labels and the info line
}

// Frame is everything a single render pass needs. It is assembled under the
// session lock so it always reflects one fully applied update.
type Frame struct {
	Rows          []*spectrum.Row // History snapshot, oldest first
	Range         Range           // Color range
	MaxRows       int             // History capacity, drives the row height
	CenterFreqMHz float64         // Center frequency for labels
	SpanMHz       float64         // Span for labels
	Status        Status          // Acquisition status for the info line
}

// Renderer draws the waterfall raster
type Renderer struct {
	palette Palette
	config  RenderConfig

	mu        sync.Mutex // annotator is not safe for concurrent use
	annotator *annotator
}

// NewRenderer creates a new renderer with the given configuration
func NewRenderer(config RenderConfig) (*Renderer, error) {
	// Set defaults for zero values
	if config.Theme == "" {
		config.Theme = ClassicTheme
	}
	if !ValidTheme(config.Theme) {
		return nil, fmt.Errorf("unknown color theme: %s", config.Theme)
	}
	if config.Background == nil {
		config.Background = defaultBackground
	}
	if config.MarkerColor == nil {
		config.MarkerColor = defaultMarkerColor
	}
	if config.GridColor == nil {
		config.GridColor = defaultGridColor
	}
	if config.GridDivisions <= 0 {
		config.GridDivisions = defaultGridDivisions
	}
	if config.FontSize == 0 {
		config.FontSize = defaultFontSize
	}

	r := &Renderer{
		palette: PaletteFor(config.Theme),
		config:  config,
	}

	if !config.NoAnnotations {
		ann, err := newAnnotator(config.FontSize)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		r.annotator = ann
	}

	return r, nil
}

// Render draws a complete new raster of the given size
func (r *Renderer) Render(frame Frame, size image.Point) (*image.RGBA, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid canvas size: %dx%d", size.X, size.Y)
	}

	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.NewUniform(r.config.Background), image.Point{}, draw.Src)

	r.renderRows(img, frame)
	r.renderOverlays(img)

	if r.annotator != nil {
		r.mu.Lock()
		err := r.annotator.annotate(img, frame)
		r.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

// RowHeight returns the height of one history row in pixels
func RowHeight(canvasHeight, maxRows int) float64 {
	if maxRows <= 0 {
		return minRowHeight
	}
	return math.Max(minRowHeight, float64(canvasHeight)/float64(maxRows))
}

// renderRows paints one rectangle per bin. The newest row is anchored to the
// bottom edge and older rows scroll upward.
func (r *Renderer) renderRows(img *image.RGBA, frame Frame) {
	bounds := img.Bounds()
	height := float64(bounds.Dy())
	width := float64(bounds.Dx())

	rowHeight := RowHeight(bounds.Dy(), frame.MaxRows)
	rectHeight := int(math.Ceil(rowHeight))
	total := len(frame.Rows)

	for i, row := range frame.Rows {
		y := height - float64(total-i)*rowHeight
		if y+rowHeight <= 0 || row.Bins() == 0 {
			continue // scrolled off the top
		}

		colWidth := width / float64(row.Bins())
		rectWidth := int(math.Ceil(colWidth))
		top := int(math.Floor(y))

		for bin, value := range row.Values {
			left := int(math.Floor(float64(bin) * colWidth))
			rect := image.Rect(left, top, left+rectWidth, top+rectHeight).Intersect(bounds)
			if rect.Empty() {
				continue
			}

			c := r.palette.ColorFor(value, frame.Range.Min, frame.Range.Max)
			draw.Draw(img, rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
		}
	}
}

// renderOverlays draws the grid lines and the center frequency marker
func (r *Renderer) renderOverlays(img *image.RGBA) {
	bounds := img.Bounds()

	for i := 1; i < r.config.GridDivisions; i++ {
		x := bounds.Dx() * i / r.config.GridDivisions
		fillOver(img, image.Rect(x, 0, x+1, bounds.Dy()), r.config.GridColor)
	}

	mid := bounds.Dx() / 2
	fillOver(img, image.Rect(mid, 0, mid+1, bounds.Dy()), r.config.MarkerColor)
}

// Scale resizes a rendered raster with nearest-neighbour sampling, keeping
// bin edges sharp
func Scale(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func fillOver(img *image.RGBA, rect image.Rectangle, c color.Color) {
	draw.Draw(img, rect.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}
