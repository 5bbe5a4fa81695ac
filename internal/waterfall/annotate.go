package waterfall

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	dpi          float64 = 72
	labelPadding int     = 3
)

var labelShadow = color.RGBA{A: 0xa0}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
}

func newAnnotator(fontSize float64) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.White)

	return &annotator{
		context: ctx,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) annotate(img *image.RGBA, frame Frame) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, Frame) error
	}{
		{"drawing frequency labels", a.drawFrequencyLabels},
		{"drawing info line", a.drawInfo},
	}
	for _, op := range ops {
		if err := op.fn(img, frame); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

// drawFrequencyLabels writes the start, center and end frequency along the
// top edge of the raster
func (a *annotator) drawFrequencyLabels(img *image.RGBA, frame Frame) error {
	if frame.SpanMHz <= 0 {
		return nil
	}

	bounds := img.Bounds()
	center := frame.CenterFreqMHz * 1e6
	half := frame.SpanMHz * 1e6 / 2

	metrics := a.fontFace.Metrics()
	textY := labelPadding + metrics.Ascent.Round()

	labels := []struct {
		hz    float64
		align float64 // 0 left, 0.5 centered, 1 right
	}{
		{center - half, 0},
		{center, 0.5},
		{center + half, 1},
	}

	for _, l := range labels {
		label := formatFrequency(l.hz)
		width := font.MeasureString(a.fontFace, label).Round()

		x := int(float64(bounds.Dx())*l.align) - int(float64(width)*l.align)
		x = max(labelPadding, min(x, bounds.Dx()-width-labelPadding))

		if err := a.drawLabel(img, label, x, textY, width); err != nil {
			return err
		}
	}
	return nil
}

// drawInfo writes the status and the current color range in the bottom-left
// corner
func (a *annotator) drawInfo(img *image.RGBA, frame Frame) error {
	var sb strings.Builder

	sb.WriteString(string(frame.Status))
	sb.WriteString("  ")
	sb.WriteString(fmt.Sprintf("%.1f .. %.1f dB", frame.Range.Min, frame.Range.Max))
	sb.WriteString("  ")
	sb.WriteString(fmt.Sprintf("%d rows", len(frame.Rows)))

	label := sb.String()
	width := font.MeasureString(a.fontFace, label).Round()
	textY := img.Bounds().Dy() - labelPadding - a.fontFace.Metrics().Descent.Round()

	return a.drawLabel(img, label, labelPadding, textY, width)
}

// drawLabel draws text over a translucent box so it stays readable on any
// palette color
func (a *annotator) drawLabel(img *image.RGBA, label string, x, baseline, width int) error {
	metrics := a.fontFace.Metrics()
	box := image.Rect(
		x-labelPadding,
		baseline-metrics.Ascent.Round()-labelPadding,
		x+width+labelPadding,
		baseline+metrics.Descent.Round()+labelPadding,
	)
	fillOver(img, box, labelShadow)

	if _, err := a.context.DrawString(label, freetype.Pt(x, baseline)); err != nil {
		return fmt.Errorf("drawing %q: %w", label, err)
	}
	return nil
}

func formatFrequency(hz float64) string {
	value, prefix := humanize.ComputeSI(hz)
	return humanize.FtoaWithDigits(value, 3) + " " + prefix + "Hz"
}
