package detection

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"
)

const (
	// strokeWidth is the box outline width in pixels
	strokeWidth = 4
	// halfStroke is the outline extent on each side of the box edge
	halfStroke = strokeWidth / 2
	// kappa approximates a quarter circle with a cubic Bézier
	kappa = 0.5522847
)

// Style controls how boxes are drawn.
type Style struct {
	PositiveLabel string     // label drawn in PositiveColor
	IgnoredLabel  string     // label never drawn nor counted
	PositiveColor color.RGBA // outline color for PositiveLabel
	OtherColor    color.RGBA // outline color for any other label
}

// DefaultStyle draws "nailong" boxes red and skips "xiong".
func DefaultStyle() Style {
	return Style{
		PositiveLabel: "nailong",
		IgnoredLabel:  "xiong",
		PositiveColor: color.RGBA{R: 255, A: 255},
		OtherColor:    color.RGBA{R: 0x80, G: 0x10, B: 0x40, A: 0xff},
	}
}

// Composite draws dets as 4px round-joined outlines over a copy of img. Every
// pixel covered by an outline takes the outline color at full opacity; every
// other pixel keeps its source color, also forced opaque. It returns the
// composite and the highest confidence among the drawn boxes.
func Composite(img image.Image, dets []Detection, style Style) (*image.RGBA, float32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	overlay := image.NewRGBA(image.Rect(0, 0, w, h))
	var maxConf float32
	var r vector.Rasterizer

	for _, d := range dets {
		if d.Label == style.IgnoredLabel {
			continue
		}
		maxConf = max(maxConf, d.Confidence)

		c := style.OtherColor
		if d.Label == style.PositiveLabel {
			c = style.PositiveColor
		}

		r.Reset(w, h)
		strokeRect(&r, clampBox(d.Box, w, h))
		r.Draw(overlay, overlay.Bounds(), image.NewUniform(c), image.Point{})
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	for i := 0; i < len(out.Pix); i += 4 {
		a := overlay.Pix[i+3]
		if a > 0 {
			// overlay is premultiplied; antialiased edges recover the stroke color
			out.Pix[i] = unpremul(overlay.Pix[i], a)
			out.Pix[i+1] = unpremul(overlay.Pix[i+1], a)
			out.Pix[i+2] = unpremul(overlay.Pix[i+2], a)
		} else if sa := out.Pix[i+3]; sa > 0 && sa < 0xff {
			out.Pix[i] = unpremul(out.Pix[i], sa)
			out.Pix[i+1] = unpremul(out.Pix[i+1], sa)
			out.Pix[i+2] = unpremul(out.Pix[i+2], sa)
		}
		out.Pix[i+3] = 0xff
	}

	return out, maxConf
}

func unpremul(v, a uint8) uint8 {
	return uint8(min(uint32(v)*0xff/uint32(a), 0xff))
}

// clampBox keeps coordinates within a stroke width of the canvas so the
// rasterizer never sees runaway values from bad model output.
func clampBox(bb BoundingBox, w, h int) BoundingBox {
	lo := float32(-strokeWidth)
	fw, fh := float32(w+strokeWidth), float32(h+strokeWidth)
	return BoundingBox{
		X1: min(max(bb.X1, lo), fw),
		Y1: min(max(bb.Y1, lo), fh),
		X2: min(max(bb.X2, lo), fw),
		Y2: min(max(bb.Y2, lo), fh),
	}
}

// strokeRect adds the outline of bb as a filled ring: an outer rounded
// rectangle (round joins) and, wound the other way, the inner rectangle.
func strokeRect(r *vector.Rasterizer, bb BoundingBox) {
	x1, y1 := min(bb.X1, bb.X2), min(bb.Y1, bb.Y2)
	x2, y2 := max(bb.X1, bb.X2), max(bb.Y1, bb.Y2)
	const rad = float32(halfStroke)
	const k = float32(kappa) * rad

	// Outer edge, clockwise in image coordinates
	r.MoveTo(x1, y1-rad)
	r.LineTo(x2, y1-rad)
	r.CubeTo(x2+k, y1-rad, x2+rad, y1-k, x2+rad, y1)
	r.LineTo(x2+rad, y2)
	r.CubeTo(x2+rad, y2+k, x2+k, y2+rad, x2, y2+rad)
	r.LineTo(x1, y2+rad)
	r.CubeTo(x1-k, y2+rad, x1-rad, y2+k, x1-rad, y2)
	r.LineTo(x1-rad, y1)
	r.CubeTo(x1-rad, y1-k, x1-k, y1-rad, x1, y1-rad)
	r.ClosePath()

	// Inner edge, counter-clockwise, only when the box is larger than the stroke
	if x2-x1 > 2*rad && y2-y1 > 2*rad {
		r.MoveTo(x1+rad, y1+rad)
		r.LineTo(x1+rad, y2-rad)
		r.LineTo(x2-rad, y2-rad)
		r.LineTo(x2-rad, y1+rad)
		r.ClosePath()
	}
}
