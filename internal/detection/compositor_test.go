package detection

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func rgbaAt(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestCompositeDrawsPositiveOutline(t *testing.T) {
	t.Parallel()

	src := uniformImage(100, 100, white)
	out, maxConf := Composite(src, []Detection{det("nailong", 0.91, 20, 20, 80, 80)}, DefaultStyle())

	require.Equal(t, src.Bounds(), out.Bounds())
	assert.InDelta(t, 0.91, maxConf, 1e-6)

	red := color.RGBA{R: 255, A: 255}
	assert.Equal(t, red, rgbaAt(out, 20, 50), "left edge")
	assert.Equal(t, red, rgbaAt(out, 50, 79), "bottom edge")
	assert.Equal(t, red, rgbaAt(out, 18, 50), "outer half of the stroke")
	assert.Equal(t, white, rgbaAt(out, 50, 50), "interior untouched")
	assert.Equal(t, white, rgbaAt(out, 5, 5), "outside untouched")
	assert.Equal(t, white, src.RGBAAt(20, 50), "source not modified")
}

func TestCompositeSkipsIgnoredLabel(t *testing.T) {
	t.Parallel()

	src := uniformImage(60, 60, white)
	out, maxConf := Composite(src, []Detection{det("xiong", 0.99, 10, 10, 50, 50)}, DefaultStyle())

	assert.Zero(t, maxConf)
	assert.Equal(t, white, rgbaAt(out, 10, 30))
}

func TestCompositeOtherLabelMutedColor(t *testing.T) {
	t.Parallel()

	src := uniformImage(60, 60, white)
	out, maxConf := Composite(src, []Detection{
		det("other", 0.4, 10, 10, 50, 50),
		det("xiong", 0.99, 0, 0, 5, 5),
	}, DefaultStyle())

	assert.InDelta(t, 0.4, maxConf, 1e-6)
	got := rgbaAt(out, 10, 30)
	assert.Equal(t, uint8(255), got.A)
	assert.Equal(t, color.RGBA{R: 0x80, G: 0x10, B: 0x40, A: 0xff}, got)
}

func TestCompositeForcesOpaque(t *testing.T) {
	t.Parallel()

	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			src.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 0, A: 128})
		}
	}
	out, maxConf := Composite(src, nil, DefaultStyle())

	assert.Zero(t, maxConf)
	got := rgbaAt(out, 3, 3)
	assert.Equal(t, uint8(255), got.A)
	assert.InDelta(t, 200, int(got.R), 2)
	assert.InDelta(t, 100, int(got.G), 2)
	assert.Zero(t, got.B)
}

func TestCompositeTinyAndOutOfBoundsBoxes(t *testing.T) {
	t.Parallel()

	src := uniformImage(40, 40, white)
	assert.NotPanics(t, func() {
		Composite(src, []Detection{
			det("nailong", 0.5, 10, 10, 11, 11),
			det("nailong", 0.6, -1e9, -1e9, 1e9, 1e9),
			det("nailong", 0.7, 30, 30, 20, 20),
		}, DefaultStyle())
	})
}
