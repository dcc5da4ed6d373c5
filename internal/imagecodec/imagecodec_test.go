package imagecodec

import (
	"bytes"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/tphakala/nailong-guard/internal/errors"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func encodeGIF(t *testing.T, frames int) []byte {
	t.Helper()
	anim := &gif.GIF{}
	for i := range frames {
		p := image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9)
		for y := range 4 {
			for x := range 4 {
				p.Set(x, y, color.RGBA{R: uint8(i * 100), A: 255})
			}
		}
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	return buf.Bytes()
}

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	src := testImage(8, 6)
	encoders := map[string]func(*bytes.Buffer) error{
		FormatPNG:  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		FormatJPEG: func(b *bytes.Buffer) error { return jpeg.Encode(b, src, nil) },
		FormatBMP:  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		FormatTIFF: func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
	}

	for format, encode := range encoders {
		t.Run(format, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, encode(&buf))

			guessed, err := GuessFormat(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, format, guessed)

			img, got, err := Decode(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, format, got)
			assert.Equal(t, 8, img.Bounds().Dx())
			assert.Equal(t, 6, img.Bounds().Dy())
		})
	}
}

func TestDecodeGIFFrames(t *testing.T) {
	t.Parallel()

	data := encodeGIF(t, 2)

	first, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, FormatGIF, format)
	r, _, _, _ := first.At(1, 1).RGBA()
	assert.Zero(t, r>>8)

	second, _, err := DecodeFrame(data, 1)
	require.NoError(t, err)
	r, _, _, _ = second.At(1, 1).RGBA()
	assert.InDelta(t, 100, int(r>>8), 20)

	_, _, err = DecodeFrame(data, 2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidImage))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidImage))

	_, _, err = Decode(nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidImage))
}

func TestDecodeFrameOnStillImage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(2, 2)))

	_, _, err := DecodeFrame(buf.Bytes(), 1)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidImage))
	_, _, err = DecodeFrame(buf.Bytes(), -1)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidImage))
}

func TestEncodePNGRoundTrip(t *testing.T) {
	t.Parallel()

	src := testImage(5, 5)
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, src))

	img, format, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format)
	assert.Equal(t, src.At(3, 2), color.RGBAModel.Convert(img.At(3, 2)))
}
