// Package imagecodec decodes chat images from raw bytes and encodes
// annotated results as PNG.
package imagecodec

import (
	"bufio"
	"bytes"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/tphakala/nailong-guard/internal/errors"
)

// MaxPixels bounds the decoded canvas to keep a hostile header from
// allocating gigabytes.
const MaxPixels = 8192 * 8192

// Format names as reported by the registered decoders.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatGIF  = "gif"
	FormatWebP = "webp"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

func invalid(err error, format string) error {
	return errors.New(err).
		Component("imagecodec").
		Category(errors.CategoryInvalidImage).
		Context("format", format).
		Build()
}

func invalidf(imageFormat, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("imagecodec").
		Category(errors.CategoryInvalidImage).
		Context("format", imageFormat).
		Build()
}

// GuessFormat sniffs the image format from data without decoding pixels.
func GuessFormat(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", invalid(err, "unknown")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", invalidf(format, "image has zero dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return "", invalidf(format, "image too large: %dx%d", cfg.Width, cfg.Height)
	}
	return format, nil
}

// Decode decodes data into an image. Animated GIFs yield their first frame.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeFrame(data, 0)
}

// DecodeFrame decodes data and returns the given frame. Only GIF inputs have
// more than one frame; for every other format frame must be 0. Frames after
// the first are composited over their predecessors since GIF frames only
// carry the changed region.
func DecodeFrame(data []byte, frame int) (image.Image, string, error) {
	format, err := GuessFormat(data)
	if err != nil {
		return nil, "", err
	}
	if frame < 0 {
		return nil, format, invalidf(format, "negative frame index %d", frame)
	}

	if format == FormatGIF {
		img, err := decodeGIFFrame(data, frame)
		if err != nil {
			return nil, format, err
		}
		return img, format, nil
	}

	if frame != 0 {
		return nil, format, invalidf(format, "frame %d out of range for single-frame %s", frame, format)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, invalid(err, format)
	}
	return img, format, nil
}

func decodeGIFFrame(data []byte, frame int) (image.Image, error) {
	if frame == 0 {
		// avoid decoding every frame of a long animation
		img, err := gif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, invalid(err, FormatGIF)
		}
		return img, nil
	}

	anim, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, invalid(err, FormatGIF)
	}
	if frame >= len(anim.Image) {
		return nil, invalidf(FormatGIF, "frame %d out of range, gif has %d frames", frame, len(anim.Image))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, anim.Config.Width, anim.Config.Height))
	for i := 0; i <= frame; i++ {
		draw.Draw(canvas, anim.Image[i].Bounds(), anim.Image[i], anim.Image[i].Bounds().Min, draw.Over)
	}
	return canvas, nil
}

// EncodePNG writes img to w as PNG using default compression.
func EncodePNG(w io.Writer, img image.Image) error {
	bw := bufio.NewWriter(w)
	if err := png.Encode(bw, img); err != nil {
		return errors.New(err).
			Component("imagecodec").
			Category(errors.CategoryArtifactIO).
			Build()
	}
	if err := bw.Flush(); err != nil {
		return errors.New(err).
			Component("imagecodec").
			Category(errors.CategoryArtifactIO).
			Build()
	}
	return nil
}
