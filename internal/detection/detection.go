// Package detection turns images into object detections and annotated images.
//
// The pipeline is: Encode (image to normalized CHW tensor), an Inferencer
// (opaque model call), Decode (raw YOLO output to candidates), Suppress
// (greedy non-maximum suppression) and optionally Composite (draw the
// surviving boxes onto the source image).
package detection

import (
	"context"
)

// BoundingBox is an axis-aligned box in source image pixel coordinates.
type BoundingBox struct {
	X1, Y1, X2, Y2 float32
}

// Detection is a labeled, scored box. Detections are immutable once decoded.
type Detection struct {
	Box        BoundingBox
	Label      string
	Confidence float32
}

// Tensor is a dense float32 tensor with its shape, e.g. (1, 3, 640, 640).
type Tensor struct {
	Shape []int
	Data  []float32
}

// Output is the raw model output laid out feature-major, the way YOLOv8
// exports it: Data[f*Candidates+c] is feature f of candidate c. Features are
// cx, cy, w, h followed by one score per class.
type Output struct {
	Features   int
	Candidates int
	Data       []float32
}

// Inferencer runs the model. Implementations must be safe for concurrent use.
type Inferencer interface {
	Infer(ctx context.Context, input Tensor) (Output, error)
	Close() error
}

// Row copies the features of candidate c into dst and returns it. dst is
// grown when too small.
func (o Output) Row(c int, dst []float32) []float32 {
	if cap(dst) < o.Features {
		dst = make([]float32, o.Features)
	}
	dst = dst[:o.Features]
	for f := range o.Features {
		dst[f] = o.Data[f*o.Candidates+c]
	}
	return dst
}

// Validate checks that the declared dimensions match the data.
func (o Output) Validate() error {
	if o.Features < 5 {
		return errInference("output has %d features, need at least 5", o.Features)
	}
	if o.Candidates < 0 || len(o.Data) != o.Features*o.Candidates {
		return errInference("output data length %d does not match %dx%d", len(o.Data), o.Features, o.Candidates)
	}
	return nil
}
