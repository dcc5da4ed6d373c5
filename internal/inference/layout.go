// Package inference provides detection.Inferencer implementations: a local
// TensorFlow Lite interpreter and a remote server speaking the KServe v2
// REST protocol.
package inference

import (
	"fmt"

	"github.com/tphakala/nailong-guard/internal/detection"
)

// nchwToNHWC converts a (1, 3, size, size) tensor to (1, size, size, 3) into dst
func nchwToNHWC(dst, src []float32, size int) {
	plane := size * size
	for p := range plane {
		dst[p*3] = src[p]
		dst[p*3+1] = src[plane+p]
		dst[p*3+2] = src[2*plane+p]
	}
}

// outputFromShape interprets raw output data of shape (1, a, b). YOLO exports
// are feature-major (1, features, candidates) with far more candidates than
// features; a transposed (1, candidates, features) layout is detected by the
// smaller trailing dimension and rearranged.
func outputFromShape(shape []int, data []float32) (detection.Output, error) {
	dims := shape
	if len(dims) == 3 {
		if dims[0] != 1 {
			return detection.Output{}, fmt.Errorf("unsupported batch size %d", dims[0])
		}
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return detection.Output{}, fmt.Errorf("unsupported output shape %v", shape)
	}
	a, b := dims[0], dims[1]
	if a*b != len(data) {
		return detection.Output{}, fmt.Errorf("output shape %v does not match %d values", shape, len(data))
	}

	out := detection.Output{Features: a, Candidates: b, Data: data}
	if a > b {
		out = detection.Output{Features: b, Candidates: a, Data: transpose(data, a, b)}
	}
	if err := out.Validate(); err != nil {
		return detection.Output{}, err
	}
	return out, nil
}

// transpose returns the (cols, rows) transpose of a row-major rows×cols matrix
func transpose(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for r := range rows {
		for c := range cols {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	return out
}

// denormalizeBoxes scales the four geometry rows of a feature-major output
// from 0..1 to input pixels, for exports that emit normalized boxes.
func denormalizeBoxes(out detection.Output, inputSize int) {
	scale := float32(inputSize)
	n := 4 * out.Candidates
	for i := range n {
		out.Data[i] *= scale
	}
}
