package detection

import (
	"image"
	"image/draw"
	"strconv"

	xdraw "golang.org/x/image/draw"
)

// Encode resizes img to size×size with Catmull-Rom interpolation and returns
// a (1, 3, size, size) channel-first tensor with values in [0, 1].
// The aspect ratio is not preserved; boxes are scaled back per axis in Decode.
func Encode(img image.Image, size int) (Tensor, error) {
	if img == nil {
		return Tensor{}, errInvalidImage("image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Tensor{}, errInvalidImage("image has zero dimensions %dx%d", b.Dx(), b.Dy())
	}
	if size <= 0 {
		return Tensor{}, errInvalidImage("invalid model input size %d", size)
	}

	// straight alpha: the model sees channel values, not values scaled by coverage
	resized := image.NewNRGBA(image.Rect(0, 0, size, size))
	if b.Dx() == size && b.Dy() == size {
		draw.Draw(resized, resized.Bounds(), img, b.Min, draw.Src)
	} else {
		xdraw.CatmullRom.Scale(resized, resized.Bounds(), img, b, xdraw.Src, nil)
	}

	plane := size * size
	data := make([]float32, 3*plane)
	pix := resized.Pix
	for y := range size {
		row := y * resized.Stride
		for x := range size {
			i := row + x*4
			p := y*size + x
			data[p] = float32(pix[i]) / 255
			data[plane+p] = float32(pix[i+1]) / 255
			data[2*plane+p] = float32(pix[i+2]) / 255
		}
	}

	return Tensor{Shape: []int{1, 3, size, size}, Data: data}, nil
}

// DecodeOptions controls how raw output rows become detections.
type DecodeOptions struct {
	InputSize       int      // model input side the geometry is expressed in
	Labels          []string // class labels in score order
	ConfidenceFloor float32  // rows whose best score is below this are dropped
}

// Decode converts raw model output into unsuppressed detections in the
// coordinate space of an origW×origH image. For each candidate the best
// scoring class wins, ties going to the lowest class index.
func Decode(out Output, origW, origH int, opts DecodeOptions) ([]Detection, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if origW <= 0 || origH <= 0 {
		return nil, errInvalidImage("original image has zero dimensions %dx%d", origW, origH)
	}
	if opts.InputSize <= 0 {
		return nil, errInference("invalid model input size %d", opts.InputSize)
	}

	sx := float32(origW) / float32(opts.InputSize)
	sy := float32(origH) / float32(opts.InputSize)

	var dets []Detection
	row := make([]float32, out.Features)
	for c := range out.Candidates {
		row = out.Row(c, row)

		classID, score := argmax(row[4:])
		if score < opts.ConfidenceFloor {
			continue
		}

		cx, cy := row[0]*sx, row[1]*sy
		w, h := row[2]*sx, row[3]*sy
		dets = append(dets, Detection{
			Box: BoundingBox{
				X1: cx - w/2,
				Y1: cy - h/2,
				X2: cx + w/2,
				Y2: cy + h/2,
			},
			Label:      labelFor(opts.Labels, classID),
			Confidence: score,
		})
	}

	return dets, nil
}

// argmax returns the index and value of the first maximum in scores
func argmax(scores []float32) (int, float32) {
	best, bestScore := 0, scores[0]
	for i := 1; i < len(scores); i++ {
		if scores[i] > bestScore {
			best, bestScore = i, scores[i]
		}
	}
	return best, bestScore
}

func labelFor(labels []string, classID int) string {
	if classID < len(labels) {
		return labels[classID]
	}
	return "class_" + strconv.Itoa(classID)
}
