package detection

import (
	"context"
	"fmt"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// fakeInferencer returns a canned output and checks the input shape
type fakeInferencer struct {
	out    Output
	err    error
	calls  atomic.Int32
	closed atomic.Bool
}

func (f *fakeInferencer) Infer(ctx context.Context, input Tensor) (Output, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if len(input.Data) != 3*DefaultInputSize*DefaultInputSize {
		return Output{}, fmt.Errorf("unexpected input length %d", len(input.Data))
	}
	return f.out, f.err
}

func (f *fakeInferencer) Close() error {
	f.closed.Store(true)
	return nil
}

func newTestDetector(t *testing.T, inf Inferencer, opts ...Option) *Detector {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Model.Labels = []string{"nailong", "xiong"}
	cfg.Model.Backend = "fake"
	d, err := New(inf, cfg, opts...)
	require.NoError(t, err)
	return d
}

func TestDetectorDetectAndScore(t *testing.T) {
	t.Parallel()

	inf := &fakeInferencer{out: output(
		[]float32{320, 320, 200, 200, 0.85, 0.1},
		[]float32{322, 322, 200, 200, 0.80, 0.1}, // suppressed by the first
		[]float32{100, 100, 40, 40, 0.1, 0.95},
		[]float32{500, 500, 40, 40, 0.2, 0.1}, // below the floor
	)}
	rec := metrics.NewTestRecorder()
	d := newTestDetector(t, inf, WithRecorder(rec))

	img := uniformImage(640, 640, white)
	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "xiong", dets[0].Label)
	assert.Equal(t, "nailong", dets[1].Label)

	score, err := d.Score(context.Background(), img)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, score, 1e-6)
	assert.True(t, d.Qualifies(score))
	assert.False(t, d.Qualifies(0.5))

	assert.Equal(t, 2, rec.GetOperationCount(metrics.OpInference, metrics.StatusSuccess))
	assert.Len(t, rec.GetDurations(metrics.OpInference), 2)
	assert.Equal(t, 2, rec.GetOperationCount(metrics.OpDetection, "nailong"))
}

func TestDetectorAnnotate(t *testing.T) {
	t.Parallel()

	inf := &fakeInferencer{out: output(
		[]float32{320, 320, 200, 200, 0.7, 0.1},
		[]float32{100, 100, 40, 40, 0.1, 0.95},
	)}
	d := newTestDetector(t, inf)

	img := uniformImage(640, 640, white)
	out, maxConf, err := d.Annotate(context.Background(), img)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, maxConf, 1e-6, "ignored label does not count")
	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(220, 320))
}

func TestDetectorInferenceFailure(t *testing.T) {
	t.Parallel()

	rec := metrics.NewTestRecorder()
	d := newTestDetector(t, &fakeInferencer{err: fmt.Errorf("engine exploded")}, WithRecorder(rec))

	_, err := d.Detect(context.Background(), uniformImage(10, 10, white))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
	assert.Equal(t, 1, rec.GetErrorCount(metrics.OpInference, string(errors.CategoryInference)))
}

func TestDetectorInvalidImageSkipsInference(t *testing.T) {
	t.Parallel()

	inf := &fakeInferencer{}
	d := newTestDetector(t, inf)

	_, err := d.Detect(context.Background(), uniformImage(0, 0, white))
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidImage))
	assert.Zero(t, inf.calls.Load())
}

func TestDetectorMalformedOutput(t *testing.T) {
	t.Parallel()

	d := newTestDetector(t, &fakeInferencer{out: Output{Features: 3, Candidates: 0}})
	_, err := d.Detect(context.Background(), uniformImage(8, 8, white))
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
}

func TestNewDetectorValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, DefaultConfig())
	require.Error(t, err)

	inf := &fakeInferencer{}
	d, err := New(inf, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInputSize, d.Info().InputSize)
	assert.Equal(t, []string{"nailong"}, d.Info().Labels)

	require.NoError(t, d.Close())
	assert.True(t, inf.closed.Load())
}

func TestPositiveScore(t *testing.T) {
	t.Parallel()

	dets := []Detection{det("xiong", 0.99, 0, 0, 1, 1), det("nailong", 0.4, 0, 0, 1, 1), det("nailong", 0.6, 0, 0, 1, 1)}
	assert.InDelta(t, 0.6, PositiveScore(dets, "nailong"), 1e-6)
	assert.Zero(t, PositiveScore(nil, "nailong"))
}
