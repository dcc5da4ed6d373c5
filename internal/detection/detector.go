package detection

import (
	"context"
	"image"
	"time"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// Config holds the tunables of the detection pipeline.
type Config struct {
	Model           ModelInfo
	ConfidenceFloor float32 // decode drops candidates below this
	IoUThreshold    float32 // suppression threshold
	Trigger         float32 // confidence a detection needs to qualify
	Style           Style
}

// DefaultConfig returns the settings the single-class model was tuned for.
func DefaultConfig() Config {
	return Config{
		Model:           DefaultModelInfo(),
		ConfidenceFloor: 0.3,
		IoUThreshold:    0.7,
		Trigger:         0.78,
		Style:           DefaultStyle(),
	}
}

// Detector runs the full pipeline around an Inferencer. It holds no mutable
// state of its own and is safe for concurrent use when the Inferencer is.
type Detector struct {
	inf      Inferencer
	cfg      Config
	recorder metrics.Recorder
}

// Option configures a Detector.
type Option func(*Detector)

// WithRecorder reports inference timings, errors and detections to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Detector) {
		d.recorder = r
	}
}

// New creates a Detector.
func New(inf Inferencer, cfg Config, opts ...Option) (*Detector, error) {
	if inf == nil {
		return nil, errors.Newf("inferencer is nil").
			Component("detection").
			Category(errors.CategoryModelLoad).
			Build()
	}
	if cfg.Model.InputSize <= 0 {
		cfg.Model.InputSize = DefaultInputSize
	}
	if len(cfg.Model.Labels) == 0 {
		cfg.Model.Labels = DefaultModelInfo().Labels
	}
	d := &Detector{inf: inf, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Info returns the model description.
func (d *Detector) Info() ModelInfo {
	return d.cfg.Model
}

// Trigger returns the qualifying confidence.
func (d *Detector) Trigger() float32 {
	return d.cfg.Trigger
}

// Qualifies reports whether confidence reaches the trigger threshold.
func (d *Detector) Qualifies(confidence float32) bool {
	return confidence >= d.cfg.Trigger
}

// Detect encodes img, runs inference and returns the suppressed detections
// in descending confidence order.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	input, err := Encode(img, d.cfg.Model.InputSize)
	if err != nil {
		d.recordError(metrics.OpEncode, err)
		return nil, err
	}

	start := time.Now()
	out, err := d.inf.Infer(ctx, input)
	elapsed := time.Since(start)
	if err != nil {
		err = wrapInference(err, d.cfg.Model.Backend)
		d.recordError(metrics.OpInference, err)
		return nil, err
	}
	if d.recorder != nil {
		d.recorder.RecordOperation(metrics.OpInference, metrics.StatusSuccess)
		d.recorder.RecordDuration(metrics.OpInference, elapsed.Seconds())
	}

	b := img.Bounds()
	candidates, err := Decode(out, b.Dx(), b.Dy(), DecodeOptions{
		InputSize:       d.cfg.Model.InputSize,
		Labels:          d.cfg.Model.Labels,
		ConfidenceFloor: d.cfg.ConfidenceFloor,
	})
	if err != nil {
		d.recordError(metrics.OpDecode, err)
		return nil, err
	}

	dets := Suppress(candidates, d.cfg.IoUThreshold)

	if d.recorder != nil {
		for _, det := range dets {
			d.recorder.RecordOperation(metrics.OpDetection, det.Label)
		}
	}
	GetLogger().Debug("detection finished",
		logger.Int("candidates", len(candidates)),
		logger.Int("kept", len(dets)),
		logger.Duration("inference", elapsed))

	return dets, nil
}

// Score returns the highest confidence among detections of the positive label,
// 0 when there are none.
func (d *Detector) Score(ctx context.Context, img image.Image) (float32, error) {
	dets, err := d.Detect(ctx, img)
	if err != nil {
		return 0, err
	}
	return PositiveScore(dets, d.cfg.Style.PositiveLabel), nil
}

// Annotate runs detection and draws the result onto a copy of img. The
// returned confidence is the highest among the drawn boxes.
func (d *Detector) Annotate(ctx context.Context, img image.Image) (*image.RGBA, float32, error) {
	dets, err := d.Detect(ctx, img)
	if err != nil {
		return nil, 0, err
	}
	composite, maxConf := Composite(img, dets, d.cfg.Style)
	return composite, maxConf, nil
}

// Close releases the Inferencer.
func (d *Detector) Close() error {
	return d.inf.Close()
}

// PositiveScore returns the highest confidence among dets labeled label.
func PositiveScore(dets []Detection, label string) float32 {
	var best float32
	for _, det := range dets {
		if det.Label == label && det.Confidence > best {
			best = det.Confidence
		}
	}
	return best
}

func (d *Detector) recordError(op string, err error) {
	if d.recorder == nil {
		return
	}
	d.recorder.RecordOperation(op, metrics.StatusError)
	d.recorder.RecordError(op, string(errors.CategoryOf(err)))
}
