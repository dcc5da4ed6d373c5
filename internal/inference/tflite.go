package inference

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/nailong-guard/internal/detection"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/logger"
)

// TFLiteConfig configures the local interpreter.
type TFLiteConfig struct {
	ModelPath       string
	Threads         int  // 0 = runtime.NumCPU()
	InputSize       int  // square input side
	NormalizedBoxes bool // model emits box geometry in 0..1
}

// TFLite runs a YOLO .tflite export in-process. The interpreter is not
// reentrant, so calls are serialized.
type TFLite struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	cfg         TFLiteConfig
	nhwc        bool
	inputLen    int
	closed      bool
}

var _ detection.Inferencer = (*TFLite)(nil)

// NewTFLite loads the model and allocates tensors.
func NewTFLite(cfg TFLiteConfig) (*TFLite, error) {
	start := time.Now()

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, modelLoadError(err, cfg.ModelPath, start)
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, modelLoadError(errors.NewStd("cannot load TensorFlow Lite model"), cfg.ModelPath, start)
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, modelLoadError(errors.NewStd("cannot create interpreter"), cfg.ModelPath, start)
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, modelLoadError(errors.NewStd("tensor allocation failed"), cfg.ModelPath, start)
	}

	t := &TFLite{
		model:       model,
		options:     options,
		interpreter: interpreter,
		cfg:         cfg,
	}
	if err := t.inspectInput(); err != nil {
		t.release()
		return nil, modelLoadError(err, cfg.ModelPath, start)
	}

	// the model bytes were copied by TFLite
	runtime.GC()

	GetLogger().Info("tflite model initialized",
		logger.String("path", cfg.ModelPath),
		logger.Int("threads", threads),
		logger.Bool("nhwc", t.nhwc),
		logger.Duration("elapsed", time.Since(start)))

	return t, nil
}

// inspectInput checks the input tensor against the configured size and
// records whether it is channel-last
func (t *TFLite) inspectInput() error {
	in := t.interpreter.GetInputTensor(0)
	if in == nil {
		return errors.NewStd("cannot get input tensor")
	}
	if in.NumDims() != 4 {
		return errors.Newf("input tensor has %d dims, want 4", in.NumDims()).Build()
	}
	size := t.cfg.InputSize
	switch {
	case in.Dim(1) == 3 && in.Dim(2) == size && in.Dim(3) == size:
		t.nhwc = false
	case in.Dim(3) == 3 && in.Dim(1) == size && in.Dim(2) == size:
		t.nhwc = true
	default:
		return errors.Newf("input tensor shape (%d,%d,%d,%d) does not match input size %d",
			in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3), size).Build()
	}
	t.inputLen = 3 * size * size
	return nil
}

// Infer copies input into the interpreter, invokes it and reads output 0.
func (t *TFLite) Infer(ctx context.Context, input detection.Tensor) (detection.Output, error) {
	if err := ctx.Err(); err != nil {
		return detection.Output{}, err
	}
	if len(input.Data) != t.inputLen {
		return detection.Output{}, errors.Newf("input has %d values, want %d", len(input.Data), t.inputLen).
			Category(errors.CategoryInference).
			Build()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return detection.Output{}, errors.Newf("interpreter closed").Category(errors.CategoryInference).Build()
	}

	inputTensor := t.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return detection.Output{}, errors.Newf("cannot get input tensor").Category(errors.CategoryInference).Build()
	}
	if t.nhwc {
		nchwToNHWC(inputTensor.Float32s(), input.Data, t.cfg.InputSize)
	} else {
		copy(inputTensor.Float32s(), input.Data)
	}

	if status := t.interpreter.Invoke(); status != tflite.OK {
		return detection.Output{}, errors.Newf("tensor invoke failed: %v", status).Category(errors.CategoryInference).Build()
	}

	outputTensor := t.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return detection.Output{}, errors.Newf("cannot get output tensor").Category(errors.CategoryInference).Build()
	}
	shape := make([]int, outputTensor.NumDims())
	for i := range shape {
		shape[i] = outputTensor.Dim(i)
	}
	data := make([]float32, len(outputTensor.Float32s()))
	copy(data, outputTensor.Float32s())

	out, err := outputFromShape(shape, data)
	if err != nil {
		return detection.Output{}, errors.New(err).Category(errors.CategoryInference).Build()
	}
	if t.cfg.NormalizedBoxes {
		denormalizeBoxes(out, t.cfg.InputSize)
	}
	return out, nil
}

// Close frees the interpreter. It is safe to call more than once.
func (t *TFLite) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.release()
	return nil
}

func (t *TFLite) release() {
	t.interpreter.Delete()
	t.options.Delete()
	t.model.Delete()
}

func modelLoadError(err error, path string, start time.Time) error {
	return errors.New(err).
		Component("inference").
		Category(errors.CategoryModelLoad).
		Context("model_path", path).
		Timing("model-load", time.Since(start)).
		Build()
}
