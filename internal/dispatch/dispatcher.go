// Package dispatch routes incoming chat messages to the on-demand annotate
// mode, the automatic moderation mode and the text commands, and performs the
// resulting host actions.
package dispatch

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/nailong-guard/internal/artifact"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/fetch"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// DefaultShutdownTimeout bounds Shutdown when no timeout is configured.
const DefaultShutdownTimeout = 15 * time.Second

// Detector scores and annotates decoded images.
type Detector interface {
	// Score returns the highest confidence of the positive label.
	Score(ctx context.Context, img image.Image) (float32, error)
	// Annotate draws the detections onto a copy of img and returns the
	// highest confidence among the drawn boxes.
	Annotate(ctx context.Context, img image.Image) (*image.RGBA, float32, error)
	// Qualifies reports whether a confidence reaches the trigger threshold.
	Qualifies(confidence float32) bool
}

// ImageSource downloads the images of a message.
type ImageSource interface {
	FetchAll(ctx context.Context, urls []string) []fetch.Result
}

// handlerGauge is implemented by recorders that track in-flight handlers.
type handlerGauge interface {
	HandlerStarted()
	HandlerFinished()
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Host      Host
	Detector  Detector
	Images    ImageSource
	Ledger    *moderation.Ledger
	Whitelist *moderation.Whitelist
	Artifacts *artifact.Manager

	// Optional collaborators.
	Publisher moderation.Publisher
	Recorder  metrics.Recorder
	Clock     func() time.Time                          // defaults to time.Now
	Decode    func([]byte) (image.Image, string, error) // defaults to imagecodec.Decode
}

// Dispatcher handles every incoming message on its own goroutine.
type Dispatcher struct {
	cfg  Config
	deps Deps

	recorder metrics.Recorder
	gauge    handlerGauge

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Host, Detector, Images, Ledger, Whitelist and
// Artifacts are required.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Host == nil:
		return nil, configError("host is required")
	case deps.Detector == nil:
		return nil, configError("detector is required")
	case deps.Images == nil:
		return nil, configError("image source is required")
	case deps.Ledger == nil || deps.Whitelist == nil:
		return nil, configError("ledger and whitelist are required")
	case deps.Artifacts == nil:
		return nil, configError("artifact manager is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = moderation.NopPublisher{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewNoOpRecorder()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Decode == nil {
		deps.Decode = decodeImage
	}

	d := &Dispatcher{
		cfg:      cfg,
		deps:     deps,
		recorder: deps.Recorder,
		quit:     make(chan struct{}),
	}
	if g, ok := deps.Recorder.(handlerGauge); ok {
		d.gauge = g
	}
	d.running = true
	return d, nil
}

// Handle plans msg and runs the plan on a new goroutine. The goroutine is
// detached from ctx cancellation but keeps its values; a handler always runs
// to completion. Messages arriving after Shutdown are dropped.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) {
	plan := Route(&d.cfg, msg, d.deps.Whitelist.Enabled)
	if plan.Empty() {
		return
	}
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		GetLogger().Warn("dispatcher stopped, dropping message",
			logger.Int64("message_id", msg.ID))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	runID := uuid.NewString()
	runCtx := logger.WithTraceID(context.WithoutCancel(ctx), runID)

	if d.gauge != nil {
		d.gauge.HandlerStarted()
	}
	go func() {
		defer d.wg.Done()
		if d.gauge != nil {
			defer d.gauge.HandlerFinished()
		}
		defer func() {
			if r := recover(); r != nil {
				GetLogger().WithContext(runCtx).Error("handler panicked",
					logger.Int64("message_id", msg.ID),
					logger.Any("panic", r))
				d.recorder.RecordError(metrics.OpRun, "panic")
			}
		}()
		d.run(runCtx, runID, msg, plan)
	}()
}

// run executes plan for msg.
func (d *Dispatcher) run(ctx context.Context, runID string, msg Message, plan Plan) {
	log := GetLogger().WithContext(ctx).With(
		logger.Int64("group_id", msg.GroupID),
		logger.Int64("user_id", msg.UserID),
		logger.Int64("message_id", msg.ID))

	switch plan.Toggle {
	case ToggleStart:
		d.toggle(ctx, log, msg, true)
	case ToggleStop:
		d.toggle(ctx, log, msg, false)
	}
	if plan.Report {
		d.report(ctx, log, msg)
	}
	if plan.Mode == ModeNone {
		return
	}

	start := time.Now()
	switch plan.Mode {
	case ModeAnnotate:
		d.annotate(ctx, log, runID, msg)
	case ModeModerate:
		d.moderate(ctx, log, runID, msg)
	}
	d.recorder.RecordOperation(metrics.OpRun, plan.Mode.String())
	d.recorder.RecordDuration(metrics.OpRun, time.Since(start).Seconds())
}

// Shutdown stops accepting messages, cuts pending delays short and waits up
// to timeout for running handlers. A zero timeout uses the configured one.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if timeout <= 0 {
		timeout = d.cfg.ShutdownTimeout
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	GetLogger().Info("shutting down dispatcher", logger.Duration("timeout", timeout))
	close(d.quit)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		GetLogger().Info("dispatcher shutdown complete")
		return nil
	case <-time.After(timeout):
		GetLogger().Warn("dispatcher shutdown timeout exceeded")
		return fmt.Errorf("dispatcher shutdown timeout exceeded after %s", timeout)
	}
}

// pause waits for dur or until shutdown begins.
func (d *Dispatcher) pause(dur time.Duration) {
	if dur <= 0 {
		return
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.quit:
	}
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component("dispatch").
		Category(errors.CategoryConfiguration).
		Build()
}
