package dispatch

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/tphakala/nailong-guard/internal/imagecodec"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
)

func decodeImage(data []byte) (image.Image, string, error) {
	return imagecodec.Decode(data)
}

// loadImages downloads and decodes the images of msg. Images that fail
// either step are logged and skipped.
func (d *Dispatcher) loadImages(ctx context.Context, log logger.Logger, msg Message) []image.Image {
	results := d.deps.Images.FetchAll(ctx, msg.Images)

	images := make([]image.Image, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			// already logged by the fetcher
			continue
		}
		img, format, err := d.deps.Decode(res.Data)
		if err != nil {
			log.Warn("skipping undecodable image",
				logger.Int("index", i),
				logger.String("format", format),
				logger.Error(err))
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		log.Info("no usable images in message", logger.Int("urls", len(msg.Images)))
	}
	return images
}

// annotate replies with every qualifying image annotated with its detection
// boxes. Moderation records are never touched.
func (d *Dispatcher) annotate(ctx context.Context, log logger.Logger, runID string, msg Message) {
	images := d.loadImages(ctx, log, msg)
	if len(images) == 0 {
		return
	}

	run := d.deps.Artifacts.NewRun(runID)
	reply := Reply{Segments: []Segment{{Text: d.cfg.Messages.Reply}}, Quote: true}
	qualified := 0

	for i, img := range images {
		composite, confidence, err := d.deps.Detector.Annotate(ctx, img)
		if err != nil {
			log.Warn("skipping image after detection failure",
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		log.Info("image annotated",
			logger.Int("index", i),
			logger.Float32("confidence", confidence))
		if !d.deps.Detector.Qualifies(confidence) {
			continue
		}

		path, err := run.Write(composite)
		if err != nil {
			log.Error("failed to write annotated image",
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		if d.cfg.ReplyWithConfidence {
			reply.Segments = append(reply.Segments, Segment{Text: fmt.Sprintf(SimilarityFormat, confidence)})
		}
		reply.Segments = append(reply.Segments, Segment{Image: path})
		qualified++
	}

	if qualified == 0 {
		run.Discard()
		return
	}

	d.reply(ctx, log, msg, reply)
	d.afterReply(ctx, log, msg)
	run.Release()
}

// moderate counts a message with at least one qualifying image against its
// sender, mutes repeat offenders inside the cooldown and answers with the
// standard reply.
func (d *Dispatcher) moderate(ctx context.Context, log logger.Logger, runID string, msg Message) {
	images := d.loadImages(ctx, log, msg)
	if len(images) == 0 {
		return
	}

	var (
		text strings.Builder
		best float32
		hit  bool
	)
	text.WriteString(d.cfg.Messages.Reply)

	for i, img := range images {
		confidence, err := d.deps.Detector.Score(ctx, img)
		if err != nil {
			log.Warn("skipping image after detection failure",
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		log.Debug("image scored",
			logger.Int("index", i),
			logger.Float32("confidence", confidence))
		if !d.deps.Detector.Qualifies(confidence) {
			continue
		}
		hit = true
		best = max(best, confidence)
		if d.cfg.ReplyWithConfidence {
			fmt.Fprintf(&text, SimilarityFormat, confidence)
		}
	}

	if !hit {
		return
	}

	decision := d.deps.Ledger.Trigger(msg.UserID, msg.GroupID, d.deps.Clock())
	log.Info("qualifying image counted",
		logger.Float32("confidence", best),
		logger.Bool("escalate", decision.Escalate),
		logger.Int64("elapsed", decision.Elapsed),
		logger.Uint64("group_times", decision.GroupTimes),
		logger.Uint64("total_times", decision.TotalTimes))
	d.deps.Publisher.Publish(moderation.NewTriggerEvent(runID, msg.ID, best, decision))

	if decision.Escalate {
		d.mute(ctx, log, msg)
		d.deps.Publisher.Publish(moderation.NewMuteEvent(runID, decision, d.cfg.BanDuration))
		d.reply(ctx, log, msg, TextReply(d.cfg.Messages.Ban))
	}

	d.reply(ctx, log, msg, Reply{Segments: []Segment{{Text: text.String()}}, Quote: true})
	d.afterReply(ctx, log, msg)
}
