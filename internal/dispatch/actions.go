package dispatch

import (
	"context"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// Command names used as metric statuses.
const (
	commandStart   = "start"
	commandStop    = "stop"
	commandMyTimes = "my_times"
)

func (d *Dispatcher) reply(ctx context.Context, log logger.Logger, msg Message, r Reply) {
	err := d.deps.Host.Reply(ctx, msg, r)
	d.hostResult(log, metrics.OpReply, "reply failed", err)
}

func (d *Dispatcher) mute(ctx context.Context, log logger.Logger, msg Message) {
	err := d.deps.Host.MuteUser(ctx, msg.GroupID, msg.UserID, d.cfg.BanDuration)
	d.hostResult(log, metrics.OpMute, "mute failed", err)
	if err == nil {
		log.Info("user muted", logger.Duration("duration", d.cfg.BanDuration))
	}
}

// afterReply waits the delete delay so the reply lands first, then deletes
// the answered message when configured.
func (d *Dispatcher) afterReply(ctx context.Context, log logger.Logger, msg Message) {
	d.pause(d.cfg.DeleteDelay)
	if !d.cfg.DeleteMessage {
		return
	}
	err := d.deps.Host.DeleteMessage(ctx, msg.ID)
	d.hostResult(log, metrics.OpDelete, "message delete failed", err)
}

// hostResult logs and counts the outcome of a host action.
func (d *Dispatcher) hostResult(log logger.Logger, op, failMsg string, err error) {
	if err == nil {
		d.recorder.RecordOperation(op, metrics.StatusSuccess)
		return
	}
	d.recorder.RecordOperation(op, metrics.StatusError)
	d.recorder.RecordError(op, string(errors.CategoryOf(err)))
	log.Warn(failMsg, logger.String("action", op), logger.Error(err))
}

// toggle switches auto-moderation for the message's group.
func (d *Dispatcher) toggle(ctx context.Context, log logger.Logger, msg Message, enabled bool) {
	changed := d.deps.Whitelist.Set(msg.GroupID, enabled)

	name, text := commandStop, d.cfg.Messages.Stop
	if enabled {
		name, text = commandStart, d.cfg.Messages.Start
	}
	d.recorder.RecordOperation(metrics.OpCommand, name)
	log.Info("whitelist updated",
		logger.Bool("enabled", enabled),
		logger.Bool("changed", changed))

	d.deps.Publisher.Publish(moderation.NewWhitelistEvent(msg.GroupID, msg.UserID, enabled, d.deps.Clock()))
	d.reply(ctx, log, msg, TextReply(text))
}

// report answers with the sender's offense counters.
func (d *Dispatcher) report(ctx context.Context, log logger.Logger, msg Message) {
	d.recorder.RecordOperation(metrics.OpCommand, commandMyTimes)
	d.reply(ctx, log, msg, TextReply(d.deps.Ledger.Report(msg.UserID, msg.GroupID)))
}
