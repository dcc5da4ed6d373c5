package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tphakala/nailong-guard/internal/logger"
)

// LegacyConfigFile is the config file name used by the original bot plugin.
const LegacyConfigFile = "config.json"

// legacyConfig mirrors the plugin's config.json. Pointer fields tell which
// keys were present so that only those override the YAML settings.
type legacyConfig struct {
	Trigger           *float32 `json:"trigger"`
	StartCmd          *string  `json:"start_cmd"`
	StartMsg          *string  `json:"start_msg"`
	StopCmd           *string  `json:"stop_cmd"`
	StopMsg           *string  `json:"stop_msg"`
	ReplyOutputImgCmd *string  `json:"reply_output_img_cmd"`
	ReplyMsg          *string  `json:"reply_msg"`
	MyTimesCmd        *string  `json:"my_times_cmd"`
	IsReplyTrigger    *bool    `json:"is_reply_trigger"`
	IsDeleteMessage   *bool    `json:"is_delete_message"`
	BanCooldown       *uint64  `json:"ban_cooldown"` // seconds
	BanDuration       *uint64  `json:"ban_duration"` // seconds
	BanMsg            *string  `json:"ban_msg"`
}

// ApplyLegacyConfig overlays the plugin's config.json at path onto settings.
// A missing file is not an error; a malformed one is.
func ApplyLegacyConfig(settings *Settings, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the configured data directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading legacy config %s: %w", path, err)
	}

	var lc legacyConfig
	if err := json.Unmarshal(data, &lc); err != nil {
		return fmt.Errorf("error parsing legacy config %s: %w", path, err)
	}

	lc.apply(settings)
	GetLogger().Info("applied legacy plugin config", logger.String("path", path))
	return nil
}

func (lc *legacyConfig) apply(s *Settings) {
	setIf(&s.Detector.Trigger, lc.Trigger)
	setIf(&s.Commands.Start, lc.StartCmd)
	setIf(&s.Messages.Start, lc.StartMsg)
	setIf(&s.Commands.Stop, lc.StopCmd)
	setIf(&s.Messages.Stop, lc.StopMsg)
	setIf(&s.Commands.Check, lc.ReplyOutputImgCmd)
	setIf(&s.Messages.Reply, lc.ReplyMsg)
	setIf(&s.Commands.MyTimes, lc.MyTimesCmd)
	setIf(&s.Moderation.ReplyWithConfidence, lc.IsReplyTrigger)
	setIf(&s.Moderation.DeleteMessage, lc.IsDeleteMessage)
	setIf(&s.Messages.Ban, lc.BanMsg)
	if lc.BanCooldown != nil {
		s.Moderation.BanCooldown = time.Duration(*lc.BanCooldown) * time.Second
	}
	if lc.BanDuration != nil {
		s.Moderation.BanDuration = time.Duration(*lc.BanDuration) * time.Second
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
