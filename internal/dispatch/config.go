package dispatch

import (
	"slices"
	"time"

	"github.com/tphakala/nailong-guard/internal/conf"
)

// SimilarityFormat is appended to a reply for every qualifying image.
const SimilarityFormat = "\n相似度：%.2f"

// Config holds the dispatcher policy.
type Config struct {
	Commands conf.CommandSettings
	Messages conf.MessageSettings

	ReplyWithConfidence bool
	DeleteMessage       bool
	BanDuration         time.Duration
	DeleteDelay         time.Duration
	Admins              []int64
	TrustGroupAdmins    bool
	ShutdownTimeout     time.Duration
}

// ConfigFromSettings extracts the dispatcher policy from settings.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		Commands:            s.Commands,
		Messages:            s.Messages,
		ReplyWithConfidence: s.Moderation.ReplyWithConfidence,
		DeleteMessage:       s.Moderation.DeleteMessage,
		BanDuration:         s.Moderation.BanDuration,
		DeleteDelay:         s.Moderation.DeleteDelay,
		Admins:              slices.Clone(s.Moderation.Admins),
		TrustGroupAdmins:    s.Moderation.TrustGroupAdmins,
		ShutdownTimeout:     s.Moderation.ShutdownTimeout,
	}
}

// isAdmin reports whether the sender of msg may toggle the whitelist.
func (c *Config) isAdmin(msg Message) bool {
	if slices.Contains(c.Admins, msg.UserID) {
		return true
	}
	return c.TrustGroupAdmins && (msg.Role == RoleOwner || msg.Role == RoleAdmin)
}
