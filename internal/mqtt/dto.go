package mqtt

import (
	"strings"
	"time"

	"github.com/tphakala/nailong-guard/internal/moderation"
)

// EventDTO is the payload published for a moderation event.
//
// Field names are part of the MQTT API contract. New fields may be added,
// existing ones must keep their names.
type EventDTO struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Instance   string  `json:"instance"`
	RunID      string  `json:"runId,omitempty"`
	GroupID    int64   `json:"groupId"`
	UserID     int64   `json:"userId,omitempty"`
	MessageID  int64   `json:"messageId,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	TotalTimes uint64  `json:"totalTimes,omitempty"`
	GroupTimes uint64  `json:"groupTimes,omitempty"`
	Escalated  bool    `json:"escalated"`
	MuteFor    int64   `json:"muteSeconds,omitempty"`
	Enabled    *bool   `json:"enabled,omitempty"`
	Timestamp  string  `json:"timestamp"` // RFC 3339, UTC
	Unix       int64   `json:"unix"`
}

// NewEventDTO converts an event for publishing.
func NewEventDTO(instance string, e moderation.Event) EventDTO {
	return EventDTO{
		ID:         e.ID,
		Type:       string(e.Type),
		Instance:   instance,
		RunID:      e.RunID,
		GroupID:    e.GroupID,
		UserID:     e.UserID,
		MessageID:  e.MessageID,
		Confidence: e.Confidence,
		TotalTimes: e.TotalTimes,
		GroupTimes: e.GroupTimes,
		Escalated:  e.Escalated,
		MuteFor:    e.MuteFor,
		Enabled:    e.Enabled,
		Timestamp:  e.Time.UTC().Format(time.RFC3339),
		Unix:       e.Time.Unix(),
	}
}

// EventTopic returns the topic an event type is published on.
func EventTopic(base string, t moderation.EventType) string {
	return strings.TrimSuffix(base, "/") + "/" + string(t)
}
