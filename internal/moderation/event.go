package moderation

import (
	"time"

	"github.com/google/uuid"
)

// EventType names what happened in a moderation event.
type EventType string

// Event types.
const (
	EventTrigger   EventType = "trigger"   // qualifying image counted against a user
	EventMute      EventType = "mute"      // user muted for repeat offense
	EventWhitelist EventType = "whitelist" // group switched on or off
)

// Event is the record of a moderation action published to subscribers such
// as MQTT. Field names are part of the published payload.
type Event struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId,omitempty"`
	Type       EventType `json:"type"`
	GroupID    int64     `json:"groupId"`
	UserID     int64     `json:"userId,omitempty"`
	MessageID  int64     `json:"messageId,omitempty"`
	Confidence float32   `json:"confidence,omitempty"`
	TotalTimes uint64    `json:"totalTimes,omitempty"`
	GroupTimes uint64    `json:"groupTimes,omitempty"`
	Escalated  bool      `json:"escalated,omitempty"`
	MuteFor    int64     `json:"muteSeconds,omitempty"`
	Enabled    *bool     `json:"enabled,omitempty"`
	Time       time.Time `json:"time"`
}

// NewTriggerEvent describes a counted offense.
func NewTriggerEvent(runID string, messageID int64, confidence float32, d Decision) Event {
	return Event{
		ID:         uuid.NewString(),
		RunID:      runID,
		Type:       EventTrigger,
		GroupID:    d.GroupID,
		UserID:     d.UserID,
		MessageID:  messageID,
		Confidence: confidence,
		TotalTimes: d.TotalTimes,
		GroupTimes: d.GroupTimes,
		Escalated:  d.Escalate,
		Time:       time.Unix(d.Timestamp, 0),
	}
}

// NewMuteEvent describes a mute issued for an escalated decision.
func NewMuteEvent(runID string, d Decision, muteFor time.Duration) Event {
	return Event{
		ID:         uuid.NewString(),
		RunID:      runID,
		Type:       EventMute,
		GroupID:    d.GroupID,
		UserID:     d.UserID,
		TotalTimes: d.TotalTimes,
		GroupTimes: d.GroupTimes,
		Escalated:  true,
		MuteFor:    int64(muteFor / time.Second),
		Time:       time.Unix(d.Timestamp, 0),
	}
}

// NewWhitelistEvent describes an admin toggling a group.
func NewWhitelistEvent(group, admin int64, enabled bool, now time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    EventWhitelist,
		GroupID: group,
		UserID:  admin,
		Enabled: &enabled,
		Time:    now,
	}
}

// Publisher receives moderation events. Implementations must not block the
// caller for long.
type Publisher interface {
	Publish(Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}
