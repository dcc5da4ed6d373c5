package dispatch

import (
	"context"
	"strings"
	"time"
)

// Sender roles reported by the chat host.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Message is an incoming chat message.
type Message struct {
	ID      int64
	GroupID int64 // 0 for private messages
	UserID  int64
	Role    string   // sender role inside the group
	Text    string   // concatenated text segments
	Images  []string // image download URLs in message order
}

// IsGroup reports whether the message was sent in a group.
func (m Message) IsGroup() bool {
	return m.GroupID != 0
}

// Segment is one part of an outgoing message: either text or a local image file.
type Segment struct {
	Text  string
	Image string // absolute path
}

// Reply is an outgoing message answering a Message.
type Reply struct {
	Segments []Segment
	Quote    bool // quote the message being answered
}

// TextReply builds a reply holding a single text segment.
func TextReply(text string) Reply {
	return Reply{Segments: []Segment{{Text: text}}}
}

// Text returns the concatenated text segments.
func (r Reply) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Images returns the image paths in order.
func (r Reply) Images() []string {
	var out []string
	for _, s := range r.Segments {
		if s.Image != "" {
			out = append(out, s.Image)
		}
	}
	return out
}

// Host is the chat platform surface the dispatcher acts through. Errors are
// logged and counted by the caller; no decision depends on them.
type Host interface {
	Reply(ctx context.Context, to Message, reply Reply) error
	DeleteMessage(ctx context.Context, messageID int64) error
	MuteUser(ctx context.Context, groupID, userID int64, d time.Duration) error
}
