package onebot

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tphakala/nailong-guard/internal/dispatch"
	"github.com/tphakala/nailong-guard/internal/logger"
)

// OneBot v11 actions used by the host adapter.
const (
	actionSendGroupMsg   = "send_group_msg"
	actionSendPrivateMsg = "send_private_msg"
	actionDeleteMsg      = "delete_msg"
	actionSetGroupBan    = "set_group_ban"
)

const (
	postTypeMessage     = "message"
	messageTypeGroup    = "group"
	messageTypePrivate  = "private"
	segmentTypeText     = "text"
	segmentTypeImage    = "image"
	segmentTypeReply    = "reply"
	responseStatusOK    = "ok"
	responseStatusAsync = "async"
)

// segment is one element of a message array.
type segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s segment) str(key string) string {
	switch v := s.Data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

type sender struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// frame is anything the implementation pushes over the socket: events carry
// post_type, action responses carry echo and status.
type frame struct {
	// event fields
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	SelfID      int64           `json:"self_id"`
	MessageID   int64           `json:"message_id"`
	GroupID     int64           `json:"group_id"`
	UserID      int64           `json:"user_id"`
	Message     json.RawMessage `json:"message"`
	RawMessage  string          `json:"raw_message"`
	Sender      sender          `json:"sender"`

	// response fields
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Echo    json.RawMessage `json:"echo"`
	Wording string          `json:"wording"`
	Msg     string          `json:"msg"`
}

// isResponse reports whether the frame answers an action.
func (f *frame) isResponse() bool {
	return len(f.Echo) > 0 && f.Status != ""
}

// echoKey normalizes the echo field, which implementations may return as a
// string or a number.
func (f *frame) echoKey() string {
	var s string
	if err := json.Unmarshal(f.Echo, &s); err == nil {
		return s
	}
	return string(f.Echo)
}

// request is an action call.
type request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type sendMsgParams struct {
	GroupID int64     `json:"group_id,omitempty"`
	UserID  int64     `json:"user_id,omitempty"`
	Message []segment `json:"message"`
}

type deleteMsgParams struct {
	MessageID int64 `json:"message_id"`
}

type groupBanParams struct {
	GroupID  int64 `json:"group_id"`
	UserID   int64 `json:"user_id"`
	Duration int64 `json:"duration"` // seconds, 0 lifts the mute
}

// toMessage converts a message event. It returns false for anything the
// dispatcher does not handle, including the bot's own messages.
func toMessage(f *frame) (dispatch.Message, bool) {
	if f.PostType != postTypeMessage {
		return dispatch.Message{}, false
	}
	if f.SelfID != 0 && f.UserID == f.SelfID {
		return dispatch.Message{}, false
	}

	msg := dispatch.Message{
		ID:     f.MessageID,
		UserID: f.UserID,
		Role:   f.Sender.Role,
	}
	switch f.MessageType {
	case messageTypeGroup:
		msg.GroupID = f.GroupID
	case messageTypePrivate:
	default:
		return dispatch.Message{}, false
	}

	segs, err := parseSegments(f.Message, f.RawMessage)
	if err != nil {
		GetLogger().Debug("unparseable message body",
			logger.Int64("message_id", f.MessageID),
			logger.Error(err))
		return dispatch.Message{}, false
	}

	var text strings.Builder
	for _, s := range segs {
		switch s.Type {
		case segmentTypeText:
			text.WriteString(s.str("text"))
		case segmentTypeImage:
			if u := imageURL(s); u != "" {
				msg.Images = append(msg.Images, u)
			}
		}
	}
	msg.Text = text.String()
	return msg, true
}

// parseSegments accepts both message array and CQ code string formats.
func parseSegments(raw json.RawMessage, fallback string) ([]segment, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return parseCQ(fallback), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return parseCQ(s), nil
	}
	var segs []segment
	if err := json.Unmarshal(raw, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// imageURL returns the download URL of an image segment.
func imageURL(s segment) string {
	if u := s.str("url"); u != "" {
		return u
	}
	if f := s.str("file"); strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
		return f
	}
	return ""
}

var cqPattern = regexp.MustCompile(`\[CQ:([a-zA-Z_]+)((?:,[^,\]]*)*)\]`)

var cqUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")

// parseCQ splits a CQ code string into segments.
func parseCQ(s string) []segment {
	var segs []segment
	addText := func(t string) {
		if t != "" {
			segs = append(segs, segment{Type: segmentTypeText, Data: map[string]any{"text": cqUnescaper.Replace(t)}})
		}
	}

	last := 0
	for _, m := range cqPattern.FindAllStringSubmatchIndex(s, -1) {
		addText(s[last:m[0]])
		last = m[1]

		seg := segment{Type: s[m[2]:m[3]], Data: map[string]any{}}
		for kv := range strings.SplitSeq(strings.TrimPrefix(s[m[4]:m[5]], ","), ",") {
			k, v, ok := strings.Cut(kv, "=")
			if ok {
				seg.Data[k] = cqUnescaper.Replace(v)
			}
		}
		segs = append(segs, seg)
	}
	addText(s[last:])
	return segs
}

// toSegments converts an outgoing reply.
func toSegments(to dispatch.Message, r dispatch.Reply) []segment {
	segs := make([]segment, 0, len(r.Segments)+1)
	if r.Quote && to.ID != 0 {
		segs = append(segs, segment{Type: segmentTypeReply, Data: map[string]any{"id": strconv.FormatInt(to.ID, 10)}})
	}
	for _, s := range r.Segments {
		switch {
		case s.Image != "":
			segs = append(segs, segment{Type: segmentTypeImage, Data: map[string]any{"file": fileURI(s.Image)}})
		case s.Text != "":
			segs = append(segs, segment{Type: segmentTypeText, Data: map[string]any{"text": s.Text}})
		}
	}
	return segs
}

// fileURI turns a local path into the file URI OneBot implementations accept.
func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}
