package dispatch

import "strings"

// Mode selects how the images of a message are handled.
type Mode int

const (
	// ModeNone leaves the images alone.
	ModeNone Mode = iota
	// ModeAnnotate draws the detections and replies with the annotated
	// images. It never touches moderation records.
	ModeAnnotate
	// ModeModerate scores the images and counts qualifying ones against the
	// sender, muting repeat offenders.
	ModeModerate
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case ModeAnnotate:
		return "annotate"
	case ModeModerate:
		return "moderate"
	default:
		return "none"
	}
}

// Toggle is an admin whitelist command.
type Toggle int

const (
	ToggleNone Toggle = iota
	ToggleStart
	ToggleStop
)

// Plan lists what a message asks for. The parts are independent; a message
// can carry a command and images at the same time.
type Plan struct {
	Toggle Toggle
	Report bool
	Mode   Mode
}

// Empty reports whether the plan does nothing.
func (p Plan) Empty() bool {
	return p.Toggle == ToggleNone && !p.Report && p.Mode == ModeNone
}

// Route decides what to do with msg. Only group messages are handled.
// Whitelist commands must match exactly and come from an admin; the other
// commands are matched after trimming surrounding space. The on-demand check
// command always selects ModeAnnotate, whatever the whitelist says, and is
// never moderated.
func Route(cfg *Config, msg Message, whitelisted func(group int64) bool) Plan {
	var p Plan
	if !msg.IsGroup() {
		return p
	}

	if msg.Text != "" && cfg.isAdmin(msg) {
		switch msg.Text {
		case cfg.Commands.Start:
			p.Toggle = ToggleStart
		case cfg.Commands.Stop:
			p.Toggle = ToggleStop
		}
	}

	text := strings.TrimSpace(msg.Text)
	if text != "" && text == cfg.Commands.MyTimes {
		p.Report = true
	}

	if len(msg.Images) == 0 {
		return p
	}
	switch {
	case text != "" && text == cfg.Commands.Check:
		p.Mode = ModeAnnotate
	case whitelisted(msg.GroupID):
		p.Mode = ModeModerate
	}
	return p
}
