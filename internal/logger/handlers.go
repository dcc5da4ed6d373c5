package logger

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// newTextHandler returns the console handler. Timestamps are dropped and the
// TRACE level gets a readable name.
func newTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, levelName(lvl))
				}
			}
			return a
		},
	})
}

// newJSONHandler returns the file handler. Timestamps are converted to tz and
// rendered as RFC3339.
func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	if tz == nil {
		tz = time.Local
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.In(tz).Format(time.RFC3339))
				}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, levelName(lvl))
				}
			}
			return a
		},
	})
}

// levelName names the custom TRACE level; slog's own names cover the rest
func levelName(lvl slog.Level) string {
	if lvl <= traceLevelValue {
		return "TRACE"
	}
	return lvl.String()
}

// NewSlogLogger creates a standalone Logger writing JSON to w. It is meant for
// tests and for components constructed before the central logger exists.
// A nil writer discards output; a nil tz means local time.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = io.Discard
	}
	if tz == nil {
		tz = time.Local
	}
	slogLevel := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newJSONHandler(w, slogLevel, tz)),
		level:    slogLevel,
		timezone: tz,
	}
}

// Module is a shorthand for Global().Module(name).
func Module(name string) Logger {
	return Global().Module(name)
}

// Nop returns a Logger that drops every record.
func Nop() Logger {
	return &moduleLogger{
		logger:   slog.New(slog.DiscardHandler),
		level:    slog.LevelError + 1,
		timezone: time.Local,
	}
}

// formatMessage applies Sprintf only when there are arguments
func formatMessage(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
