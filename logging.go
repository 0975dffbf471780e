package camtrigger

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps DEBUG, INFO, WARNING (or WARN) and ERROR to slog levels.
// The second result is false for anything else, which maps to INFO.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARNING", "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// NewLogger returns a text logger writing to w at the named level. Every
// record carries the run ID when one is given.
func NewLogger(w io.Writer, level, runID string) *slog.Logger {
	lvl, ok := ParseLevel(level)
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	if runID != "" {
		l = l.With("run", runID)
	}
	if !ok {
		l.Warn("unrecognized log level, keeping INFO", "level", level)
	}
	return l
}
