package camtrigger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   slog.Level
		wantOK bool
	}{
		{"DEBUG", slog.LevelDebug, true},
		{"debug", slog.LevelDebug, true},
		{"", slog.LevelInfo, true},
		{"INFO", slog.LevelInfo, true},
		{"WARNING", slog.LevelWarn, true},
		{"warn", slog.LevelWarn, true},
		{" ERROR ", slog.LevelError, true},
		{"TRACE", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "WARNING", "run-7")
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at WARNING: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "run=run-7") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "LOUD", "")
	if out := buf.String(); !strings.Contains(out, "unrecognized log level") || !strings.Contains(out, "level=LOUD") {
		t.Errorf("missing warning, got %q", out)
	}
}
