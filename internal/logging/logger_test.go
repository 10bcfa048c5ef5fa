package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestLoggerWritesComponentAndKeys(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "debug", false)
	defer Configure(os.Stderr, "info", true)

	logger := NewLogger("Pipeline").With("job", "abc")
	logger.Debug("frame skipped", "frame", 12, "stage", "Translating")

	out := buf.String()
	for _, want := range []string{"frame skipped", "component=Pipeline", "job=abc", "frame=12", "stage=Translating"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "warn", false)
	defer Configure(os.Stderr, "info", true)

	logger := NewLogger("Test")
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info record should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn record missing")
	}
}

func TestParseLevel(t *testing.T) {
	testCases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range testCases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
