package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	logger = NewComponentLogger(logger, "pool")
	logger.Info("frame ready", String(FieldFrameID, "abc"), Int("attempts", 2))

	line := buf.String()
	if !strings.Contains(line, "INFO pool: frame ready") {
		t.Fatalf("unexpected log line: %q", line)
	}
	if !strings.Contains(line, "frame_id=abc") {
		t.Fatalf("missing frame_id attr: %q", line)
	}
	if !strings.Contains(line, "attempts=2") {
		t.Fatalf("missing attempts attr: %q", line)
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	logger.Warn("emitted")
	if !strings.Contains(buf.String(), "WARN emitted") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing happens")
}
