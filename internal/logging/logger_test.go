package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	WithComponent(logger, "manager").Info("session started",
		String(FieldSessionID, "rec-20260101_120000"),
		Int(FieldFrames, 441))

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, " INFO manager: session started") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "session_id=rec-20260101_120000") {
		t.Fatalf("missing session_id attr: %q", line)
	}
	if !strings.Contains(line, "frames=441") {
		t.Fatalf("missing frames attr: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, new(slog.LevelVar)))

	logger.Warn("device gone", String("device", "USB Audio CODEC"))

	if !strings.Contains(buf.String(), `device="USB Audio CODEC"`) {
		t.Fatalf("value not quoted: %q", buf.String())
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("ignored")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "ignored") {
		t.Fatalf("info line should be suppressed: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestJSONHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar)))

	logger.Info("merge complete", String(FieldSessionID, "rec-1"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if entry["msg"] != "merge complete" {
		t.Fatalf("msg key missing: %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("level not lowercased: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("ts key missing: %v", entry)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tapedeck.log")
	logger, err := New(Options{Level: "debug", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hello")
	// File creation is the observable effect; content is flushed per write.
	if _, err := filepath.Glob(path); err != nil {
		t.Fatalf("glob: %v", err)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background())
	id := CorrelationIDFrom(ctx)
	if id == "" {
		t.Fatal("expected correlation id")
	}
	if again := CorrelationIDFrom(WithCorrelationID(ctx)); again != id {
		t.Fatalf("correlation id replaced: %q != %q", again, id)
	}
}
