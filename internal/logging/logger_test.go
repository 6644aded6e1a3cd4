package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"finisher/internal/services"
)

func TestNewJSONWritesStructuredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "info", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("job queued", String(FieldJobID, "job_20250101_120000_abcd1234"), Int("position", 2))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line); err != nil {
		t.Fatalf("decode line %q: %v", data, err)
	}
	if line["msg"] != "job queued" || line["level"] != "info" {
		t.Fatalf("unexpected base fields: %v", line)
	}
	if line[FieldJobID] != "job_20250101_120000_abcd1234" {
		t.Fatalf("missing job id: %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("expected ts key: %v", line)
	}
}

func TestConsoleFormatPrefixesComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := New(Options{Level: "info", Format: "console", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	NewComponentLogger(logger, "poller").Info("status observed", String("ownership", "idle"))
	logger.Debug("hidden")

	data, _ := os.ReadFile(path)
	text := string(data)
	if !strings.Contains(text, "INFO poller: status observed ownership=idle") {
		t.Fatalf("unexpected console line: %q", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", text)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsJobAndPass(t *testing.T) {
	hub := NewStreamHub(8)
	path := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := New(Options{Format: "json", Outputs: []string{path}, Stream: hub})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithJobID(context.Background(), "job_x")
	ctx = services.WithPass(ctx, "pass1")
	WithContext(ctx, logger).Info("submitting")

	events, _ := hub.Tail(1)
	if len(events) != 1 {
		t.Fatalf("expected one streamed event, got %d", len(events))
	}
	if events[0].JobID != "job_x" || events[0].Pass != "pass1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	hub := NewStreamHub(4)
	logger, err := New(Options{Format: "json", Outputs: []string{filepath.Join(t.TempDir(), "w.log")}, Stream: hub})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	WarnWithContext(logger, "poll failed", "poll_failed", String(FieldErrorHint, "check server"))

	events, _ := hub.Tail(1)
	if len(events) != 1 {
		t.Fatalf("expected event, got %d", len(events))
	}
	fields := events[0].Fields
	if fields[FieldEventType] != "poll_failed" {
		t.Fatalf("missing event type: %v", fields)
	}
	if fields[FieldErrorHint] != "check server" {
		t.Fatalf("explicit hint overwritten: %v", fields)
	}
	if fields[FieldImpact] == "" {
		t.Fatalf("expected default impact: %v", fields)
	}
}
