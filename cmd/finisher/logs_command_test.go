package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finisher/internal/logging"
)

func TestLogsReadsDaemonRecords(t *testing.T) {
	env := setupCLITestEnv(t)
	env.hub.Publish(logging.LogEvent{Timestamp: time.Now(), Level: "info", Message: "job started", Component: "workflow", JobID: "job_7"})
	env.hub.Publish(logging.LogEvent{Timestamp: time.Now(), Level: "warn", Message: "server slow", Component: "poller"})

	out, _, err := runCLI(t, []string{"logs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "INFO workflow: job started job=job_7")
	requireContains(t, out, "WARN poller: server slow")

	out, _, err = runCLI(t, []string{"logs", "--job", "job_7"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs --job: %v", err)
	}
	if strings.Contains(out, "server slow") {
		t.Fatalf("job filter leaked other records: %q", out)
	}
}

func TestLogsComponentFilterNeedsAPI(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"logs", "--component", "poller"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "HTTP API") {
		t.Fatalf("expected component filter error, got %v", err)
	}
}

func TestLogsFallsBackToLogFile(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.cfg.Paths.LogDir, "finisher.log")
	if err := os.WriteFile(path, []byte("first line\nsecond line\nthird line\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	missing := filepath.Join(env.baseDir, "absent.sock")

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "first line") {
		t.Fatalf("expected only the last two lines, got %q", out)
	}
	requireContains(t, out, "second line")
	requireContains(t, out, "third line")
}
