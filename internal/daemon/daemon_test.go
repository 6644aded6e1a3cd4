package daemon_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"finisher/internal/config"
	"finisher/internal/daemonrun"
	"finisher/internal/logging"
	"finisher/internal/queue"
	"finisher/internal/testsupport"
	"finisher/internal/workflow"
)

func assemble(t *testing.T, cfg *config.Config) *daemonrun.Runtime {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	rt, err := daemonrun.Assemble(cfg, logging.NewNop(), logging.NewStreamHub(32))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	t.Cleanup(func() { _ = rt.Daemon.Close() })
	return rt
}

func TestDaemonStartStop(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL))
	d := assemble(t, cfg).Daemon

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path: %q", status.LockFilePath)
	}
	if status.HistoryPath != cfg.History.Path {
		t.Fatalf("unexpected history path: %q", status.HistoryPath)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected stopped status")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
}

func TestSecondDaemonCannotTakeLock(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL), testsupport.WithoutAPI(), testsupport.WithoutHistory())
	first := assemble(t, cfg).Daemon
	second := assemble(t, cfg).Daemon

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestDaemonCompletesJobAndArchivesIt(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL), testsupport.WithoutAPI())
	rt := assemble(t, cfg)
	d := rt.Daemon

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := d.Enqueue(ctx, workflow.Request{Image: "aW1hZ2U=", Description: "landscape.png"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _, err := d.Job(id)
		if err != nil {
			t.Fatalf("Job: %v", err)
		}
		if job.Status == queue.StatusCompleted {
			break
		}
		if job.Status.IsTerminal() {
			t.Fatalf("job ended as %s: %s", job.Status, job.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for completion; last status %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	counts := fake.Counts()
	if counts.Img2Img != 1 || counts.Extra != 1 {
		t.Fatalf("unexpected server calls: %+v", counts)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		entries, err := d.History(ctx, 10, "")
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].ID != id || entries[0].Status != queue.StatusCompleted {
				t.Fatalf("unexpected history entry: %+v", entries[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected archived job, got %d entries", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}

	events, _, err := d.Events(ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var kinds []string
	for _, evt := range events {
		kinds = append(kinds, string(evt.Kind))
	}
	joined := strings.Join(kinds, ",")
	for _, want := range []workflow.EventKind{workflow.EventJobAdded, workflow.EventJobStarted, workflow.EventJobCompleted} {
		if !strings.Contains(joined, string(want)) {
			t.Fatalf("expected %s in event stream %q", want, joined)
		}
	}
}

func TestHistoryUnavailableWhenDisabled(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL), testsupport.WithoutHistory())
	d := assemble(t, cfg).Daemon
	if _, err := d.History(context.Background(), 5, ""); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}
