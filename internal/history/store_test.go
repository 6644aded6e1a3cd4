package history_test

import (
	"context"
	"testing"
	"time"

	"finisher/internal/history"
	"finisher/internal/pipeline"
	"finisher/internal/queue"
	"finisher/internal/testsupport"
)

func terminalJob(t *testing.T, status queue.Status, completed time.Time) queue.Job {
	t.Helper()
	job := queue.NewJob(completed.Add(-time.Minute), "aW1n", pipeline.ProcessingConfig{Upscaler: "Lanczos", ScaleFactor: 2.5, FinalScale: 1.5}, "cat.png")
	switch status {
	case queue.StatusCancelled:
		if err := job.Transition(queue.StatusCancelled, completed); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	default:
		if err := job.Transition(queue.StatusRunningPass1, completed.Add(-30*time.Second)); err != nil {
			t.Fatalf("start: %v", err)
		}
		if status == queue.StatusFailed {
			if err := job.Fail("server", "http 500", completed); err != nil {
				t.Fatalf("fail: %v", err)
			}
			break
		}
		_ = job.Transition(queue.StatusRunningPass2, completed.Add(-5*time.Second))
		if err := job.Transition(queue.StatusCompleted, completed); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	return job.Clone()
}

func TestRecordAndList(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	done := terminalJob(t, queue.StatusCompleted, base)
	done.Substitutions = []pipeline.Substitution{{Field: "upscaler", Requested: "Ghost", Used: "Lanczos"}}
	failed := terminalJob(t, queue.StatusFailed, base.Add(time.Minute))
	cancelled := terminalJob(t, queue.StatusCancelled, base.Add(2*time.Minute))

	for _, job := range []queue.Job{done, failed, cancelled} {
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("Record %s: %v", job.ID, err)
		}
	}

	entries, err := store.List(ctx, 0, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != cancelled.ID || entries[2].ID != done.ID {
		t.Fatalf("expected newest first, got %s .. %s", entries[0].ID, entries[2].ID)
	}

	failedOnly, err := store.List(ctx, 10, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failedOnly) != 1 || failedOnly[0].ErrorKind != "server" || failedOnly[0].ErrorMessage != "http 500" {
		t.Fatalf("unexpected failed entries: %+v", failedOnly)
	}

	got, err := store.Get(ctx, done.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Upscaler != "Lanczos" || got.Duration != 30*time.Second {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if len(got.Substitutions) != 1 || got.Substitutions[0].Requested != "Ghost" {
		t.Fatalf("unexpected substitutions: %+v", got.Substitutions)
	}

	missing, err := store.Get(ctx, "job_missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing entry, got %+v %v", missing, err)
	}
}

func TestRecordRejectsLiveJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	job := queue.NewJob(time.Now(), "aW1n", pipeline.ProcessingConfig{}, "")
	if err := store.Record(context.Background(), job.Clone()); err == nil {
		t.Fatal("expected error archiving a queued job")
	}
}

func TestStatsAndPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, job := range []queue.Job{
		terminalJob(t, queue.StatusCompleted, old),
		terminalJob(t, queue.StatusCompleted, recent),
		terminalJob(t, queue.StatusFailed, recent),
	} {
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusCompleted] != 2 || stats[queue.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	removed, err := store.Prune(ctx, recent.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}
	entries, _ := store.List(ctx, 0, "")
	if len(entries) != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", len(entries))
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	job := terminalJob(t, queue.StatusCompleted, time.Now())
	if err := first.Record(context.Background(), job); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = first.Close()

	second := testsupport.MustOpenHistory(t, cfg)
	got, err := second.Get(context.Background(), job.ID)
	if err != nil || got == nil {
		t.Fatalf("expected entry after reopen, got %+v %v", got, err)
	}
}
