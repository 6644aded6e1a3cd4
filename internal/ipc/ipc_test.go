package ipc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"finisher/internal/daemonrun"
	"finisher/internal/ipc"
	"finisher/internal/logging"
	"finisher/internal/services"
	"finisher/internal/testsupport"
)

func startServer(t *testing.T) (*ipc.Server, *ipc.Client) {
	t.Helper()
	fake := testsupport.NewFakeServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL), testsupport.WithoutAPI(), testsupport.WithoutHistory())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	rt, err := daemonrun.Assemble(cfg, logging.NewNop(), logging.NewStreamHub(16))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	t.Cleanup(func() { _ = rt.Daemon.Close() })

	// Unix socket paths are length limited, so keep this one short.
	dir, err := os.MkdirTemp("", "fin")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")

	srv, err := ipc.NewServer(context.Background(), socket, rt.Daemon, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestEnqueueAndInspectJobs(t *testing.T) {
	_, client := startServer(t)

	first, err := client.Enqueue(ipc.EnqueueRequest{Image: "aW1n", Description: "one.png"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := client.Enqueue(ipc.EnqueueRequest{Image: "aW1n", Description: "two.png"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("unexpected positions: %d %d", first.Position, second.Position)
	}

	job, err := client.Job(second.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Job.Description != "two.png" || job.Job.Status != "queued" {
		t.Fatalf("unexpected job: %+v", job.Job)
	}

	list, err := client.Jobs([]string{"queued"})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(list.Jobs) != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", len(list.Jobs))
	}
	if _, err := client.Jobs([]string{"bogus"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	cancelled, err := client.Cancel(first.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Job.Status != "cancelled" {
		t.Fatalf("unexpected cancel result: %+v", cancelled.Job)
	}

	cleared, err := client.ClearFinished()
	if err != nil {
		t.Fatalf("ClearFinished: %v", err)
	}
	if cleared.Removed != 1 {
		t.Fatalf("expected one cleared job, got %d", cleared.Removed)
	}
}

func TestEnqueueBatch(t *testing.T) {
	_, client := startServer(t)
	resp, err := client.EnqueueBatch([]ipc.EnqueueRequest{{Image: "YQ=="}, {Image: "Yg=="}})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if resp.BatchID == "" || len(resp.IDs) != 2 {
		t.Fatalf("unexpected batch response: %+v", resp)
	}
	job, err := client.Job(resp.IDs[1])
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Job.BatchID != resp.BatchID {
		t.Fatalf("expected batch id %q, got %q", resp.BatchID, job.Job.BatchID)
	}
}

func TestRemoteErrorsKeepTheirKind(t *testing.T) {
	_, client := startServer(t)

	_, err := client.Cancel("job_missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.Enqueue(ipc.EnqueueRequest{Image: " "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := client.History(ipc.HistoryRequest{Limit: 5}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error with history disabled, got %v", err)
	}
}

func TestStatusPauseAndEvents(t *testing.T) {
	_, client := startServer(t)

	toggled, err := client.Pause()
	if err != nil || !toggled.Changed {
		t.Fatalf("Pause: %+v %v", toggled, err)
	}
	if _, err := client.Enqueue(ipc.EnqueueRequest{Image: "aW1n"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Workflow.Queue.Paused || len(status.Workflow.Queue.Pending) != 1 {
		t.Fatalf("unexpected queue state: %+v", status.Workflow.Queue)
	}

	events, err := client.Events(ipc.EventsRequest{})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events.Events) == 0 {
		t.Fatal("expected events")
	}
	follow, err := client.Events(ipc.EventsRequest{Since: events.Next, Follow: true, WaitMillis: 50})
	if err != nil {
		t.Fatalf("follow Events: %v", err)
	}
	if len(follow.Events) != 0 || follow.Next != events.Next {
		t.Fatalf("expected empty follow page at cursor %d, got %+v", events.Next, follow)
	}

	toggled, err = client.Resume()
	if err != nil || !toggled.Changed {
		t.Fatalf("Resume: %+v %v", toggled, err)
	}
}

func TestStopSignalsServer(t *testing.T) {
	srv, client := startServer(t)
	resp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !resp.Stopped {
		t.Fatal("expected stopped response")
	}
	select {
	case <-srv.StopRequested():
	case <-time.After(time.Second):
		t.Fatal("stop request was not signalled")
	}
}
