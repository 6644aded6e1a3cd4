package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"finisher/internal/queue"
	"finisher/internal/services"
	"finisher/internal/services/a1111"
	"finisher/internal/testsupport"
	"finisher/internal/workflow"
)

type countingTrigger struct {
	calls chan struct{}
}

func (c *countingTrigger) Trigger() {
	select {
	case c.calls <- struct{}{}:
	default:
	}
}

func TestCancelDuringPassOne(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	trigger := &countingTrigger{calls: make(chan struct{}, 8)}
	mgr, _ := newManager(t, gw, workflow.WithPollTrigger(trigger))
	startManager(t, mgr)

	id, _ := mgr.Enqueue(context.Background(), request("cancel-me"))
	waitStarted(t, gw)

	if err := mgr.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if counts := gw.Counts(); counts.interrupt != 1 {
		t.Fatalf("expected one interrupt, got %+v", counts)
	}
	job := waitForStatus(t, mgr, id, queue.StatusCancelling)
	if !job.CompletedAt.IsZero() {
		t.Fatal("cancelling job must not be complete yet")
	}
	select {
	case <-trigger.calls:
	case <-time.After(time.Second):
		t.Fatal("expected poller trigger after interrupt")
	}

	// Second cancel is rejected without another interrupt.
	if err := mgr.Cancel(context.Background(), id); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeated cancel, got %v", err)
	}

	mgr.Observe(a1111.ProgressSnapshot{Progress: 0})
	waitForStatus(t, mgr, id, queue.StatusCancelled)

	counts := gw.Counts()
	if counts.interrupt != 1 {
		t.Fatalf("unexpected interrupt count: %d", counts.interrupt)
	}
	if counts.extra != 0 {
		t.Fatalf("pass 2 must never run after cancel, got %d calls", counts.extra)
	}
	if !mgr.CurrentState().Idle() {
		t.Fatal("expected slot freed after reconciliation")
	}
}

func TestCancelPendingJobMakesNoServerCall(t *testing.T) {
	gw := newFakeGateway()
	mgr, _ := newManager(t, gw)
	mgr.Pause()

	keep, _ := mgr.Enqueue(context.Background(), request("keep"))
	drop, _ := mgr.Enqueue(context.Background(), request("drop"))
	if err := mgr.Cancel(context.Background(), drop); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	job, _ := mgr.Job(drop)
	if job.Status != queue.StatusCancelled {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if pending := mgr.CurrentState().Pending; len(pending) != 1 || pending[0] != keep {
		t.Fatalf("unexpected pending after cancel: %v", pending)
	}
	if counts := gw.Counts(); counts.interrupt != 0 || counts.img2img != 0 {
		t.Fatalf("pending cancel touched the server: %+v", counts)
	}
	if err := mgr.Cancel(context.Background(), drop); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for terminal job, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	gw := newFakeGateway()
	mgr, _ := newManager(t, gw)
	if err := mgr.Cancel(context.Background(), "job_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if gw.Counts().interrupt != 0 {
		t.Fatal("unknown id must not reach the server")
	}
}

func TestInterruptFailureMarksJobFailed(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	gw.interruptErr = services.Wrap(services.ErrTransport, "", "interrupt", "connection refused", nil)
	mgr, _ := newManager(t, gw)
	startManager(t, mgr)

	id, _ := mgr.Enqueue(context.Background(), request("stuck"))
	waitStarted(t, gw)

	err := mgr.Cancel(context.Background(), id)
	if !errors.Is(err, services.ErrInterruptFailed) {
		t.Fatalf("expected ErrInterruptFailed, got %v", err)
	}
	job, _ := mgr.Job(id)
	if job.Status != queue.StatusFailed || job.ErrorKind != services.KindInterruptFailed {
		t.Fatalf("unexpected job after failed interrupt: %s / %s", job.Status, job.ErrorKind)
	}

	// The pass 1 result arriving later is discarded.
	gw.Release()
	time.Sleep(50 * time.Millisecond)
	job, _ = mgr.Job(id)
	if job.Status != queue.StatusFailed {
		t.Fatalf("late result changed status to %s", job.Status)
	}
	if gw.Counts().extra != 0 {
		t.Fatal("pass 2 ran after failed cancellation")
	}
}

func TestCancelTimeoutMarksCancelled(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	cfg := testsupport.NewConfig(t)
	cfg.Jobs.CancelTimeout = 1
	mgr := newManagerWithConfig(t, cfg, gw)
	startManager(t, mgr)

	id, _ := mgr.Enqueue(context.Background(), request("no-idle"))
	waitStarted(t, gw)
	if err := mgr.CancelActive(context.Background()); err != nil {
		t.Fatalf("CancelActive: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := mgr.Job(id)
		if job.Status == queue.StatusCancelled {
			if job.ErrorMessage != "cancel confirmation timed out" {
				t.Fatalf("unexpected reason: %q", job.ErrorMessage)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cancel timeout did not settle the job")
}

func TestEmergencyInterruptWithoutLocalJob(t *testing.T) {
	gw := newFakeGateway()
	mgr, _ := newManager(t, gw)

	affected, err := mgr.EmergencyInterrupt(context.Background())
	if err != nil {
		t.Fatalf("EmergencyInterrupt: %v", err)
	}
	if affected {
		t.Fatal("no local job should be affected")
	}
	if gw.Counts().interrupt != 1 {
		t.Fatal("expected the interrupt to be issued")
	}
}

func TestEmergencyInterruptReconcilesLocalJob(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	mgr, _ := newManager(t, gw)
	startManager(t, mgr)

	id, _ := mgr.Enqueue(context.Background(), request("local"))
	waitStarted(t, gw)

	affected, err := mgr.EmergencyInterrupt(context.Background())
	if err != nil {
		t.Fatalf("EmergencyInterrupt: %v", err)
	}
	if !affected {
		t.Fatal("expected local job to be affected")
	}
	mgr.Observe(a1111.ProgressSnapshot{Progress: 0})
	waitForStatus(t, mgr, id, queue.StatusCancelled)
}

func TestCancelledJobLetsNextJobRun(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	mgr, _ := newManager(t, gw)
	mgr.Pause()
	first, _ := mgr.Enqueue(context.Background(), request("first"))
	second, _ := mgr.Enqueue(context.Background(), request("second"))
	startManager(t, mgr)
	mgr.Resume()
	waitStarted(t, gw)

	if err := mgr.Cancel(context.Background(), first); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	mgr.Observe(a1111.ProgressSnapshot{Progress: 0})
	waitForStatus(t, mgr, first, queue.StatusCancelled)
	waitForStatus(t, mgr, second, queue.StatusCompleted)
}

func TestIdleReadingDuringFailedInterruptDoesNotSettle(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	gw.interruptErr = services.Wrap(services.ErrTransport, "", "interrupt", "connection reset", nil)
	mgr, _ := newManager(t, gw)
	gw.onInterrupt = func() {
		mgr.Observe(a1111.ProgressSnapshot{Progress: 0, FetchedAt: time.Now()})
	}
	startManager(t, mgr)

	id, _ := mgr.Enqueue(context.Background(), request("reset"))
	waitStarted(t, gw)

	if err := mgr.Cancel(context.Background(), id); !errors.Is(err, services.ErrInterruptFailed) {
		t.Fatalf("expected ErrInterruptFailed, got %v", err)
	}
	job, _ := mgr.Job(id)
	if job.Status != queue.StatusFailed || job.ErrorKind != services.KindInterruptFailed {
		t.Fatalf("unexpected job after failed interrupt: %s / %q", job.Status, job.ErrorKind)
	}
}

func TestIdleReadingFetchedBeforeInterruptIsIgnored(t *testing.T) {
	gw := newFakeGateway()
	gw.Block()
	mgr, _ := newManager(t, gw)
	startManager(t, mgr)

	id, _ := mgr.Enqueue(context.Background(), request("stale"))
	waitStarted(t, gw)

	before := time.Now()
	if err := mgr.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	mgr.Observe(a1111.ProgressSnapshot{Progress: 0, FetchedAt: before})
	if job, _ := mgr.Job(id); job.Status != queue.StatusCancelling {
		t.Fatalf("stale idle reading settled the job: %s", job.Status)
	}

	mgr.Observe(a1111.ProgressSnapshot{Progress: 0, FetchedAt: time.Now()})
	waitForStatus(t, mgr, id, queue.StatusCancelled)
}
