package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finisher/internal/queue"
	"finisher/internal/testsupport"
)

func TestEnqueueListShowCancelClear(t *testing.T) {
	env := setupCLITestEnv(t)
	image := testsupport.WriteImage(t, env.baseDir, "cat.png")

	out, _, err := runCLI(t, []string{"enqueue", image, "--prompt", "sharp details", "--scale", "3"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued cat.png as job_")
	requireContains(t, out, "(position 1)")

	jobs := env.runtime.Manager.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	id := jobs[0].ID
	if jobs[0].Config.Prompt != "sharp details" || jobs[0].Config.ScaleFactor != 3 {
		t.Fatalf("overrides not applied: %+v", jobs[0].Config)
	}

	out, _, err = runCLI(t, []string{"jobs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "Queued")
	requireContains(t, out, "cat.png")

	out, _, err = runCLI(t, []string{"show", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Job "+id)
	requireContains(t, out, "sharp details")
	requireContains(t, out, "Lanczos x3")

	out, _, err = runCLI(t, []string{"cancel", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "Job "+id+" cancelled")

	out, _, err = runCLI(t, []string{"jobs", "--status", "queued"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs --status: %v", err)
	}
	requireContains(t, out, "No jobs")

	out, _, err = runCLI(t, []string{"clear"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 finished job(s)")
}

func TestEnqueueMultipleFilesQueuesBatch(t *testing.T) {
	env := setupCLITestEnv(t)
	first := testsupport.WriteImage(t, env.baseDir, "a.png")
	second := testsupport.WriteImage(t, env.baseDir, "b.png")

	out, _, err := runCLI(t, []string{"enqueue", first, second}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued batch batch_")
	requireContains(t, out, "with 2 image(s)")

	jobs := env.runtime.Manager.Jobs()
	if len(jobs) != 2 || jobs[0].BatchID == "" || jobs[0].BatchID != jobs[1].BatchID {
		t.Fatalf("expected two jobs sharing a batch, got %+v", jobs)
	}
}

func TestEnqueueRejectsNonImages(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.baseDir, "notes.md")
	if err := os.WriteFile(path, []byte("# not an image\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, err := runCLI(t, []string{"enqueue", path}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "is not a png or jpeg image") {
		t.Fatalf("expected non-image rejection, got %v", err)
	}
	if len(env.runtime.Manager.Jobs()) != 0 {
		t.Fatal("nothing should be queued")
	}
}

func TestEnqueueRejectsUnsupportedImageFormats(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.baseDir, "anim.gif")
	gif := append([]byte("GIF89a"), make([]byte, 32)...)
	if err := os.WriteFile(path, gif, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, err := runCLI(t, []string{"enqueue", path}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "image/gif") {
		t.Fatalf("expected gif rejection, got %v", err)
	}
	if len(env.runtime.Manager.Jobs()) != 0 {
		t.Fatal("nothing should be queued")
	}
}

func TestEnqueueHonoursExplicitZeroOverrides(t *testing.T) {
	env := setupCLITestEnv(t)
	image := testsupport.WriteImage(t, env.baseDir, "flat.png")

	args := []string{"enqueue", image, "--denoise", "0", "--tile-overlap", "0"}
	if _, _, err := runCLI(t, args, env.socketPath, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs := env.runtime.Manager.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	cfg := jobs[0].Config
	if cfg.DenoisingStrength != 0 || cfg.TileOverlap != 0 {
		t.Fatalf("explicit zeros replaced by defaults: denoise=%v overlap=%d", cfg.DenoisingStrength, cfg.TileOverlap)
	}
	if cfg.Steps != env.cfg.Processing.Steps {
		t.Fatalf("unset flag changed steps: %d", cfg.Steps)
	}
}

func TestEnqueueAcceptsBase64Text(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.baseDir, "image.b64")
	if err := os.WriteFile(path, []byte("aW1hZ2U=\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, _, err := runCLI(t, []string{"enqueue", path, "--description", "pasted"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs := env.runtime.Manager.Jobs()
	if len(jobs) != 1 || jobs[0].ImageBytes != len("aW1hZ2U=") || jobs[0].Description != "pasted" {
		t.Fatalf("unexpected job: %+v", jobs)
	}
}

func TestCancelUnknownJobFails(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"cancel", "job_missing"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	requireContains(t, describeError(err), "finisher jobs")
}

func TestInterruptConfirmation(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLIWithInput(t, []string{"interrupt"}, env.socketPath, env.configPath, "n\n")
	if err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	requireContains(t, out, "Interrupt aborted")
	if env.fake.Counts().Interrupt != 0 {
		t.Fatal("declined interrupt must not reach the server")
	}

	out, _, err = runCLI(t, []string{"interrupt", "--yes"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("interrupt --yes: %v", err)
	}
	requireContains(t, out, "Interrupt sent")
	if env.fake.Counts().Interrupt != 1 {
		t.Fatalf("expected one interrupt call, got %d", env.fake.Counts().Interrupt)
	}
}

func TestPauseResume(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"pause"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "Queue paused")

	out, _, _ = runCLI(t, []string{"pause"}, env.socketPath, env.configPath)
	requireContains(t, out, "Queue already paused")

	out, _, err = runCLI(t, []string{"resume"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Queue resumed")
}

func TestStatusAndWatch(t *testing.T) {
	env := setupCLITestEnv(t)
	image := testsupport.WriteImage(t, env.baseDir, "dog.png")
	if _, _, err := runCLI(t, []string{"enqueue", image}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Queue Status")
	requireContains(t, out, env.fake.URL)
	requireContains(t, out, "1 of 50")

	out, _, err = runCLI(t, []string{"watch", "--once"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	requireContains(t, out, "job_added")
	requireContains(t, out, "dog.png")
}

func TestOptionsRefresh(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"options"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	requireContains(t, out, "not been loaded")

	out, _, err = runCLI(t, []string{"options", "--refresh"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("options --refresh: %v", err)
	}
	requireContains(t, out, "Upscalers")
	requireContains(t, out, "R-ESRGAN 4x+")
	requireContains(t, out, "DPM++ 2M")
}

func TestCompletedJobAppearsInHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := env.runtime.Daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	image := testsupport.WriteImage(t, env.baseDir, "bird.png")
	if _, _, err := runCLI(t, []string{"enqueue", image}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		jobs := env.runtime.Manager.Jobs()
		return len(jobs) == 1 && jobs[0].Status == queue.StatusCompleted
	})
	waitFor(t, 2*time.Second, func() bool {
		entries, err := env.runtime.History.List(context.Background(), 5, "")
		return err == nil && len(entries) == 1
	})

	out, _, err := runCLI(t, []string{"history"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Completed")
	requireContains(t, out, "bird.png")
}

func TestStopWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(env.baseDir, "absent.sock")
	out, _, err := runCLI(t, []string{"stop"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestJobsWithoutDaemonExplainsHowToStart(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(env.baseDir, "absent.sock")
	_, _, err := runCLI(t, []string{"jobs"}, missing, env.configPath)
	if err == nil {
		t.Fatal("expected dial error")
	}
	requireContains(t, err.Error(), "finisher start")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.fake.URL)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite protection, got %v", err)
	}
}
