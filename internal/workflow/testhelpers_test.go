package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finisher/internal/config"
	"finisher/internal/pipeline"
	"finisher/internal/queue"
	"finisher/internal/services/a1111"
	"finisher/internal/testsupport"
	"finisher/internal/workflow"
)

// fakeGateway implements workflow.Gateway in memory.
type fakeGateway struct {
	mu             sync.Mutex
	img2imgCalls   int
	extraCalls     int
	interruptCalls int
	pass1Errs      []error
	pass2Err       error
	interruptErr   error
	onInterrupt    func()
	block          chan struct{}
	blockOnce      sync.Once
	started        chan string
	prompts        []string
	lastExtra      a1111.ExtraSingleImageRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{started: make(chan string, 64)}
}

// Block makes Pass 1 wait until Interrupt, Release, or context cancellation.
func (g *fakeGateway) Block() {
	g.mu.Lock()
	g.block = make(chan struct{})
	g.mu.Unlock()
}

func (g *fakeGateway) Release() {
	g.mu.Lock()
	block := g.block
	g.mu.Unlock()
	if block != nil {
		g.blockOnce.Do(func() { close(block) })
	}
}

func (g *fakeGateway) Img2Img(ctx context.Context, req a1111.Img2ImgRequest) (a1111.Img2ImgResponse, error) {
	g.mu.Lock()
	idx := g.img2imgCalls
	g.img2imgCalls++
	g.prompts = append(g.prompts, req.Prompt)
	var err error
	if idx < len(g.pass1Errs) {
		err = g.pass1Errs[idx]
	}
	block := g.block
	g.mu.Unlock()

	g.started <- req.Prompt
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return a1111.Img2ImgResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return a1111.Img2ImgResponse{}, err
	}
	return a1111.Img2ImgResponse{Images: []string{"intermediate-" + req.Prompt}}, nil
}

func (g *fakeGateway) ExtraSingleImage(_ context.Context, req a1111.ExtraSingleImageRequest) (a1111.ExtraSingleImageResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.extraCalls++
	g.lastExtra = req
	if g.pass2Err != nil {
		return a1111.ExtraSingleImageResponse{}, g.pass2Err
	}
	return a1111.ExtraSingleImageResponse{Image: "final"}, nil
}

func (g *fakeGateway) Interrupt(context.Context) error {
	g.mu.Lock()
	g.interruptCalls++
	err := g.interruptErr
	hook := g.onInterrupt
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	g.Release()
	return nil
}

type gatewayCounts struct {
	img2img, extra, interrupt int
}

func (g *fakeGateway) Counts() gatewayCounts {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gatewayCounts{img2img: g.img2imgCalls, extra: g.extraCalls, interrupt: g.interruptCalls}
}

func (g *fakeGateway) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func (g *fakeGateway) LastExtra() a1111.ExtraSingleImageRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastExtra
}

type recordingArchive struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (a *recordingArchive) Record(_ context.Context, job queue.Job) error {
	a.mu.Lock()
	a.jobs = append(a.jobs, job)
	a.mu.Unlock()
	return nil
}

func (a *recordingArchive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func newManager(t *testing.T, gw *fakeGateway, opts ...workflow.ManagerOption) (*workflow.Manager, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return newManagerWithConfig(t, cfg, gw, opts...), cfg
}

func newManagerWithConfig(t *testing.T, cfg *config.Config, gw *fakeGateway, opts ...workflow.ManagerOption) *workflow.Manager {
	t.Helper()
	mgr := workflow.NewManager(cfg, gw, nil, opts...)
	t.Cleanup(func() {
		gw.Release()
		mgr.Stop()
	})
	return mgr
}

func startManager(t *testing.T, mgr *workflow.Manager) {
	t.Helper()
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func request(prompt string) workflow.Request {
	return workflow.Request{
		Image:       "aW1hZ2U=",
		Description: prompt + ".png",
		Overrides:   pipeline.ProcessingConfig{Prompt: prompt},
	}
}

func waitForStatus(t *testing.T, mgr *workflow.Manager, id string, want queue.Status) queue.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var job queue.Job
	for time.Now().Before(deadline) {
		var err error
		job, err = mgr.Job(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s (last status %s)", id, want, job.Status)
	return job
}

func waitStarted(t *testing.T, gw *fakeGateway) string {
	t.Helper()
	select {
	case prompt := <-gw.started:
		return prompt
	case <-time.After(3 * time.Second):
		t.Fatal("img2img was not called")
		return ""
	}
}

var errPassOne = errors.New("pass one exploded")
