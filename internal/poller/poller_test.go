package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finisher/internal/services/a1111"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	snapshots []a1111.ProgressSnapshot
	errs      []error
	calls     int
}

func (f *scriptedFetcher) Progress(context.Context) (a1111.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return a1111.ProgressSnapshot{}, f.errs[idx]
	}
	if idx < len(f.snapshots) {
		return f.snapshots[idx], nil
	}
	return a1111.ProgressSnapshot{}, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []a1111.ProgressSnapshot
}

func (o *recordingObserver) Observe(s a1111.ProgressSnapshot) {
	o.mu.Lock()
	o.seen = append(o.seen, s)
	o.mu.Unlock()
}

func (o *recordingObserver) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}

func testIntervals() Intervals {
	return Intervals{
		Active:               2 * time.Second,
		Idle:                 10 * time.Second,
		Error:                30 * time.Second,
		MaxConsecutiveErrors: 3,
		UnobservedMultiplier: 3,
	}
}

func TestIntervalFollowsMode(t *testing.T) {
	mode := ModeIdle
	p := New(&scriptedFetcher{}, testIntervals(), nil, WithModeProvider(func() Mode { return mode }))

	tests := []struct {
		mode Mode
		want time.Duration
	}{
		{ModeIdle, 10 * time.Second},
		{ModePassOne, 2 * time.Second},
		{ModePassTwo, 10 * time.Second},
		{ModeCancelling, 2 * time.Second},
	}
	for _, tc := range tests {
		mode = tc.mode
		if got := p.Interval(); got != tc.want {
			t.Fatalf("mode %s: unexpected interval %s, want %s", tc.mode, got, tc.want)
		}
	}

	p.SetObserved(false)
	mode = ModePassOne
	if got := p.Interval(); got != 6*time.Second {
		t.Fatalf("unexpected unobserved interval: %s", got)
	}
}

func TestConsecutiveErrorsBackOffAndRecover(t *testing.T) {
	boom := errors.New("connection refused")
	fetcher := &scriptedFetcher{
		errs:      []error{boom, boom, boom, nil},
		snapshots: []a1111.ProgressSnapshot{{}, {}, {}, {Progress: 0.5}},
	}
	p := New(fetcher, testIntervals(), nil, WithModeProvider(func() Mode { return ModePassOne }))
	observer := &recordingObserver{}
	p.AddObserver(observer)

	for i := 0; i < 3; i++ {
		if err := p.PollOnce(context.Background()); err == nil {
			t.Fatalf("poll %d: expected error", i)
		}
	}
	if p.ConsecutiveErrors() != 3 {
		t.Fatalf("unexpected error streak: %d", p.ConsecutiveErrors())
	}
	if got := p.Interval(); got != 30*time.Second {
		t.Fatalf("expected error interval, got %s", got)
	}
	if observer.Len() != 0 {
		t.Fatal("failed polls must not reach observers")
	}

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("recovery poll: %v", err)
	}
	if p.ConsecutiveErrors() != 0 || p.LastError() != nil {
		t.Fatal("expected error state cleared after success")
	}
	latest, ok := p.Latest()
	if !ok || latest.Progress != 0.5 {
		t.Fatalf("unexpected latest snapshot: %+v ok=%v", latest, ok)
	}
	if observer.Len() != 1 {
		t.Fatalf("expected one observed snapshot, got %d", observer.Len())
	}
	if got := p.Interval(); got != 2*time.Second {
		t.Fatalf("expected active interval after recovery, got %s", got)
	}
}

func TestTriggerForcesImmediatePoll(t *testing.T) {
	fetcher := &scriptedFetcher{}
	intervals := testIntervals()
	intervals.Idle = time.Hour
	p := New(fetcher, intervals, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	waitFor(t, func() bool { return fetcher.Calls() >= 1 })
	p.Trigger()
	waitFor(t, func() bool { return fetcher.Calls() >= 2 })
}

func TestStartTwiceFails(t *testing.T) {
	p := New(&scriptedFetcher{}, testIntervals(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
