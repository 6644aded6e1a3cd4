package logging

import (
	"context"
	"testing"
	"time"
)

func TestStreamHubEvictsOldest(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	if first := hub.FirstSequence(); first != 3 {
		t.Fatalf("expected first sequence 3, got %d", first)
	}
	events, next := hub.Tail(10)
	if len(events) != 3 || next != 5 {
		t.Fatalf("unexpected tail: %d events next=%d", len(events), next)
	}
}

func TestStreamHubFetchSince(t *testing.T) {
	hub := NewStreamHub(10)
	hub.Publish(LogEvent{Message: "a"})
	hub.Publish(LogEvent{Message: "b"})
	hub.Publish(LogEvent{Message: "c"})

	events, next, err := hub.Fetch(context.Background(), 1, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 || events[0].Message != "b" || next != 3 {
		t.Fatalf("unexpected fetch: %+v next=%d", events, next)
	}

	events, _, _ = hub.Fetch(context.Background(), 3, 0, false)
	if len(events) != 0 {
		t.Fatalf("expected no events past head, got %d", len(events))
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(10)
	done := make(chan []LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 0, true)
		done <- events
	}()
	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "late"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "late" {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestStreamHubFetchHonorsCancellation(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := hub.Fetch(ctx, 0, 0, true)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestStreamProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	if !s.ShouldLog(0, "pass1") {
		t.Fatal("first observation should log")
	}
	if s.ShouldLog(10, "pass1") {
		t.Fatal("same bucket should not log")
	}
	if !s.ShouldLog(30, "pass1") {
		t.Fatal("crossing a bucket should log")
	}
	if !s.ShouldLog(0, "pass2") {
		t.Fatal("pass change should log")
	}
	s.Reset()
	if !s.ShouldLog(0, "") {
		t.Fatal("reset should allow the first bucket again")
	}
}
