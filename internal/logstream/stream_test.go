package logstream_test

import (
	"context"
	"errors"
	"testing"

	"finisher/internal/api"
	"finisher/internal/ipc"
	"finisher/internal/logs"
	"finisher/internal/logstream"
)

type fakeAPI struct {
	err     error
	queries []logs.StreamQuery
	resp    api.LogStreamResponse
}

func (f *fakeAPI) Fetch(_ context.Context, q logs.StreamQuery) (api.LogStreamResponse, error) {
	f.queries = append(f.queries, q)
	return f.resp, f.err
}

type fakeTail struct {
	reqs []ipc.LogTailRequest
	resp ipc.LogTailResponse
}

func (f *fakeTail) LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	f.reqs = append(f.reqs, req)
	resp := f.resp
	return &resp, nil
}

func TestStreamPrefersAPI(t *testing.T) {
	apiClient := &fakeAPI{resp: api.LogStreamResponse{Events: []api.LogEvent{{Message: "one"}}, Next: 1}}
	tail := &fakeTail{}

	var got []string
	err := logstream.Stream(context.Background(), apiClient, tail, logstream.Options{
		Lines:   20,
		Filters: logstream.Filters{Component: "workflow", JobID: "job_1"},
	}, func(evt api.LogEvent) { got = append(got, evt.Message) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("unexpected events: %v", got)
	}
	if len(tail.reqs) != 0 {
		t.Fatal("IPC should not be used when the API answers")
	}
	q := apiClient.queries[0]
	if q.Limit != 20 || q.Component != "workflow" || q.JobID != "job_1" || q.Follow {
		t.Fatalf("unexpected query: %+v", q)
	}
}

func TestStreamFallsBackToIPC(t *testing.T) {
	apiClient := &fakeAPI{err: logs.ErrAPIUnavailable}
	tail := &fakeTail{resp: ipc.LogTailResponse{Events: []api.LogEvent{{Message: "from socket"}}, Next: 4}}

	var got []string
	err := logstream.Stream(context.Background(), apiClient, tail, logstream.Options{
		Lines:   5,
		Filters: logstream.Filters{JobID: "job_2"},
	}, func(evt api.LogEvent) { got = append(got, evt.Message) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 || got[0] != "from socket" {
		t.Fatalf("unexpected events: %v", got)
	}
	if len(tail.reqs) != 1 || tail.reqs[0].JobID != "job_2" || tail.reqs[0].Limit != 5 {
		t.Fatalf("unexpected IPC requests: %+v", tail.reqs)
	}
}

func TestStreamComponentFilterRequiresAPI(t *testing.T) {
	err := logstream.Stream(context.Background(), nil, &fakeTail{}, logstream.Options{
		Filters: logstream.Filters{Component: "poller"},
	}, func(api.LogEvent) {})
	if !errors.Is(err, logstream.ErrFiltersRequireAPI) {
		t.Fatalf("expected ErrFiltersRequireAPI, got %v", err)
	}
}

func TestStreamFollowAdvancesCursorUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tail := &fakeTail{resp: ipc.LogTailResponse{Events: []api.LogEvent{{Message: "tick"}}, Next: 9}}
	calls := 0
	err := logstream.Stream(ctx, nil, tail, logstream.Options{Follow: true}, func(api.LogEvent) {
		calls++
		if calls == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(tail.reqs) != 2 {
		t.Fatalf("expected two IPC calls, got %d", len(tail.reqs))
	}
	if tail.reqs[0].Follow || !tail.reqs[1].Follow || tail.reqs[1].Since != 9 || tail.reqs[1].WaitMillis == 0 {
		t.Fatalf("unexpected follow requests: %+v", tail.reqs)
	}
}
