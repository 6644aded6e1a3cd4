// Package logstream pages daemon log records for the CLI, preferring the HTTP
// API and falling back to the IPC socket.
package logstream

import (
	"context"
	"errors"
	"strings"

	"finisher/internal/api"
	"finisher/internal/ipc"
	"finisher/internal/logs"
)

// ErrFiltersRequireAPI is returned when a component filter is requested but
// only the IPC socket is reachable.
var ErrFiltersRequireAPI = errors.New("component filter requires the HTTP API")

const followWaitMillis = 10000

type APIClient interface {
	Fetch(ctx context.Context, q logs.StreamQuery) (api.LogStreamResponse, error)
}

type TailClient interface {
	LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error)
}

type Filters struct {
	Component string
	JobID     string
}

type Options struct {
	Lines   int
	Follow  bool
	Filters Filters
}

// Stream delivers records to onEvent until the backlog is printed or, when
// following, until ctx ends. An unreachable API drops to the IPC client for
// the rest of the stream.
func Stream(ctx context.Context, apiClient APIClient, tail TailClient, opts Options, onEvent func(api.LogEvent)) error {
	if onEvent == nil {
		return errors.New("logstream: nil event callback")
	}
	component := strings.TrimSpace(opts.Filters.Component)
	useAPI := apiClient != nil

	var cursor uint64
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		follow := !first && opts.Follow

		var (
			resp api.LogStreamResponse
			err  error
		)
		if useAPI {
			resp, err = apiClient.Fetch(ctx, logs.StreamQuery{
				Since:     cursor,
				Limit:     opts.Lines,
				Follow:    follow,
				JobID:     opts.Filters.JobID,
				Component: component,
			})
			if err != nil && logs.IsAPIUnavailable(err) {
				useAPI = false
				continue
			}
		} else {
			if component != "" {
				return ErrFiltersRequireAPI
			}
			if tail == nil {
				return logs.ErrAPIUnavailable
			}
			var out *ipc.LogTailResponse
			req := ipc.LogTailRequest{Since: cursor, Limit: opts.Lines, Follow: follow, JobID: opts.Filters.JobID}
			if follow {
				req.WaitMillis = followWaitMillis
			}
			out, err = tail.LogTail(req)
			if out != nil {
				resp = *out
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, evt := range resp.Events {
			onEvent(evt)
		}
		if resp.Next > cursor {
			cursor = resp.Next
		}
		first = false
		if !opts.Follow {
			return nil
		}
	}
}
