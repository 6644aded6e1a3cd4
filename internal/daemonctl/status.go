package daemonctl

import (
	"context"
	"errors"

	"finisher/internal/config"
	"finisher/internal/ipc"
	"finisher/internal/preflight"
)

// StatusSnapshot is either the daemon's own status or, when it cannot be
// reached, the local preflight results.
type StatusSnapshot struct {
	Reachable bool
	Daemon    *ipc.StatusResponse
	Checks    []preflight.Result
}

func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (StatusSnapshot, error) {
	if cfg == nil {
		return StatusSnapshot{}, errors.New("configuration not available")
	}
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		if status, err := client.Status(); err == nil {
			return StatusSnapshot{Reachable: true, Daemon: status}, nil
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return StatusSnapshot{Checks: preflight.RunAll(ctx, cfg)}, nil
}
