package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"finisher/internal/config"
	"finisher/internal/daemonrun"
	"finisher/internal/ipc"
)

// ErrDaemonNotRunning means nothing answered on the socket.
var ErrDaemonNotRunning = errors.New("daemon not running")

const termGrace = 2 * time.Second

type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// StopAndTerminate asks the daemon to stop over IPC. If the socket is still
// answering after grace, the process named by the pid file is terminated.
func StopAndTerminate(socketPath string, cfg *config.Config, grace time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var result StopResult
	if status, err := client.Status(); err == nil {
		result.PID = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return result, err
	}
	result.StopAcknowledged = resp.Stopped

	if WaitForShutdown(socketPath, grace) == nil {
		return result, nil
	}
	if cfg == nil {
		return result, fmt.Errorf("daemon did not stop within %s", grace)
	}
	pid, err := Terminate(daemonrun.PIDPath(cfg), result.PID)
	if err != nil {
		return result, fmt.Errorf("stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = pid
	return result, nil
}

// WaitForShutdown returns nil once the socket stops accepting connections.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	gone := waitUntil(timeout, func() bool {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return isDaemonUnavailable(err)
		}
		_ = client.Close()
		return false
	})
	if !gone {
		return fmt.Errorf("daemon did not stop within %s", timeout)
	}
	return nil
}

// Terminate sends SIGTERM to the daemon pid, then SIGKILL if it is still alive
// after a short grace period, and removes the pid file. The pid file wins over
// fallbackPID when both are present.
func Terminate(pidPath string, fallbackPID int) (int, error) {
	pid, err := readPID(pidPath, fallbackPID)
	if err != nil {
		return 0, err
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal the current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return 0, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	exited := waitUntil(termGrace, func() bool {
		return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
	})
	if !exited {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
		}
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return pid, fmt.Errorf("remove pid file: %w", err)
	}
	return pid, nil
}

func readPID(pidPath string, fallback int) (int, error) {
	data, err := os.ReadFile(pidPath)
	switch {
	case err == nil:
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			return pid, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("read pid file %s: %w", pidPath, err)
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, fmt.Errorf("no daemon pid known (pid file %s)", pidPath)
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
