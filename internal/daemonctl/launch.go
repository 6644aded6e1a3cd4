package daemonctl

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"finisher/internal/ipc"
)

const pollInterval = 200 * time.Millisecond

type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

type StartResult struct {
	State StartState
	PID   int
}

// launchArgs builds the `daemon` invocation for a detached child.
func launchArgs(opts LaunchOptions) []string {
	args := []string{"daemon"}
	if v := strings.TrimSpace(opts.ConfigPath); v != "" {
		args = append(args, "--config", v)
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		args = append(args, "--log-level", v)
	}
	return args
}

// Launch starts executable as a daemon in its own session and does not wait
// for it.
func Launch(executable string, opts LaunchOptions) error {
	if strings.TrimSpace(executable) == "" {
		return errors.New("launch daemon: executable path is empty")
	}
	proc := exec.Command(executable, launchArgs(opts)...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient dials socketPath until it answers or timeout passes.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	var lastErr error
	ok := waitUntil(timeout, func() bool {
		client, lastErr = ipc.Dial(socketPath)
		return lastErr == nil
	})
	if ok {
		return client, nil
	}
	if lastErr == nil {
		lastErr = errors.New("timed out")
	}
	return nil, fmt.Errorf("daemon did not come up on %s: %w", socketPath, lastErr)
}

// EnsureStarted launches the daemon unless one already answers on the socket,
// and waits until the new daemon reports that its workflow is running.
func EnsureStarted(socketPath, executable string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		status, err := client.Status()
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}

	if err := Launch(executable, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(socketPath, timeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return StartResult{}, err
	}
	if !status.Running {
		return StartResult{}, errors.New("daemon launched but did not start processing; see `finisher logs`")
	}
	return StartResult{State: StartStateStarted, PID: status.PID}, nil
}

// waitUntil calls done every pollInterval until it returns true or timeout
// passes. done always runs at least once.
func waitUntil(timeout time.Duration, done func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if done() {
			return true
		}
		if time.Now().Add(pollInterval).After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
