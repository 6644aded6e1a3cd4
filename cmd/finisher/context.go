package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"finisher/internal/config"
	"finisher/internal/ipc"
	"finisher/internal/services"
)

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	socket   string
	config   string
	logLevel string
}

func (f *globalFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.socket, "socket", "", "Daemon socket path (default <state_dir>/finisher.sock)")
	pf.StringVarP(&f.config, "config", "c", "", "Configuration file path")
	pf.StringVar(&f.logLevel, "log-level", "", "Daemon log level override (debug, info, warn, error)")
}

// commandContext loads the configuration at most once per invocation.
type commandContext struct {
	flags *globalFlags
	load  func() (*config.Config, error)
}

func newCommandContext(flags *globalFlags) *commandContext {
	c := &commandContext{flags: flags}
	c.load = sync.OnceValues(func() (*config.Config, error) {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			return nil, err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		return cfg, nil
	})
	return c
}

func (c *commandContext) configPath() string { return strings.TrimSpace(c.flags.config) }

func (c *commandContext) logLevel() string {
	return strings.ToLower(strings.TrimSpace(c.flags.logLevel))
}

func (c *commandContext) ensureConfig() (*config.Config, error) { return c.load() }

// configValue returns the loaded config or nil when loading failed.
func (c *commandContext) configValue() *config.Config {
	cfg, err := c.load()
	if err != nil {
		return nil
	}
	return cfg
}

func (c *commandContext) socketPath() string {
	if socket := strings.TrimSpace(c.flags.socket); socket != "" {
		return socket
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.SocketPath()
	}
	// Config failed to load; guess the default location so stop/status still work.
	fallback := config.Default()
	stateDir, err := config.ExpandPath(fallback.Paths.StateDir)
	if err != nil {
		stateDir = os.TempDir()
	}
	fallback.Paths.StateDir = stateDir
	return fallback.SocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err == nil {
		return client, nil
	}
	var hint string
	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, os.ErrNotExist):
		hint = "not found; start the daemon with `finisher start`"
	case errors.Is(err, syscall.ECONNREFUSED):
		hint = "refused the connection; verify the daemon is running"
	default:
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return nil, fmt.Errorf("connect to daemon: socket %s %s", socket, hint)
}

var errorHints = []struct {
	target error
	hint   string
}{
	{services.ErrQueueFull, "wait for running jobs to finish or raise jobs.capacity"},
	{services.ErrNotFound, "see `finisher jobs` for known ids"},
	{services.ErrTransport, "check that the generation server is running and server.base_url is correct"},
	{services.ErrInterruptFailed, "the server may still be generating; retry `finisher interrupt`"},
}

// describeError adds a hint for the error kinds a user can act on.
func describeError(err error) string {
	for _, h := range errorHints {
		if errors.Is(err, h.target) {
			return fmt.Sprintf("%s (%s)", err, h.hint)
		}
	}
	return err.Error()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
