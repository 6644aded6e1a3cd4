package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"finisher/internal/daemonctl"
	"finisher/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the finisher daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: ctx.logLevel()},
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the finisher daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping daemon workflow...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, server, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				if snapshot.Daemon != nil {
					return writeJSON(cmd, snapshot.Daemon)
				}
				return writeJSON(cmd, map[string]any{"running": false, "checks": snapshot.Checks})
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			if !snapshot.Reachable {
				printSection(stdout, "System Status", colorize)
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
				for _, check := range snapshot.Checks {
					kind := statusOK
					if !check.Passed {
						kind = statusError
					}
					fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				return nil
			}
			renderDaemonStatus(stdout, *snapshot.Daemon, colorize)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func renderDaemonStatus(stdout io.Writer, status ipc.StatusResponse, colorize bool) {
	printSection(stdout, "System Status", colorize)
	daemonKind, daemonDetail := statusOK, fmt.Sprintf("Running (pid %d)", status.PID)
	if !status.Running {
		daemonKind, daemonDetail = statusWarn, fmt.Sprintf("Idle (pid %d, processing stopped)", status.PID)
	}
	fmt.Fprintln(stdout, renderStatusLine("Daemon", daemonKind, daemonDetail, colorize))

	server := status.Server
	if server.Reachable {
		fmt.Fprintln(stdout, renderStatusLine("Server", statusOK, server.URL, colorize))
	} else {
		detail := server.URL
		if server.Detail != "" {
			detail += " (" + server.Detail + ")"
		}
		fmt.Fprintln(stdout, renderStatusLine("Server", statusError, detail, colorize))
	}
	if server.OptionsLoaded {
		fmt.Fprintln(stdout, renderStatusLine("Options", statusOK, "Loaded "+formatTimestamp(server.OptionsRefresh), colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Options", statusWarn, "Not loaded", colorize))
	}
	if status.HistoryPath != "" {
		fmt.Fprintln(stdout, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
	}
	if wf := status.Workflow; wf.LastError != "" {
		fmt.Fprintln(stdout, renderStatusLine("Last error", statusWarn, wf.LastError, colorize))
	}
	fmt.Fprintln(stdout)

	wf := status.Workflow
	printSection(stdout, "Queue Status", colorize)
	fmt.Fprintln(stdout, renderStatusLine("Paused", statusInfo, yesNo(wf.Queue.Paused), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Pending", statusInfo, fmt.Sprintf("%d of %d", len(wf.Queue.Pending), wf.Queue.Capacity), colorize))
	if wf.Queue.ActiveID != "" {
		fmt.Fprintln(stdout, renderStatusLine("Active", statusInfo, wf.Queue.ActiveID+" "+statusLabel(wf.Queue.ActiveStatus), colorize))
	}
	if wf.Ownership != "" {
		fmt.Fprintln(stdout, renderStatusLine("Server activity", statusInfo, wf.Ownership, colorize))
	}
	if wf.Progress != nil && wf.Progress.Progress > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.0f%%", wf.Progress.Progress*100), colorize))
	}

	rows := buildStatusCountRows(wf.Counts)
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "Queue is empty")
		return
	}
	fmt.Fprintln(stdout, renderRows([]column{leftCol("Status"), rightCol("Count")}, rows))
}

func buildStatusCountRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for key, count := range counts {
		if count > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{statusLabel(key), strconv.Itoa(counts[key])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}
