package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"finisher/internal/api"
	"finisher/internal/config"
	"finisher/internal/logs"
	"finisher/internal/logstream"
)

const logFileName = "finisher.log"

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var follow bool
	var jobID string
	var component string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log records",
		Long: "Show daemon log records. Reads from the HTTP API when api_bind is set, " +
			"then the daemon socket, then the log file when the daemon is not running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			cfg := ctx.configValue()

			var apiClient logstream.APIClient
			if cfg != nil {
				client, err := logs.NewStreamClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
				if err != nil {
					return err
				}
				if client != nil {
					apiClient = client
				}
			}

			var tail logstream.TailClient
			if client, err := ctx.dialClient(); err == nil {
				defer client.Close()
				tail = client
			} else if apiClient == nil {
				return tailLogFile(runCtx, out, cfg, limit, follow, jobID, component)
			}

			err := logstream.Stream(runCtx, apiClient, tail, logstream.Options{
				Lines:   limit,
				Follow:  follow,
				Filters: logstream.Filters{Component: component, JobID: jobID},
			}, func(evt api.LogEvent) {
				printLogEvents(out, []api.LogEvent{evt})
			})
			if errors.Is(err, logs.ErrAPIUnavailable) {
				return tailLogFile(runCtx, out, cfg, limit, follow, jobID, component)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 50, "Number of records to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show records for this job id")
	cmd.Flags().StringVar(&component, "component", "", "Only show records from this component (HTTP API only)")
	return cmd
}

// tailLogFile reads the daemon's log file directly. Record filters cannot be
// applied to raw lines.
func tailLogFile(ctx context.Context, out io.Writer, cfg *config.Config, limit int, follow bool, jobID, component string) error {
	if cfg == nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return errors.New("daemon is not running and no log directory is configured")
	}
	if strings.TrimSpace(jobID) != "" || strings.TrimSpace(component) != "" {
		return errors.New("log filters require a running daemon")
	}
	path := filepath.Join(cfg.Paths.LogDir, logFileName)
	lines, offset, err := logs.ReadLast(path, limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if !follow {
		return nil
	}
	return logs.Follow(ctx, path, offset, 500*time.Millisecond, func(line string) {
		fmt.Fprintln(out, line)
	})
}

func printLogEvents(out io.Writer, events []api.LogEvent) {
	for _, evt := range events {
		line := formatEventTime(evt.Timestamp) + " " + strings.ToUpper(evt.Level)
		if evt.Component != "" {
			line += " " + evt.Component + ":"
		}
		line += " " + evt.Message
		if evt.JobID != "" {
			line += " job=" + evt.JobID
		}
		fmt.Fprintln(out, line)
	}
}
