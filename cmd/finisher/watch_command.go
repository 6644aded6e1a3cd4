package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"finisher/internal/api"
	"finisher/internal/ipc"
)

const followWaitMillis = 10_000

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var since uint64
	var once bool
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow queue and server events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				cursor := since
				wait := false
				for {
					resp, err := client.Events(ipc.EventsRequest{Since: cursor, Follow: wait, WaitMillis: followWaitMillis})
					if err != nil {
						return err
					}
					for _, evt := range resp.Events {
						if jsonOutput {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintln(out, formatEvent(evt))
					}
					cursor = resp.Next
					if once {
						return nil
					}
					wait = true
					if err := commandDone(cmd.Context()); err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Only show events after this sequence number")
	cmd.Flags().BoolVar(&once, "once", false, "Print buffered events and exit instead of following")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print events as JSON objects")
	return cmd
}

func commandDone(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

func formatEvent(evt api.Event) string {
	var b strings.Builder
	b.WriteString(formatEventTime(evt.Timestamp))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-16s", evt.Kind))
	if evt.Job != nil {
		b.WriteString(" ")
		b.WriteString(evt.Job.ID)
		b.WriteString(" ")
		b.WriteString(statusLabel(evt.Job.Status))
		if evt.Job.Description != "" {
			b.WriteString(" (" + evt.Job.Description + ")")
		}
	}
	if evt.Progress != nil && evt.Progress.Progress > 0 {
		b.WriteString(fmt.Sprintf(" %.0f%%", evt.Progress.Progress*100))
	}
	if evt.Ownership != "" {
		b.WriteString(" ownership=" + evt.Ownership)
	}
	if evt.Message != "" {
		b.WriteString(" " + evt.Message)
	}
	return b.String()
}

func formatEventTime(value string) string {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return dashIfEmpty(value)
	}
	return parsed.Local().Format("15:04:05")
}
