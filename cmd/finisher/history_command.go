package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"finisher/internal/api"
	"finisher/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(ipc.HistoryRequest{Limit: limit, Status: status})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No archived jobs")
					return nil
				}
				fmt.Fprintln(out, renderHistoryTable(resp.Entries))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to list")
	cmd.Flags().StringVar(&status, "status", "", "Only list entries with this final status")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	return cmd
}

func renderHistoryTable(entries []api.HistoryEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		detail := entry.ErrorMessage
		if detail == "" && len(entry.Substitutions) > 0 {
			detail = fmt.Sprintf("%d option(s) substituted", len(entry.Substitutions))
		}
		rows = append(rows, []string{
			entry.ID,
			statusLabel(entry.Status),
			dashIfEmpty(entry.Description),
			formatTimestamp(entry.CompletedAt),
			formatDurationMs(entry.DurationMs),
			dashIfEmpty(detail),
		})
	}
	return renderRows([]column{
		leftCol("ID"), leftCol("Status"), leftCol("Image"), leftCol("Finished"), rightCol("Duration"), leftCol("Detail"),
	}, rows)
}
