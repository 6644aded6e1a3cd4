package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"finisher/internal/api"
	"finisher/internal/ipc"
)

func newJobCommands(ctx *commandContext) []*cobra.Command {
	var jobsJSON bool
	var jobsStatuses []string
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Jobs(jobsStatuses)
				if err != nil {
					return err
				}
				if jobsJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(resp.Jobs))
				return nil
			})
		},
	}
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "Output jobs as JSON")
	jobsCmd.Flags().StringSliceVar(&jobsStatuses, "status", nil, "Only list jobs in these states (repeatable)")

	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Job(args[0])
				if err != nil {
					return err
				}
				if showJSON {
					return writeJSON(cmd, resp)
				}
				renderJobDetail(cmd.OutOrStdout(), resp.Job, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output the job as JSON")

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", resp.Job.ID, strings.ToLower(statusLabel(resp.Job.Status)))
				return nil
			})
		},
	}

	var assumeYes bool
	interruptCmd := &cobra.Command{
		Use:   "interrupt",
		Short: "Interrupt whatever the generation server is running, including foreign jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !assumeYes {
				ok, err := confirm(cmd.InOrStdin(), out, "Interrupt the server's current generation, even if another client started it?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Interrupt aborted")
					return nil
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Interrupt()
				if err != nil {
					return err
				}
				if resp.LocalJob {
					fmt.Fprintln(out, "Interrupt sent; the running finisher job was cancelled")
				} else {
					fmt.Fprintln(out, "Interrupt sent")
				}
				return nil
			})
		},
	}
	interruptCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Stop starting new jobs; the running job finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Pause()
				if err != nil {
					return err
				}
				if resp.Changed {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue paused")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue already paused")
				}
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume starting queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resume()
				if err != nil {
					return err
				}
				if resp.Changed {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue resumed")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue was not paused")
				}
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearFinished()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d finished job(s)\n", resp.Removed)
				return nil
			})
		},
	}

	return []*cobra.Command{jobsCmd, showCmd, cancelCmd, interruptCmd, pauseCmd, resumeCmd, clearCmd}
}

func renderJobTable(jobs []api.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			statusLabel(job.Status),
			queuePositionLabel(job),
			formatProgress(job),
			jobLabel(job),
			job.Config.Upscaler,
			formatDurationMs(job.DurationMs),
		})
	}
	return renderRows([]column{
		leftCol("ID"), leftCol("Status"), rightCol("Pos"), rightCol("Progress"),
		leftCol("Image"), leftCol("Upscaler"), rightCol("Duration"),
	}, rows)
}

func renderJobDetail(out io.Writer, job api.Job, colorize bool) {
	printSection(out, "Job "+job.ID, colorize)
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), statusLabel(job.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Image", statusInfo, fmt.Sprintf("%s (%d bytes encoded)", jobLabel(job), job.ImageBytes), colorize))
	if job.BatchID != "" {
		fmt.Fprintln(out, renderStatusLine("Batch", statusInfo, job.BatchID, colorize))
	}
	if job.Position >= 0 {
		fmt.Fprintln(out, renderStatusLine("Queue position", statusInfo, queuePositionLabel(job), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, formatProgress(job), colorize))
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, formatTimestamp(job.CreatedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Started", statusInfo, formatTimestamp(job.StartedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, formatTimestamp(job.CompletedAt), colorize))
	if job.DurationMs > 0 {
		fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDurationMs(job.DurationMs), colorize))
	}
	if job.ErrorMessage != "" {
		detail := job.ErrorMessage
		if job.ErrorKind != "" {
			detail = "[" + job.ErrorKind + "] " + detail
		}
		fmt.Fprintln(out, renderStatusLine("Error", statusError, detail, colorize))
	}
	fmt.Fprintln(out)

	cfg := job.Config
	printSection(out, "Processing", colorize)
	fmt.Fprintln(out, renderStatusLine("Prompt", statusInfo, dashIfEmpty(cfg.Prompt), colorize))
	fmt.Fprintln(out, renderStatusLine("Negative prompt", statusInfo, dashIfEmpty(cfg.NegativePrompt), colorize))
	fmt.Fprintln(out, renderStatusLine("Upscaler", statusInfo, fmt.Sprintf("%s x%g", cfg.Upscaler, cfg.ScaleFactor), colorize))
	fmt.Fprintln(out, renderStatusLine("Sampler", statusInfo, fmt.Sprintf("%s / %s, %d steps, cfg %g", cfg.Sampler, dashIfEmpty(cfg.Scheduler), cfg.Steps, cfg.CFGScale), colorize))
	fmt.Fprintln(out, renderStatusLine("Denoising", statusInfo, fmt.Sprintf("%g (tile overlap %d)", cfg.DenoisingStrength, cfg.TileOverlap), colorize))
	fmt.Fprintln(out, renderStatusLine("Final pass", statusInfo, fmt.Sprintf("%s x%g", cfg.FinalUpscaler, cfg.FinalScale), colorize))
	for _, sub := range job.Substitutions {
		fmt.Fprintln(out, renderStatusLine("Substituted", statusWarn, fmt.Sprintf("%s %q -> %q", sub.Field, sub.Requested, sub.Used), colorize))
	}
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
