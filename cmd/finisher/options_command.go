package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"finisher/internal/ipc"
)

func newOptionsCommand(ctx *commandContext) *cobra.Command {
	var refresh bool
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "options",
		Short: "List the upscalers, samplers, schedulers, and models the server offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Options(refresh)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if resp.RefreshedAt == "" {
					fmt.Fprintln(out, "Options have not been loaded yet; run `finisher options --refresh`")
					return nil
				}
				fmt.Fprintf(out, "Refreshed %s\n\n", formatTimestamp(resp.RefreshedAt))
				sections := []struct {
					title string
					names []string
				}{
					{"Upscalers", resp.Upscalers},
					{"Samplers", resp.Samplers},
					{"Schedulers", resp.Schedulers},
					{"Models", resp.Models},
				}
				for _, section := range sections {
					printSection(out, section.title, colorize)
					if len(section.names) == 0 {
						fmt.Fprintln(out, statusIndent+"(none reported)")
					}
					for _, name := range section.names {
						fmt.Fprintln(out, statusIndent+strings.TrimSpace(name))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Query the server again before listing")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output options as JSON")
	return cmd
}
