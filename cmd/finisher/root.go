package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	root := &cobra.Command{
		Use:   "finisher",
		Short: "Two-pass upscaling queue for Automatic1111 servers",
		Long: "finisher queues images for a two-pass upscale (img2img, then extra-single-image) " +
			"on an Automatic1111 server. A background daemon owns the queue; these commands talk to it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags.bind(root)

	root.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "queue", Title: "Queue:"},
		&cobra.Group{ID: "inspect", Title: "Inspect:"},
	)
	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			root.AddCommand(c)
		}
	}
	add("daemon", append(newDaemonCommands(ctx), newDaemonRunCommand(ctx), newConfigCommand(ctx), newTestNotifyCommand(ctx))...)
	add("queue", append([]*cobra.Command{newEnqueueCommand(ctx)}, newJobCommands(ctx)...)...)
	add("inspect", newWatchCommand(ctx), newLogsCommand(ctx), newOptionsCommand(ctx), newHistoryCommand(ctx))
	return root
}
