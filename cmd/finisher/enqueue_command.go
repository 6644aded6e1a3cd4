package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"finisher/internal/api"
	"finisher/internal/config"
	"finisher/internal/ipc"
)

type enqueueFlags struct {
	description string
	overrides   api.ProcessingConfig
	explicit    []string
	jsonOutput  bool
}

// numericFlagKeys maps numeric override flags to processing config keys. A
// flag set on the command line is sent as explicit so that 0 is not read as
// "use the default".
var numericFlagKeys = map[string]string{
	"scale":        "scale_factor",
	"denoise":      "denoising_strength",
	"tile-overlap": "tile_overlap",
	"steps":        "steps",
	"cfg":          "cfg_scale",
	"width":        "width",
	"height":       "height",
	"final-scale":  "final_scale",
}

func explicitOverrides(fs *pflag.FlagSet) []string {
	var keys []string
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := numericFlagKeys[f.Name]; ok {
			keys = append(keys, key)
		}
	})
	return keys
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var flags enqueueFlags
	cmd := &cobra.Command{
		Use:   "enqueue <image>...",
		Short: "Queue images for two-pass upscaling",
		Long: "Queue one or more image files. Several files are queued as one batch: either\n" +
			"every file is accepted or none is. Unset flags fall back to the daemon's\n" +
			"[processing] defaults.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.explicit = explicitOverrides(cmd.Flags())
			requests := make([]ipc.EnqueueRequest, 0, len(args))
			for _, arg := range args {
				req, err := buildEnqueueRequest(arg, flags)
				if err != nil {
					return err
				}
				requests = append(requests, req)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if len(requests) == 1 {
					resp, err := client.Enqueue(requests[0])
					if err != nil {
						return err
					}
					if flags.jsonOutput {
						return writeJSON(cmd, resp)
					}
					fmt.Fprintf(out, "Queued %s as %s (position %d)\n", requests[0].Description, resp.ID, resp.Position+1)
					return nil
				}

				resp, err := client.EnqueueBatch(requests)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(out, "Queued batch %s with %d image(s)\n", resp.BatchID, len(resp.IDs))
				for i, id := range resp.IDs {
					fmt.Fprintf(out, "  %s  %s\n", id, requests[i].Description)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.description, "description", "", "Label for the job (defaults to the file name)")
	f.StringVar(&flags.overrides.Prompt, "prompt", "", "Positive prompt for pass 1")
	f.StringVar(&flags.overrides.NegativePrompt, "negative", "", "Negative prompt for pass 1")
	f.StringVar(&flags.overrides.Upscaler, "upscaler", "", "Pass 1 upscaler name")
	f.Float64Var(&flags.overrides.ScaleFactor, "scale", 0, "Pass 1 scale factor")
	f.Float64Var(&flags.overrides.DenoisingStrength, "denoise", 0, "Pass 1 denoising strength (0-1)")
	f.IntVar(&flags.overrides.TileOverlap, "tile-overlap", 0, "Tile overlap in pixels")
	f.IntVar(&flags.overrides.Steps, "steps", 0, "Sampling steps")
	f.StringVar(&flags.overrides.Sampler, "sampler", "", "Sampler name")
	f.StringVar(&flags.overrides.Scheduler, "scheduler", "", "Scheduler name")
	f.Float64Var(&flags.overrides.CFGScale, "cfg", 0, "CFG scale")
	f.IntVar(&flags.overrides.Width, "width", 0, "Tile width")
	f.IntVar(&flags.overrides.Height, "height", 0, "Tile height")
	f.Float64Var(&flags.overrides.FinalScale, "final-scale", 0, "Pass 2 resize factor")
	f.StringVar(&flags.overrides.FinalUpscaler, "final-upscaler", "", "Pass 2 upscaler name")
	f.BoolVar(&flags.jsonOutput, "json", false, "Output the enqueue result as JSON")
	return cmd
}

// buildEnqueueRequest reads an image file and base64-encodes it. Files that
// already hold base64 text (.b64, .txt) are passed through unchanged.
func buildEnqueueRequest(arg string, flags enqueueFlags) (ipc.EnqueueRequest, error) {
	path, err := config.ExpandPath(strings.TrimSpace(arg))
	if err != nil {
		return ipc.EnqueueRequest{}, fmt.Errorf("resolve %q: %w", arg, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return ipc.EnqueueRequest{}, fmt.Errorf("inspect %q: %w", path, err)
	}
	if info.IsDir() {
		return ipc.EnqueueRequest{}, fmt.Errorf("%s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ipc.EnqueueRequest{}, fmt.Errorf("read %q: %w", path, err)
	}

	var encoded string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".b64", ".txt":
		encoded = strings.TrimSpace(string(data))
		if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
			return ipc.EnqueueRequest{}, fmt.Errorf("%s does not contain base64 image data: %w", path, err)
		}
	default:
		mtype := mimetype.Detect(data)
		if !mimetype.EqualsAny(mtype.String(), "image/png", "image/jpeg") {
			return ipc.EnqueueRequest{}, fmt.Errorf("%s is not a png or jpeg image (detected %s)", path, mtype.String())
		}
		encoded = base64.StdEncoding.EncodeToString(data)
	}

	description := strings.TrimSpace(flags.description)
	if description == "" {
		description = filepath.Base(path)
	}
	return ipc.EnqueueRequest{
		Image:       encoded,
		Description: description,
		Overrides:   flags.overrides,
		Explicit:    flags.explicit,
	}, nil
}
