package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shuttle/internal/ipc"
)

const followPollInterval = time.Second

func newExportCommand(ctx *commandContext) *cobra.Command {
	var frames int
	var fps float64
	var width int
	var height int
	var rendererArgs []string
	var serialDecode bool
	var maxWorkers int
	var follow bool

	cmd := &cobra.Command{
		Use:   "export SOURCE OUTPUT",
		Short: "Start exporting a timeline to a video file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if frames < 1 {
				return errors.New("--frames must be at least 1")
			}
			if fps <= 0 {
				return errors.New("--fps must be positive")
			}

			if maxWorkers < 0 {
				return errors.New("--max-workers cannot be negative")
			}

			req := ipc.StartExportRequest{
				SourcePath:        strings.TrimSpace(args[0]),
				OutputPath:        strings.TrimSpace(args[1]),
				TotalFrames:       frames,
				FPS:               fps,
				Width:             width,
				Height:            height,
				ExtraArgs:         rendererArgs,
				ForceSerialDecode: serialDecode,
				MaxWorkers:        maxWorkers,
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartExport(req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Export started: %s\n", resp.SessionID)
				if !follow {
					fmt.Fprintf(out, "Track it with `shuttle status` or `shuttle sessions show %s`\n", shortID(resp.SessionID))
					return nil
				}
				return followSession(cmd, client, resp.SessionID)
			})
		},
	}

	cmd.Flags().IntVar(&frames, "frames", 0, "Total frame count of the timeline")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Timeline frame rate")
	cmd.Flags().IntVar(&width, "width", 1920, "Frame width in pixels")
	cmd.Flags().IntVar(&height, "height", 1080, "Frame height in pixels")
	cmd.Flags().StringArrayVar(&rendererArgs, "renderer-arg", nil, "Extra argument passed to the renderer (repeatable)")
	cmd.Flags().BoolVar(&serialDecode, "serial-decode", false, "Force single-threaded decoding for codecs that are unsafe to decode concurrently")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Upper bound on parallel render workers (0 leaves the planner's choice)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stay attached and print progress until the export settles")
	_ = cmd.MarkFlagRequired("frames")
	_ = cmd.MarkFlagRequired("fps")

	return cmd
}

// followSession polls the session until it reaches a terminal phase, printing
// progress transitions as they happen.
func followSession(cmd *cobra.Command, client *ipc.Client, id string) error {
	out := cmd.OutOrStdout()
	var lastLine string
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(followPollInterval):
		}

		resp, err := client.SessionDescribe(id)
		if err != nil {
			return err
		}
		sess := resp.Session

		line := joinNonEmpty([]string{
			formatPercent(sess.ProgressPercent),
			sess.ProgressStage,
			sess.ProgressMessage,
		}, "  ")
		if line != lastLine {
			fmt.Fprintln(out, line)
			lastLine = line
		}

		switch sess.Phase {
		case "succeeded":
			fmt.Fprintf(out, "Export complete: %s\n", sess.OutputPath)
			return nil
		case "cancelled":
			fmt.Fprintln(out, "Export cancelled")
			return nil
		case "failed":
			return fmt.Errorf("export failed: %s", sessionError(&sess))
		}
	}
}
