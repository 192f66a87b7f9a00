package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shuttle/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and active session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
}

func printStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Running", statusOK, fmt.Sprintf("pid %d since %s", status.PID, formatTimestamp(status.StartedAt)), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Running", statusError, "daemon is stopped", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Sessions DB", statusInfo, status.SessionDBPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock", statusInfo, status.LockPath, colorize))

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Active session", colorize))
	if status.Active == nil {
		fmt.Fprintln(out, renderStatusLine("Session", statusInfo, "idle", colorize))
	} else {
		sess := status.Active
		fmt.Fprintln(out, renderStatusLine("Session", phaseKind(sess.Phase), fmt.Sprintf("%s (%s)", shortID(sess.ID), sess.Phase), colorize))
		fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, sessionProgress(sess), colorize))
		fmt.Fprintln(out, renderStatusLine("Source", statusInfo, truncatePath(sess.SourcePath, 60), colorize))
		fmt.Fprintln(out, renderStatusLine("Output", statusInfo, truncatePath(sess.OutputPath, 60), colorize))
		if sess.ChunkCount > 0 {
			detail := fmt.Sprintf("%d chunks, %s frames", sess.ChunkCount, formatFrames(sess.TotalFrames))
			if sess.UseParallel {
				detail += fmt.Sprintf(", %d workers", sess.WorkerCount)
			}
			fmt.Fprintln(out, renderStatusLine("Plan", statusInfo, detail, colorize))
		}
	}

	if len(status.Workers) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSectionHeader("Workers", colorize))
		rows := make([][]string, 0, len(status.Workers))
		for _, worker := range status.Workers {
			alive := "dead"
			if worker.Alive {
				alive = "alive"
			}
			rows = append(rows, []string{
				worker.Name,
				strconv.Itoa(worker.PID),
				alive,
				strconv.Itoa(worker.Restarts),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"NAME", "PID", "STATE", "RESTARTS"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight},
		))
	}
}
