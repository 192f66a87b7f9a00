package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shuttle/internal/ipc"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent export sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionList(limit)
				if err != nil {
					return err
				}
				printSessionList(cmd, resp.Sessions)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list")

	cmd.AddCommand(newSessionsShowCommand(ctx))
	cmd.AddCommand(newSessionsClearCommand(ctx))
	return cmd
}

func newSessionsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished sessions from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished session(s)\n", resp.Removed)
				return nil
			})
		},
	}
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show one export session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionDescribe(args[0])
				if err != nil {
					return err
				}
				printSessionDetail(cmd, &resp.Session)
				return nil
			})
		},
	}
}

func printSessionList(cmd *cobra.Command, sessions []ipc.Session) {
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No export sessions recorded")
		return
	}

	rows := make([][]string, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		rows = append(rows, []string{
			shortID(sess.ID),
			sess.Phase,
			sessionProgress(sess),
			formatFrames(sess.TotalFrames),
			formatTimestamp(sess.CreatedAt),
			truncatePath(sess.OutputPath, 40),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "PHASE", "PROGRESS", "FRAMES", "CREATED", "OUTPUT"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func printSessionDetail(cmd *cobra.Command, sess *ipc.Session) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader("Session "+shortID(sess.ID), colorize))
	fmt.Fprintln(out, renderStatusLine("Phase", phaseKind(sess.Phase), sess.Phase, colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, sessionProgress(sess), colorize))
	fmt.Fprintln(out, renderStatusLine("Source", statusInfo, sess.SourcePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Output", statusInfo, sess.OutputPath, colorize))
	if sess.ChunkCount > 0 {
		fmt.Fprintln(out, renderStatusLine("Chunks", statusInfo, fmt.Sprintf("%d", sess.ChunkCount), colorize))
		fmt.Fprintln(out, renderStatusLine("Frames", statusInfo, formatFrames(sess.TotalFrames), colorize))
		fmt.Fprintln(out, renderStatusLine("Parallel", statusInfo, yesNo(sess.UseParallel), colorize))
		if sess.UseParallel {
			fmt.Fprintln(out, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d", sess.WorkerCount), colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Concurrency", statusInfo, fmt.Sprintf("%d", sess.Concurrency), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, formatTimestamp(sess.CreatedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Updated", statusInfo, formatTimestamp(sess.UpdatedAt), colorize))
	if sess.CompletedAt != nil {
		fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, formatTimestamp(*sess.CompletedAt), colorize))
	}
	if message := sessionError(sess); message != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, message, colorize))
	}
}
