package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shuttle/internal/ipc"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [SESSION_ID]",
		Short: "Cancel the active export session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.CancelExport(id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cancellation requested")
				return nil
			})
		},
	}
}
