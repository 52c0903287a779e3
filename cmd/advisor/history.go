package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			history, err := client.ListMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(history) == 0 {
				fmt.Fprintln(out, "(no messages)")
				return nil
			}
			for _, m := range history {
				fmt.Fprintf(out, "[%s] %-9s %s\n", m.CreatedAt.Local().Format(time.DateTime), m.Role, m.Content)
			}
			return nil
		},
	}
}
