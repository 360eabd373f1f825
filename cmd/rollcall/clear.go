package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/auth"
)

func newClearCmd(c *cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every participant and the event details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "This removes the whole roster. Type 'yes' to continue: ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					return fmt.Errorf("aborted")
				}
			}

			service, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer service.Close()

			removed := service.Summary().Total
			service.Clear()
			if err := flush(ctx, service); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d participants removed\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api key>",
		Short: "Print the bcrypt hash to set as ROLLCALL_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
