package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/export"
)

func newShareCmd(c *cli) *cobra.Command {
	var (
		base     string
		jsonPath string
	)

	cmd := &cobra.Command{
		Use:   "share",
		Short: "Print a link carrying the roster, or write the shareable JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer service.Close()

			if jsonPath != "" {
				result, err := service.Export(ctx, export.FormatJSON)
				if err != nil {
					return err
				}
				if err := os.WriteFile(jsonPath, result.Data, 0o644); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", jsonPath)
				return nil
			}

			link, err := service.ShareURL(base)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "http://localhost:8787/", "Base URL the roster is attached to")
	cmd.Flags().StringVar(&jsonPath, "json", "", "Write the shareable JSON file to this path instead")
	return cmd
}

func newLoadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.json|url>",
		Short: "Replace the roster with a shared JSON file or link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer service.Close()

			var loaded app.LoadResult
			if source := args[0]; strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
				loaded, err = service.LoadSharedURL(source)
			} else {
				var data []byte
				data, err = os.ReadFile(source)
				if err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				loaded, err = service.LoadShared(data)
			}
			if err != nil {
				return err
			}
			if err := flush(ctx, service); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d participants loaded, %d invalid entries dropped\n", loaded.Participants, loaded.Dropped)
			return nil
		},
	}
}
