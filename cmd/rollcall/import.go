package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newImportCmd(c *cli) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file.xlsx|file.xls>",
		Short: "Import participants from a spreadsheet (name, entity columns after a header row)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open spreadsheet: %w", err)
			}
			defer file.Close()
			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat spreadsheet: %w", err)
			}

			service, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer service.Close()

			staged, err := service.StageFile(file, info.Name(), info.Size())
			if err != nil {
				return err
			}
			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "NAME\tENTITY")
			for _, candidate := range staged {
				fmt.Fprintf(out, "%s\t%s\n", candidate.Name, candidate.Entity)
			}
			_ = out.Flush()

			if dryRun {
				service.CancelImport()
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows staged (dry run, nothing imported)\n", len(staged))
				return nil
			}
			added := service.ConfirmImport()
			if err := flush(ctx, service); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows imported\n", added, len(staged))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the preview without importing")
	return cmd
}
