package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rollcall/internal/export"
)

func newReportCmd(c *cli) *cobra.Command {
	var pdfPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the attendance report, or write it as PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer service.Close()

			if pdfPath == "" {
				result, err := service.Export(ctx, export.FormatText)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(result.Data)
				return err
			}

			result, err := service.Export(ctx, export.FormatPDF)
			if err != nil {
				return err
			}
			if err := os.WriteFile(pdfPath, result.Data, 0o644); err != nil {
				return fmt.Errorf("write pdf: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", pdfPath, len(result.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "Write the report as PDF to this path")
	return cmd
}
