package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ZoroCRE/cv-analyzer/internal/export"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

var exportCmd = &cobra.Command{
	Use:   "export <submission-id>",
	Short: "Write the results of a submission to an XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid submission id %q: %w", args[0], err)
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("submission-%d.xlsx", sid)
		}

		e, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		svc := export.NewService(repository.NewSubmissionRepository(e.db, e.logger), repository.NewDocumentRepository(e.db, e.logger), e.logger)
		data, err := svc.SubmissionXLSX(ctx, sid)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("out", "o", "", "output path (default submission-<id>.xlsx)")
}
