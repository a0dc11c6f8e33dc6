package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/services/reprocess"
	"github.com/ZoroCRE/cv-analyzer/internal/submission"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <cv-id>",
	Short: "Run one CV through the pipeline again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cvID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid cv id %q: %w", args[0], err)
		}

		e, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		broker, closeBroker, err := e.broker(ctx)
		if err != nil {
			return err
		}
		defer closeBroker()

		subs := repository.NewSubmissionRepository(e.db, e.logger)
		svc := reprocess.NewService(subs, repository.NewDocumentRepository(e.db, e.logger), e.producer(broker), submission.NewAggregator(subs, e.logger), e.logger)
		queued, err := svc.Reprocess(ctx, cvID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cv %d queued as job %s\n", cvID, queued.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reprocessCmd)
}
