package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/services/ingest"
	"github.com/ZoroCRE/cv-analyzer/internal/submission"
)

var submitCmd = &cobra.Command{
	Use:   "submit --user <uuid> [--keywords go,sql] <file-or-dir>...",
	Short: "Upload CV files as one submission and queue them for analysis",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().String("user", "", "owner of the submission (uuid)")
	submitCmd.Flags().String("title", "", "submission title")
	submitCmd.Flags().StringSlice("keywords", nil, "keywords to score against, comma separated")
	submitCmd.Flags().Bool("include-hidden", false, "also take hidden files when walking directories")
	_ = submitCmd.MarkFlagRequired("user")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userFlag, _ := cmd.Flags().GetString("user")
	userID, err := uuid.Parse(userFlag)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	title, _ := cmd.Flags().GetString("title")
	keywords, _ := cmd.Flags().GetStringSlice("keywords")
	hidden, _ := cmd.Flags().GetBool("include-hidden")

	files, err := ingest.LocalFiles(args, !hidden)
	if err != nil {
		return err
	}

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.storage()
	if err != nil {
		return err
	}
	broker, closeBroker, err := e.broker(ctx)
	if err != nil {
		return err
	}
	defer closeBroker()

	subs := repository.NewSubmissionRepository(e.db, e.logger)
	docs := repository.NewDocumentRepository(e.db, e.logger)
	svc := ingest.NewService(store, subs, docs, e.producer(broker), submission.NewAggregator(subs, e.logger), ingest.Options{}, e.logger)

	res, err := svc.Submit(ctx, ingest.Request{UserID: userID, Title: title, Keywords: keywords, Files: files})
	if res != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "submission %d\n", res.SubmissionID)
		for _, a := range res.Accepted {
			if a.Err != "" {
				fmt.Fprintf(out, "  cv %d  %s  not queued: %s\n", a.CVID, a.Filename, a.Err)
				continue
			}
			fmt.Fprintf(out, "  cv %d  %s  job %s\n", a.CVID, a.Filename, a.JobID)
		}
		for _, r := range res.Rejected {
			fmt.Fprintf(out, "  rejected  %s: %s\n", r.Filename, r.Reason)
		}
	}
	return err
}
