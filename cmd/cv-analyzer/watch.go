package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/services/ingest"
	"github.com/ZoroCRE/cv-analyzer/internal/submission"
)

var watchCmd = &cobra.Command{
	Use:   "watch --user <uuid> [--keywords go,sql] <dir>...",
	Short: "Submit CV files dropped into directories, one submission per burst",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("user", "", "owner of the submissions (uuid)")
	watchCmd.Flags().StringSlice("keywords", nil, "keywords to score against, comma separated")
	watchCmd.Flags().Duration("debounce", 2*time.Second, "quiet period that closes a batch")
	watchCmd.Flags().Bool("initial-scan", false, "submit files already present at start")
	_ = watchCmd.MarkFlagRequired("user")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userFlag, _ := cmd.Flags().GetString("user")
	userID, err := uuid.Parse(userFlag)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	keywords, _ := cmd.Flags().GetStringSlice("keywords")
	debounce, _ := cmd.Flags().GetDuration("debounce")
	initial, _ := cmd.Flags().GetBool("initial-scan")

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

	batches, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       args,
		InitialScan: initial,
		Debounce:    debounce,
		SkipHidden:  true,
	}, e.logger)
	if err != nil {
		return err
	}
	e.logger.Info("watch.started", "roots", args, "debounce", debounce)

	for batch := range batches {
		// a burst larger than one submission allows is split
		for len(batch) > 0 {
			n := min(len(batch), ingest.DefaultMaxFiles)
			files, err := ingest.LocalFiles(batch[:n], true)
			batch = batch[n:]
			if err != nil {
				e.logger.Warn("watch.batch.skipped", "error", err)
				continue
			}
			res, err := svc.Submit(ctx, ingest.Request{
				UserID:   userID,
				Title:    "Drop-in " + time.Now().Format("2006-01-02 15:04"),
				Keywords: keywords,
				Files:    files,
			})
			if err != nil && !errors.Is(err, ingest.ErrNothingStored) {
				e.logger.Error("watch.submit.failed", "files", len(files), "error", err)
				continue
			}
			e.logger.Info("watch.submitted", "submission_id", res.SubmissionID, "accepted", len(res.Accepted), "rejected", len(res.Rejected))
		}
	}
	return nil
}
