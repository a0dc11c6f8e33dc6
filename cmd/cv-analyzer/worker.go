package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/credits"
	"github.com/ZoroCRE/cv-analyzer/internal/extract"
	"github.com/ZoroCRE/cv-analyzer/internal/llm/gemini"
	"github.com/ZoroCRE/cv-analyzer/internal/ocr"
	"github.com/ZoroCRE/cv-analyzer/internal/pipeline"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/retention"
	"github.com/ZoroCRE/cv-analyzer/internal/scoring"
	"github.com/ZoroCRE/cv-analyzer/internal/server"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
	"github.com/ZoroCRE/cv-analyzer/internal/submission"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume CV jobs from the queue until interrupted",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Bool("migrate", false, "create missing tables before starting")
	workerCmd.Flags().Duration("drain-timeout", 2*time.Minute, "how long to wait for in-flight jobs on shutdown")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	cfg, logger := e.cfg, e.logger

	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := e.db.Migrate(ctx); err != nil {
			return err
		}
	}

	store, err := e.storage()
	if err != nil {
		return err
	}
	analyzer, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	if err != nil {
		return err
	}
	text := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		MaxPages:      cfg.OCR.MaxPages,
		MaxOutput:     cfg.OCR.MaxOutput,
	}, logger)
	facade := extract.NewFacade(storage.NewScratch(store, cfg.Storage.ScratchDir, logger), text, analyzer, extract.Options{
		MinTextLength: cfg.Credits.MinTextLength,
		AIRetry:       extract.RetryConfig{MaxRetries: cfg.LLM.MaxRetries, Base: cfg.LLM.RetryBase},
	}, logger)

	subs := repository.NewSubmissionRepository(e.db, logger)
	proc := pipeline.NewProcessor(
		repository.NewDocumentRepository(e.db, logger),
		credits.NewGate(repository.NewCreditRepository(e.db, logger), cfg.Credits.CostPerCV, logger),
		facade,
		submission.NewAggregator(subs, logger),
		pipeline.Config{
			Weights: scoring.Weights{Technical: cfg.Scoring.WeightTechnical, Keyword: cfg.Scoring.WeightKeyword},
			Retention: retention.Policy{
				FinalThreshold:   cfg.Retention.FinalScoreThreshold,
				KeywordThreshold: cfg.Retention.KeywordScoreThreshold,
			},
		},
		logger,
	)

	broker, closeBroker, err := e.broker(ctx)
	if err != nil {
		return err
	}
	defer closeBroker()

	disp := async.NewDispatcher(broker, proc, logger,
		async.WithConcurrency(cfg.Queue.Concurrency),
		async.WithProcessTimeout(cfg.Queue.JobTimeout),
		async.WithRetryPolicy(async.RetryPolicy{MaxAttempts: cfg.Queue.MaxAttempts, Base: cfg.Queue.Backoff}),
		async.WithPollTimeout(cfg.Queue.PollTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(gctx) })
	if addr := cfg.Server.HealthAddr; addr != "" {
		hs := server.NewHealthServer(map[string]server.Check{
			"database": server.DatabaseCheck(e.db, 2*time.Second, logger),
			"broker":   server.BrokerCheck(broker, 2*time.Second),
		}, 10*time.Second, logger)
		g.Go(func() error { return hs.Serve(gctx, addr) })
	}
	g.Go(func() error {
		<-gctx.Done()
		drain, _ := cmd.Flags().GetDuration("drain-timeout")
		sctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		disp.Shutdown(sctx)
		return nil
	})

	logger.Info("worker.started", "worker_id", cfg.Queue.WorkerID, "queue", cfg.Queue.Name, "model", analyzer.Model())
	err = g.Wait()
	logger.Info("worker.stopped")
	return err
}
