package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/llm"
	"github.com/ZoroCRE/cv-analyzer/internal/llm/gemini"
	"github.com/ZoroCRE/cv-analyzer/internal/ocr"
	"github.com/ZoroCRE/cv-analyzer/internal/retention"
	"github.com/ZoroCRE/cv-analyzer/internal/scoring"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llm <cv-text-file> [keywords] [times]")
		os.Exit(2)
	}
	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Error("read text file", "path", os.Args[1], "error", err)
		os.Exit(2)
	}
	var keywords []string
	if len(os.Args) >= 3 {
		keywords = strings.Split(os.Args[2], ",")
	}
	times := 1
	if len(os.Args) >= 4 {
		if n, err := strconv.Atoi(os.Args[3]); err == nil && n > 0 {
			times = n
		}
	}

	cfg, err := common.LoadConfig(os.Getenv("CV_ANALYZER_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.LLM.APIKey == "" {
		logger.Error("GEMINI_API_KEY env var is required")
		os.Exit(2)
	}

	ctx := context.Background()
	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	if err != nil {
		logger.Error("create gemini client", "error", err)
		os.Exit(1)
	}

	text := ocr.Normalize(string(raw))
	weights := scoring.Weights{Technical: cfg.Scoring.WeightTechnical, Keyword: cfg.Scoring.WeightKeyword}
	policy := retention.Policy{FinalThreshold: cfg.Retention.FinalScoreThreshold, KeywordThreshold: cfg.Retention.KeywordScoreThreshold}

	// same text, several calls: useful to eyeball how stable the model output is
	for i := 1; i <= times; i++ {
		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		start := time.Now()
		analysis, payload, err := client.Analyze(runCtx, llm.AnalyzeRequest{Text: text, Keywords: keywords})
		cancel()
		if err != nil {
			logger.Error("llm.run.error", "iter", i, "error", err)
			continue
		}

		scores := scoring.Score(text, analysis.NormalizedTokens, keywords, weights)
		logger.Info("llm.run.ok",
			"iter", i,
			"model", client.Model(),
			"technical", scores.Technical,
			"keyword", scores.Keyword,
			"final", scores.Final,
			"retained", policy.Retain(scores),
			"skills", len(analysis.Skills),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if i == times {
			var pretty json.RawMessage = payload
			out, _ := json.MarshalIndent(pretty, "", "  ")
			os.Stdout.Write(append(out, '\n'))
		}
	}
}
