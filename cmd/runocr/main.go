package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/ocr"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <path-to-cv>")
		os.Exit(2)
	}
	path := os.Args[1]

	cfg, err := common.LoadConfig(os.Getenv("CV_ANALYZER_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	x := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		MaxPages:      cfg.OCR.MaxPages,
		MaxOutput:     cfg.OCR.MaxOutput,
	}, logger)

	res, err := x.Extract(ctx, path)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err)
		os.Exit(1)
	}

	logger.Info("text extraction OK",
		"format", res.Format,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len([]rune(res.Text)),
		"warnings", res.Warnings,
		"duration_ms", res.Duration.Milliseconds(),
	)
	fmt.Println(res.Text)
}
