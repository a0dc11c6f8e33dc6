package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/llm"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
)

const DefaultMinTextLength = 50

var DefaultAIRetry = RetryConfig{MaxRetries: 2, Base: time.Second}

type Options struct {
	MinTextLength int
	AIRetry       RetryConfig
}

type Facade struct {
	fetcher  Fetcher
	text     TextExtractor
	analyzer llm.Analyzer
	opts     Options
	logger   *slog.Logger
}

func NewFacade(fetcher Fetcher, text TextExtractor, analyzer llm.Analyzer, opts Options, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = DefaultMinTextLength
	}
	if opts.AIRetry.Base <= 0 {
		opts.AIRetry = DefaultAIRetry
	}
	return &Facade{fetcher: fetcher, text: text, analyzer: analyzer, opts: opts, logger: logger}
}

// Fetch copies the stored CV to scratch. Storage failures are transient.
func (f *Facade) Fetch(ctx context.Context, path string) (*storage.Handle, error) {
	h, err := f.fetcher.Fetch(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch cv: %w", err)
	}
	return h, nil
}

// ExtractText returns the normalized text of the fetched file. An unsupported
// format, a failed extraction or too little text are terminal.
func (f *Facade) ExtractText(ctx context.Context, h *storage.Handle) (string, error) {
	res, err := f.text.Extract(ctx, h.Path)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		if errors.Is(err, common.ErrUnsupportedFormat) {
			return "", common.Terminal(err)
		}
		return "", common.Terminal(fmt.Errorf("%w: %w", common.ErrExtractionFailed, err))
	}

	text := strings.TrimSpace(res.Text)
	if n := utf8.RuneCountInString(text); n < f.opts.MinTextLength {
		f.logger.Info("extract.text.too_short", "key", h.Key, "runes", n, "min", f.opts.MinTextLength)
		return "", common.Terminal(fmt.Errorf("%w: %d characters", common.ErrInsufficientText, n))
	}
	return text, nil
}

// Analyze asks the AI for structured candidate data. Transport errors and
// invalid payloads are retried; once retries run out the failure is terminal.
func (f *Facade) Analyze(ctx context.Context, text string, keywords []string) (llm.Analysis, []byte, error) {
	type out struct {
		analysis llm.Analysis
		raw      []byte
	}
	req := llm.AnalyzeRequest{Text: text, Keywords: keywords}

	res := Retry(ctx, f.opts.AIRetry, func(ctx context.Context, attempt int) Result[out] {
		a, raw, err := f.analyzer.Analyze(ctx, req)
		if err == nil {
			return Ok(out{analysis: a, raw: raw})
		}
		f.logger.Warn("extract.ai.attempt_failed",
			"attempt", attempt+1,
			"max_attempts", f.opts.AIRetry.MaxRetries+1,
			"job_id", common.JobIDFromContext(ctx),
			"error", err,
		)
		return Retryable[out](err)
	})

	if res.Kind == KindRetryable {
		if ctx.Err() != nil {
			return llm.Analysis{}, nil, res.Err
		}
		res = Terminal[out](fmt.Errorf("ai analysis failed after %d attempts: %w", f.opts.AIRetry.MaxRetries+1, res.Err))
	}
	v, err := res.Unwrap()
	return v.analysis, v.raw, err
}
