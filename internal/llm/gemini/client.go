// Package gemini implements llm.Analyzer on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/llm"
)

const defaultModel = "gemini-2.5-flash"

// Config for the Gemini client.
type Config struct {
	APIKey            string
	Model             string        // default gemini-2.5-flash
	Temperature       float32       // 0..2
	Timeout           time.Duration // bound on one GenerateContent call
	RequestsPerSecond float64       // 0 = unlimited
}

// generator is the slice of genai.Models we use; swapped out in tests.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	cfg     Config
	models  generator
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a client for the Gemini API backend.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(cfg, gc.Models, logger), nil
}

func newClient(cfg Config, models generator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{cfg: cfg, models: models, log: logger}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Analyze implements llm.Analyzer with a single bounded GenerateContent call.
// Retrying is the caller's business.
func (c *Client) Analyze(ctx context.Context, req llm.AnalyzeRequest) (llm.Analysis, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.analyze.start",
		"req_id", rid,
		"job_id", common.JobIDFromContext(ctx),
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"keywords", len(req.Keywords),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return llm.Analysis{}, nil, fmt.Errorf("gemini rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	temperature := c.cfg.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}
	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(llm.BuildPrompt(req)), config)
	if err != nil {
		c.log.Error("llm.analyze.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Analysis{}, nil, fmt.Errorf("gemini generate content: %w", err)
	}

	content := responseText(resp)
	out, raw, err := llm.ParseAnalysis(content, c.log)
	if err != nil {
		c.log.Error("llm.analyze.schema_validation_failed",
			"req_id", rid, "error", err, "content_bytes", len(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Analysis{}, raw, err
	}

	c.log.Info("llm.analyze.ok",
		"req_id", rid,
		"skills", len(out.Skills),
		"experiences", len(out.Experiences),
		"tokens", len(out.NormalizedTokens),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, raw, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || strings.TrimSpace(part.Text) == "" {
				continue
			}
			b.WriteString(part.Text)
		}
		// first candidate with content wins
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
