// Package pipeline runs one CV through charge, extraction, AI analysis,
// scoring and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/entity"
	"github.com/ZoroCRE/cv-analyzer/internal/llm"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/retention"
	"github.com/ZoroCRE/cv-analyzer/internal/scoring"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
)

type CreditGate interface {
	ChargeOne(ctx context.Context, userID uuid.UUID, cvID int64, chargeKey string) (int, error)
}

// Extraction is the façade over storage, text extraction and the AI.
type Extraction interface {
	Fetch(ctx context.Context, path string) (*storage.Handle, error)
	ExtractText(ctx context.Context, h *storage.Handle) (string, error)
	Analyze(ctx context.Context, text string, keywords []string) (llm.Analysis, []byte, error)
}

type Resolver interface {
	Resolve(ctx context.Context, submissionID, cvID int64, outcome constants.DocumentStatus) (entity.Progress, error)
}

type Config struct {
	Weights   scoring.Weights
	Retention retention.Policy
}

type Processor struct {
	docs     repository.DocumentRepository
	credits  CreditGate
	extract  Extraction
	resolver Resolver
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewProcessor(docs repository.DocumentRepository, credits CreditGate, extract Extraction, resolver Resolver, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Weights == (scoring.Weights{}) {
		cfg.Weights = scoring.DefaultWeights
	}
	if cfg.Retention == (retention.Policy{}) {
		cfg.Retention = retention.DefaultPolicy
	}
	return &Processor{
		docs:     docs,
		credits:  credits,
		extract:  extract,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Process handles one delivery of a job. It returns nil when the document was
// resolved (processed or failed for good), a terminal error when the failure
// cannot be fixed by retrying, and any other error when another delivery
// should try again.
func (p *Processor) Process(ctx context.Context, d async.Delivery) (err error) {
	job := d.Job
	log := p.logger.With(
		"cv_id", job.CVID,
		"submission_id", job.SubmissionID,
		"job_id", d.JobID,
		"attempt", d.Attempt,
	)
	start := time.Now()

	var handle *storage.Handle
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline.panic", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
		if handle != nil {
			_ = handle.Release()
		}
		err = p.finish(ctx, d, err, log, start)
	}()

	if err := p.docs.MarkProcessing(ctx, job.CVID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	log.Info("pipeline.start", "path", job.StoragePath)

	if _, err := p.credits.ChargeOne(ctx, job.UserID, job.CVID, d.JobID); err != nil {
		return err
	}

	handle, err = p.extract.Fetch(ctx, job.StoragePath)
	if err != nil {
		return err
	}

	text, err := p.extract.ExtractText(ctx, handle)
	if err != nil {
		return err
	}
	log.Debug("pipeline.text.ok", "bytes", len(text))

	analysis, payload, err := p.extract.Analyze(ctx, text, job.Keywords)
	if err != nil {
		return err
	}

	scores := scoring.Score(text, analysis.NormalizedTokens, job.Keywords, p.cfg.Weights)
	keptText, keptPayload, retained := p.cfg.Retention.Apply(scores, text, payload)

	res := entity.AnalysisResult{
		CandidateName:  analysis.Name,
		CandidateEmail: analysis.FirstEmail(),
		CandidatePhone: analysis.FirstPhone(),
		TechnicalScore: scores.Technical,
		KeywordScore:   scores.Keyword,
		FinalScore:     scores.Final,
		ExtractedText:  keptText,
		AIAnalysisData: keptPayload,
		CompletedAt:    p.now(),
	}
	if retained {
		res.Experiences = analysis.Experiences
		res.Educations = analysis.Educations
		res.Skills = analysis.Skills
	}
	if err := p.docs.SaveResults(ctx, job.CVID, res); err != nil {
		return fmt.Errorf("save results: %w", err)
	}

	log.Info("pipeline.scored",
		"technical", scores.Technical,
		"keyword", scores.Keyword,
		"final", scores.Final,
		"retained", retained,
	)
	return nil
}

// finish records the outcome of an attempt. Writes here must happen even
// when the job context was cancelled or timed out.
func (p *Processor) finish(ctx context.Context, d async.Delivery, procErr error, log *slog.Logger, start time.Time) error {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	job := d.Job
	elapsed := time.Since(start).Milliseconds()

	if procErr == nil {
		if _, err := p.resolver.Resolve(bctx, job.SubmissionID, job.CVID, constants.DocumentProcessed); err != nil {
			log.Error("pipeline.resolve.failed", "error", err)
			return fmt.Errorf("resolve processed: %w", err)
		}
		log.Info("pipeline.done", "elapsed_ms", elapsed)
		return nil
	}

	terminal := common.IsTerminal(procErr)
	if !terminal && !d.Final() {
		log.Warn("pipeline.attempt.failed", "error", procErr, "elapsed_ms", elapsed)
		if err := p.docs.MarkPending(bctx, job.CVID); err != nil && !errors.Is(err, common.ErrNotFound) {
			log.Error("pipeline.mark_pending.failed", "error", err)
		}
		return procErr
	}

	log.Error("pipeline.failed", "error", procErr, "terminal", terminal, "elapsed_ms", elapsed)
	if err := p.docs.MarkFailed(bctx, job.CVID, procErr.Error()); err != nil {
		log.Error("pipeline.mark_failed.failed", "error", err)
		if errors.Is(err, common.ErrNotFound) {
			// the document is gone; nothing left to resolve
			return common.Terminal(procErr)
		}
		if d.Final() {
			return procErr
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	if _, err := p.resolver.Resolve(bctx, job.SubmissionID, job.CVID, constants.DocumentFailed); err != nil {
		log.Error("pipeline.resolve.failed", "error", err)
		if !d.Final() {
			return fmt.Errorf("resolve failed: %w", err)
		}
	}
	return common.Terminal(procErr)
}
