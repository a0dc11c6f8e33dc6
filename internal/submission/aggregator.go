// Package submission tracks batch progress as documents resolve.
package submission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/entity"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

type Aggregator struct {
	repo   repository.SubmissionRepository
	logger *slog.Logger
}

func NewAggregator(repo repository.SubmissionRepository, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{repo: repo, logger: logger}
}

// Resolve counts a document's final outcome against its submission. Signals
// repeated for the same document are absorbed; JustCompleted is reported to
// exactly one caller per completion.
func (a *Aggregator) Resolve(ctx context.Context, submissionID, cvID int64, outcome constants.DocumentStatus) (entity.Progress, error) {
	p, err := a.repo.RecordResolution(ctx, submissionID, cvID, outcome)
	if err != nil {
		return entity.Progress{}, fmt.Errorf("resolve cv %d: %w", cvID, err)
	}
	a.logger.Debug("submission.progress",
		"submission_id", submissionID,
		"cv_id", cvID,
		"outcome", outcome,
		"processed", p.ProcessedFiles,
		"failed", p.FailedFiles,
		"total", p.TotalFiles,
	)
	if p.JustCompleted {
		a.logger.Info("submission.completed",
			"submission_id", submissionID,
			"processed", p.ProcessedFiles,
			"failed", p.FailedFiles,
			"total", p.TotalFiles,
		)
	}
	return p, nil
}
