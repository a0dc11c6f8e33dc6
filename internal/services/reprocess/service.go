// Package reprocess runs one document through the pipeline again.
package reprocess

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/entity"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

type Enqueuer interface {
	Submit(ctx context.Context, job async.Job) (async.Envelope, error)
}

type Resolver interface {
	Resolve(ctx context.Context, submissionID, cvID int64, outcome constants.DocumentStatus) (entity.Progress, error)
}

type Service struct {
	subs     repository.SubmissionRepository
	docs     repository.DocumentRepository
	queue    Enqueuer
	resolver Resolver
	logger   *slog.Logger
}

func NewService(subs repository.SubmissionRepository, docs repository.DocumentRepository, queue Enqueuer, resolver Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{subs: subs, docs: docs, queue: queue, resolver: resolver, logger: logger}
}

// Reprocess reopens the document and queues a fresh job for it. The keywords
// come from the submission's snapshot, not from any later edit of the list.
// The new job has its own id, so the run is charged again.
func (s *Service) Reprocess(ctx context.Context, cvID int64) (async.Envelope, error) {
	if cvID <= 0 {
		return async.Envelope{}, fmt.Errorf("%w: cv id must be positive", common.ErrValidation)
	}

	cv, sub, err := s.subs.ReopenDocument(ctx, cvID)
	if err != nil {
		return async.Envelope{}, fmt.Errorf("reopen cv %d: %w", cvID, err)
	}
	log := s.logger.With("cv_id", cvID, "submission_id", sub.ID)

	env, err := s.queue.Submit(ctx, async.Job{
		CVID:         cv.ID,
		UserID:       cv.UserID,
		SubmissionID: sub.ID,
		StoragePath:  cv.StoragePath,
		Keywords:     sub.Keywords(),
	})
	if err != nil {
		log.Error("reprocess.enqueue.failed", "error", err)
		s.abandon(ctx, log, sub.ID, cvID, err)
		return async.Envelope{}, err
	}

	log.Info("reprocess.queued", "job_id", env.ID, "keywords", len(env.Job.Keywords))
	return env, nil
}

func (s *Service) abandon(ctx context.Context, log *slog.Logger, sid, cvID int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.docs.MarkFailed(ctx, cvID, "enqueue failed: "+cause.Error()); err != nil {
		log.Error("reprocess.mark_failed.failed", "error", err)
		return
	}
	if _, err := s.resolver.Resolve(ctx, sid, cvID, constants.DocumentFailed); err != nil {
		log.Error("reprocess.resolve.failed", "error", err)
	}
}
