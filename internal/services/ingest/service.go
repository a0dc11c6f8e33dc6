// Package ingest accepts a batch of CV files. It stores them, records the
// submission with its documents and queues one analysis job per document.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/entity"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
)

const (
	DefaultMaxFiles    = 100
	DefaultMaxFileSize = 10 << 20
)

// ErrNothingStored is returned when none of the files of a request could be stored.
var ErrNothingStored = errors.New("no file could be stored")

type Enqueuer interface {
	Submit(ctx context.Context, job async.Job) (async.Envelope, error)
}

type Resolver interface {
	Resolve(ctx context.Context, submissionID, cvID int64, outcome constants.DocumentStatus) (entity.Progress, error)
}

type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

type Request struct {
	UserID   uuid.UUID
	Title    string
	Keywords []string
	Files    []Upload
}

type Accepted struct {
	CVID     int64
	Filename string
	JobID    string // empty when the job could not be queued
	Err      string
}

type Rejected struct {
	Filename string
	Reason   string
}

type Result struct {
	SubmissionID int64
	Keywords     []string
	Accepted     []Accepted
	Rejected     []Rejected
}

type Options struct {
	MaxFiles    int
	MaxFileSize int64
}

type Service struct {
	store    storage.Storage
	subs     repository.SubmissionRepository
	docs     repository.DocumentRepository
	queue    Enqueuer
	resolver Resolver
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store storage.Storage, subs repository.SubmissionRepository, docs repository.DocumentRepository, queue Enqueuer, resolver Resolver, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	return &Service{
		store:    store,
		subs:     subs,
		docs:     docs,
		queue:    queue,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// NormalizeKeywords splits comma separated entries, trims them and drops blanks.
func NormalizeKeywords(in []string) []string {
	var out []string
	for _, k := range in {
		out = append(out, entity.SplitKeywords(k)...)
	}
	return out
}

// Submit stores the files and starts their analysis. Files that cannot be
// stored are reported in Rejected and do not count toward the submission.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	v := common.NewValidator()
	v.Field("user_id", req.UserID, common.Required)
	v.Field("files", len(req.Files), common.Positive)
	v.Field("title", req.Title, common.MaxLength(200))
	if err := v.Error(); err != nil {
		return nil, err
	}
	if len(req.Files) > s.opts.MaxFiles {
		return nil, fmt.Errorf("%w: at most %d files per submission", common.ErrValidation, s.opts.MaxFiles)
	}

	keywords := NormalizeKeywords(req.Keywords)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Submission on " + s.now().Format("2006-01-02")
	}

	sid, err := s.subs.Create(ctx, &entity.Submission{
		UserID:           req.UserID,
		Title:            title,
		KeywordsSnapshot: entity.JoinKeywords(keywords),
		TotalFiles:       len(req.Files),
	})
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	log := s.logger.With("submission_id", sid, "user_id", req.UserID)
	log.Info("ingest.submission.created", "files", len(req.Files), "keywords", len(keywords))

	res := &Result{SubmissionID: sid, Keywords: keywords}
	var (
		docs   []entity.CVAnalysis
		lastMS int64
	)
	for _, f := range req.Files {
		// keys must stay unique inside one batch even within the same millisecond
		ms := s.now().UnixMilli()
		if ms <= lastMS {
			ms = lastMS + 1
		}
		lastMS = ms
		key := fmt.Sprintf("%s/%d/%d_%s", req.UserID, sid, ms, SanitizeFilename(f.Name))

		if err := s.upload(ctx, key, f); err != nil {
			log.Error("ingest.upload.failed", "filename", f.Name, "error", err)
			res.Rejected = append(res.Rejected, Rejected{Filename: f.Name, Reason: err.Error()})
			continue
		}
		docs = append(docs, entity.CVAnalysis{UserID: req.UserID, OriginalFilename: f.Name, StoragePath: key})
	}

	ids, err := s.subs.AttachDocuments(ctx, sid, docs)
	if err != nil {
		return nil, fmt.Errorf("record documents: %w", err)
	}

	for i, id := range ids {
		acc := Accepted{CVID: id, Filename: docs[i].OriginalFilename}
		env, err := s.queue.Submit(ctx, async.Job{
			CVID:         id,
			UserID:       req.UserID,
			SubmissionID: sid,
			StoragePath:  docs[i].StoragePath,
			Keywords:     keywords,
		})
		if err != nil {
			acc.Err = err.Error()
			s.failUnqueued(ctx, log, sid, id, err)
		} else {
			acc.JobID = env.ID
		}
		res.Accepted = append(res.Accepted, acc)
	}

	log.Info("ingest.submission.accepted", "accepted", len(res.Accepted), "rejected", len(res.Rejected))
	if len(ids) == 0 {
		return res, ErrNothingStored
	}
	return res, nil
}

func (s *Service) upload(ctx context.Context, key string, f Upload) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.opts.MaxFileSize+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return fmt.Errorf("file larger than %d bytes", s.opts.MaxFileSize)
	}
	return s.store.Upload(ctx, key, bytes.NewReader(data))
}

// failUnqueued resolves a document whose job never reached the queue so the
// submission can still complete.
func (s *Service) failUnqueued(ctx context.Context, log *slog.Logger, sid, cvID int64, cause error) {
	log.Error("ingest.enqueue.failed", "cv_id", cvID, "error", cause)
	ctx = context.WithoutCancel(ctx)
	if err := s.docs.MarkFailed(ctx, cvID, "enqueue failed: "+cause.Error()); err != nil {
		log.Error("ingest.mark_failed.failed", "cv_id", cvID, "error", err)
		return
	}
	if _, err := s.resolver.Resolve(ctx, sid, cvID, constants.DocumentFailed); err != nil {
		log.Error("ingest.resolve.failed", "cv_id", cvID, "error", err)
	}
}
