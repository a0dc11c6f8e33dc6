package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/entity"
)

type SubmissionRepository interface {
	Create(ctx context.Context, s *entity.Submission) (int64, error)
	AttachDocuments(ctx context.Context, submissionID int64, docs []entity.CVAnalysis) ([]int64, error)
	Get(ctx context.Context, id int64) (*entity.Submission, error)
	RecordResolution(ctx context.Context, submissionID, cvID int64, outcome constants.DocumentStatus) (entity.Progress, error)
	ReopenDocument(ctx context.Context, cvID int64) (*entity.CVAnalysis, *entity.Submission, error)
}

type submissionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewSubmissionRepository(db *DB, logger *slog.Logger) SubmissionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &submissionRepository{db: db, logger: logger}
}

const submissionColumns = `id, user_id, title, keywords_snapshot, total_files, processed_files, failed_files, status`

func scanSubmission(row rowScanner) (*entity.Submission, error) {
	var (
		s      entity.Submission
		status string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.KeywordsSnapshot, &s.TotalFiles, &s.ProcessedFiles, &s.FailedFiles, &status); err != nil {
		return nil, err
	}
	s.Status = constants.SubmissionStatus(status)
	return &s, nil
}

// Create inserts a submission in the processing state with the counters at zero.
func (r *submissionRepository) Create(ctx context.Context, s *entity.Submission) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO submissions (user_id, title, keywords_snapshot, total_files, status) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		s.UserID, s.Title, s.KeywordsSnapshot, s.TotalFiles, string(constants.SubmissionProcessing),
	).Scan(&id)
	if err != nil {
		r.logger.Error("failed to create submission", "user_id", s.UserID, "error", err)
		return 0, err
	}
	s.ID = id
	s.Status = constants.SubmissionProcessing
	return id, nil
}

// AttachDocuments inserts the pending documents of a submission and sets
// total_files to their count, in one transaction. A submission left with no
// documents is completed straight away.
func (r *submissionRepository) AttachDocuments(ctx context.Context, submissionID int64, docs []entity.CVAnalysis) ([]int64, error) {
	ids := make([]int64, 0, len(docs))
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range docs {
			var id int64
			err := tx.QueryRowContext(ctx,
				`INSERT INTO cv_analyses (submission_id, user_id, original_filename, storage_path, status) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				submissionID, d.UserID, d.OriginalFilename, d.StoragePath, string(constants.DocumentPending),
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("insert cv analysis %q: %w", d.OriginalFilename, err)
			}
			ids = append(ids, id)
		}
		status := constants.SubmissionProcessing
		if len(docs) == 0 {
			status = constants.SubmissionCompleted
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE submissions SET total_files = $1, status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`,
			len(docs), string(status), submissionID)
		if err != nil {
			return err
		}
		return expectOne(res, "submission", submissionID)
	})
	if err != nil {
		r.logger.Error("failed to attach documents", "submission_id", submissionID, "error", err)
		return nil, err
	}
	return ids, nil
}

func (r *submissionRepository) Get(ctx context.Context, id int64) (*entity.Submission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %d: %w", id, common.ErrNotFound)
	}
	return s, err
}

// RecordResolution counts one document outcome against its submission.
//
// The document's resolved_as column is claimed first; a second signal for the
// same document finds it set and changes nothing. The counter increment and
// the completion flip happen in a single UPDATE so concurrent resolutions of
// sibling documents cannot both observe the last slot.
func (r *submissionRepository) RecordResolution(ctx context.Context, submissionID, cvID int64, outcome constants.DocumentStatus) (entity.Progress, error) {
	if !outcome.Terminal() {
		return entity.Progress{}, fmt.Errorf("%w: outcome %q is not terminal", common.ErrInvalidInput, outcome)
	}
	var processed, failed int
	if outcome == constants.DocumentProcessed {
		processed = 1
	} else {
		failed = 1
	}

	p := entity.Progress{SubmissionID: submissionID}
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		claim, err := tx.ExecContext(ctx,
			`UPDATE cv_analyses SET resolved_as = $1 WHERE id = $2 AND submission_id = $3 AND resolved_as IS NULL`,
			string(outcome), cvID, submissionID)
		if err != nil {
			return err
		}
		n, err := claim.RowsAffected()
		if err != nil {
			return err
		}

		var status string
		if n == 0 {
			// already counted (or not part of this submission)
			err = tx.QueryRowContext(ctx,
				`SELECT processed_files, failed_files, total_files, status FROM submissions WHERE id = $1`, submissionID,
			).Scan(&p.ProcessedFiles, &p.FailedFiles, &p.TotalFiles, &status)
		} else {
			err = tx.QueryRowContext(ctx, `UPDATE submissions SET
				processed_files = processed_files + $1,
				failed_files = failed_files + $2,
				status = CASE WHEN processed_files + failed_files + $1 + $2 >= total_files THEN 'completed' ELSE status END,
				updated_at = CURRENT_TIMESTAMP
				WHERE id = $3
				RETURNING processed_files, failed_files, total_files, status`,
				processed, failed, submissionID,
			).Scan(&p.ProcessedFiles, &p.FailedFiles, &p.TotalFiles, &status)
			if err == nil {
				p.JustCompleted = p.ProcessedFiles+p.FailedFiles == p.TotalFiles
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("submission %d: %w", submissionID, common.ErrNotFound)
		}
		p.Status = constants.SubmissionStatus(status)
		return err
	})
	if err != nil {
		r.logger.Error("failed to record resolution", "submission_id", submissionID, "cv_id", cvID, "error", err)
		return entity.Progress{}, err
	}
	return p, nil
}

// ReopenDocument puts a document back to pending for another run. If an
// earlier run was already counted, that count is taken back and the
// submission returns to processing, so the next resolution is counted again.
func (r *submissionRepository) ReopenDocument(ctx context.Context, cvID int64) (*entity.CVAnalysis, *entity.Submission, error) {
	var (
		cv  *entity.CVAnalysis
		sub *entity.Submission
	)
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		cv, err = scanCV(tx.QueryRowContext(ctx, `SELECT `+cvColumns+` FROM cv_analyses WHERE id = $1`+r.db.forUpdate(), cvID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cv analysis %d: %w", cvID, common.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE cv_analyses SET status = $1, error_message = NULL, resolved_as = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
			string(constants.DocumentPending), cvID); err != nil {
			return err
		}

		var processed, failed int
		if cv.ResolvedAs != nil {
			switch *cv.ResolvedAs {
			case constants.DocumentProcessed:
				processed = 1
			case constants.DocumentFailed:
				failed = 1
			}
		}
		sub, err = scanSubmission(tx.QueryRowContext(ctx, `UPDATE submissions SET
			processed_files = processed_files - $1,
			failed_files = failed_files - $2,
			status = $3,
			updated_at = CURRENT_TIMESTAMP
			WHERE id = $4
			RETURNING `+submissionColumns,
			processed, failed, string(constants.SubmissionProcessing), cv.SubmissionID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("submission %d: %w", cv.SubmissionID, common.ErrNotFound)
		}
		return err
	})
	if err != nil {
		r.logger.Error("failed to reopen cv analysis", "cv_id", cvID, "error", err)
		return nil, nil, err
	}
	cv.Status = constants.DocumentPending
	cv.ErrorMessage = nil
	cv.ResolvedAs = nil
	return cv, sub, nil
}
