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

type DocumentRepository interface {
	Get(ctx context.Context, id int64) (*entity.CVAnalysis, error)
	ListBySubmission(ctx context.Context, submissionID int64) ([]entity.CVAnalysis, error)
	Skills(ctx context.Context, cvID int64) ([]string, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkPending(ctx context.Context, id int64) error
	SaveResults(ctx context.Context, id int64, res entity.AnalysisResult) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type documentRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepository{db: db, logger: logger}
}

const cvColumns = `id, submission_id, user_id, original_filename, storage_path, status, error_message,
	technical_score, keyword_score, final_score, candidate_name, candidate_email, candidate_phone,
	extracted_text, ai_analysis_data, resolved_as, analysis_completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCV(row rowScanner) (*entity.CVAnalysis, error) {
	var (
		cv                                   entity.CVAnalysis
		status                               string
		errMsg, name, email, phone, text, ai sql.NullString
		resolved                             sql.NullString
		technical, keyword, final            sql.NullInt64
		completedAt                          nullTime
	)
	err := row.Scan(&cv.ID, &cv.SubmissionID, &cv.UserID, &cv.OriginalFilename, &cv.StoragePath, &status, &errMsg,
		&technical, &keyword, &final, &name, &email, &phone,
		&text, &ai, &resolved, &completedAt)
	if err != nil {
		return nil, err
	}
	cv.Status = constants.DocumentStatus(status)
	cv.ErrorMessage = strPtr(errMsg)
	cv.TechnicalScore = intPtr(technical)
	cv.KeywordScore = intPtr(keyword)
	cv.FinalScore = intPtr(final)
	cv.CandidateName = strPtr(name)
	cv.CandidateEmail = strPtr(email)
	cv.CandidatePhone = strPtr(phone)
	cv.ExtractedText = strPtr(text)
	if ai.Valid {
		cv.AIAnalysisData = []byte(ai.String)
	}
	if resolved.Valid {
		r := constants.DocumentStatus(resolved.String)
		cv.ResolvedAs = &r
	}
	cv.AnalysisCompletedAt = completedAt.ptr()
	return &cv, nil
}

func (r *documentRepository) Get(ctx context.Context, id int64) (*entity.CVAnalysis, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cvColumns+` FROM cv_analyses WHERE id = $1`, id)
	cv, err := scanCV(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cv analysis %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get cv analysis", "cv_id", id, "error", err)
		return nil, err
	}
	return cv, nil
}

func (r *documentRepository) ListBySubmission(ctx context.Context, submissionID int64) ([]entity.CVAnalysis, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+cvColumns+` FROM cv_analyses WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		r.logger.Error("failed to list cv analyses", "submission_id", submissionID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.CVAnalysis
	for rows.Next() {
		cv, err := scanCV(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cv)
	}
	return out, rows.Err()
}

func (r *documentRepository) Skills(ctx context.Context, cvID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM skills WHERE cv_id = $1 ORDER BY id`, cvID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *documentRepository) setStatus(ctx context.Context, id int64, status constants.DocumentStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cv_analyses SET status = $1, error_message = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		string(status), id)
	if err != nil {
		r.logger.Error("failed to update cv status", "cv_id", id, "status", status, "error", err)
		return err
	}
	return expectOne(res, "cv analysis", id)
}

func (r *documentRepository) MarkProcessing(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, constants.DocumentProcessing)
}

func (r *documentRepository) MarkPending(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, constants.DocumentPending)
}

// SaveResults writes one successful run in a single transaction: the document
// row moves to processed and the sub-entities of any previous run are replaced.
func (r *documentRepository) SaveResults(ctx context.Context, id int64, res entity.AnalysisResult) error {
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.ExecContext(ctx, `UPDATE cv_analyses SET
			status = $1, error_message = NULL,
			technical_score = $2, keyword_score = $3, final_score = $4,
			candidate_name = $5, candidate_email = $6, candidate_phone = $7,
			extracted_text = $8, ai_analysis_data = $9,
			analysis_completed_at = $10, updated_at = CURRENT_TIMESTAMP
			WHERE id = $11`,
			string(constants.DocumentProcessed),
			res.TechnicalScore, res.KeywordScore, res.FinalScore,
			nullable(res.CandidateName), nullable(res.CandidateEmail), nullable(res.CandidatePhone),
			nullable(res.ExtractedText), nullJSON(res.AIAnalysisData),
			res.CompletedAt.UTC(), id,
		)
		if err != nil {
			return err
		}
		if err := expectOne(out, "cv analysis", id); err != nil {
			return err
		}
		if err := deleteChildren(ctx, tx, id); err != nil {
			return err
		}
		if !res.Retained() {
			return nil
		}
		return insertChildren(ctx, tx, id, res)
	})
	if err != nil {
		r.logger.Error("failed to save cv results", "cv_id", id, "error", err)
		return err
	}
	return nil
}

// MarkFailed records a terminal failure and clears anything a previous run stored.
func (r *documentRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.ExecContext(ctx, `UPDATE cv_analyses SET
			status = $1, error_message = $2,
			technical_score = NULL, keyword_score = NULL, final_score = NULL,
			candidate_name = NULL, candidate_email = NULL, candidate_phone = NULL,
			extracted_text = NULL, ai_analysis_data = NULL,
			analysis_completed_at = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE id = $3`,
			string(constants.DocumentFailed), reason, id,
		)
		if err != nil {
			return err
		}
		if err := expectOne(out, "cv analysis", id); err != nil {
			return err
		}
		return deleteChildren(ctx, tx, id)
	})
	if err != nil {
		r.logger.Error("failed to mark cv failed", "cv_id", id, "error", err)
		return err
	}
	return nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, cvID int64) error {
	for _, table := range []string{"experiences", "educations", "skills"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE cv_id = $1`, cvID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, cvID int64, res entity.AnalysisResult) error {
	for _, e := range res.Experiences {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO experiences (cv_id, title, company, start_date, end_date, description) VALUES ($1, $2, $3, $4, $5, $6)`,
			cvID, nullable(e.Title), nullable(e.Company), nullable(e.StartDate), nullable(e.EndDate), nullable(e.Description)); err != nil {
			return fmt.Errorf("insert experience: %w", err)
		}
	}
	for _, e := range res.Educations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO educations (cv_id, institution, degree, start_date, end_date) VALUES ($1, $2, $3, $4, $5)`,
			cvID, nullable(e.Institution), nullable(e.Degree), nullable(e.StartDate), nullable(e.EndDate)); err != nil {
			return fmt.Errorf("insert education: %w", err)
		}
	}
	for _, s := range res.Skills {
		if _, err := tx.ExecContext(ctx, `INSERT INTO skills (cv_id, name) VALUES ($1, $2)`, cvID, s); err != nil {
			return fmt.Errorf("insert skill: %w", err)
		}
	}
	return nil
}

func expectOne(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, common.ErrNotFound)
	}
	return nil
}
