package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ZoroCRE/cv-analyzer/internal/entity"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

const (
	candidatesSheet = "Candidates"
	summarySheet    = "Submission"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	subs   repository.SubmissionRepository
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewService(subs repository.SubmissionRepository, docs repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{subs: subs, docs: docs, logger: logger}
}

// SubmissionXLSX returns a workbook with one row per document of the
// submission, best final score first, plus a sheet with the batch counters.
func (s *Service) SubmissionXLSX(ctx context.Context, submissionID int64) ([]byte, error) {
	start := time.Now()

	sub, err := s.subs.Get(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	cvs, err := s.docs.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	rankCVs(cvs)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", candidatesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Rank",
		"File",
		"Status",
		"Candidate Name",
		"Email",
		"Phone",
		"Technical Score",
		"Keyword Score",
		"Final Score",
		"Skills",
		"Error",
		"Completed At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(candidatesSheet, cell, h)
	}

	for i, cv := range cvs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(candidatesSheet, cell, v)
		}

		skills, err := s.docs.Skills(ctx, cv.ID)
		if err != nil {
			return nil, fmt.Errorf("query skills of cv %d: %w", cv.ID, err)
		}

		write(1, i+1)
		write(2, cv.OriginalFilename)
		write(3, string(cv.Status))
		write(4, deref(cv.CandidateName))
		write(5, deref(cv.CandidateEmail))
		write(6, deref(cv.CandidatePhone))
		writeScore(write, 7, cv.TechnicalScore)
		writeScore(write, 8, cv.KeywordScore)
		writeScore(write, 9, cv.FinalScore)
		write(10, truncate(strings.Join(skills, ", "), 250))
		write(11, truncate(deref(cv.ErrorMessage), 250))
		if cv.AnalysisCompletedAt != nil {
			write(12, cv.AnalysisCompletedAt.UTC().Format(time.RFC3339))
		}
	}

	_ = f.SetColWidth(candidatesSheet, "B", "B", 32) // file
	_ = f.SetColWidth(candidatesSheet, "D", "F", 26) // contact
	_ = f.SetColWidth(candidatesSheet, "G", "I", 14) // scores
	_ = f.SetColWidth(candidatesSheet, "J", "K", 48)
	_ = f.SetColWidth(candidatesSheet, "L", "L", 22)

	summary := [][2]any{
		{"Submission", sub.ID},
		{"Title", sub.Title},
		{"Keywords", sub.KeywordsSnapshot},
		{"Status", string(sub.Status)},
		{"Total Files", sub.TotalFiles},
		{"Processed", sub.ProcessedFiles},
		{"Failed", sub.FailedFiles},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 14)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"submission_id", submissionID,
		"rows", len(cvs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// rankCVs orders scored documents by final score, highest first. Unscored
// documents keep their upload order at the end.
func rankCVs(cvs []entity.CVAnalysis) {
	sort.SliceStable(cvs, func(i, j int) bool {
		a, b := cvs[i].FinalScore, cvs[j].FinalScore
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

func writeScore(write func(int, any), col int, v *int) {
	if v != nil {
		write(col, *v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
