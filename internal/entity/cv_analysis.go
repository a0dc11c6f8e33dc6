package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/constants"
)

// CVAnalysis represents a cv_analyses row for data transfer between layers.
type CVAnalysis struct {
	ID                  int64                     `json:"id"`
	SubmissionID        int64                     `json:"submission_id"`
	UserID              uuid.UUID                 `json:"user_id"`
	OriginalFilename    string                    `json:"original_filename"`
	StoragePath         string                    `json:"storage_path"`
	Status              constants.DocumentStatus  `json:"status"`
	ErrorMessage        *string                   `json:"error_message,omitempty"`
	TechnicalScore      *int                      `json:"technical_score,omitempty"`
	KeywordScore        *int                      `json:"keyword_score,omitempty"`
	FinalScore          *int                      `json:"final_score,omitempty"`
	CandidateName       *string                   `json:"candidate_name,omitempty"`
	CandidateEmail      *string                   `json:"candidate_email,omitempty"`
	CandidatePhone      *string                   `json:"candidate_phone,omitempty"`
	ExtractedText       *string                   `json:"extracted_text,omitempty"`
	AIAnalysisData      json.RawMessage           `json:"ai_analysis_data,omitempty"`
	ResolvedAs          *constants.DocumentStatus `json:"resolved_as,omitempty"`
	AnalysisCompletedAt *time.Time                `json:"analysis_completed_at,omitempty"`
}

// AnalysisResult is everything one successful run writes onto a document.
// ExtractedText and AIAnalysisData are nil when retention declined them.
type AnalysisResult struct {
	CandidateName  *string
	CandidateEmail *string
	CandidatePhone *string
	TechnicalScore int
	KeywordScore   int
	FinalScore     int
	ExtractedText  *string
	AIAnalysisData json.RawMessage
	Experiences    []Experience
	Educations     []Education
	Skills         []string
	CompletedAt    time.Time
}

// Retained reports whether raw content is being kept for this result.
func (r AnalysisResult) Retained() bool {
	return r.ExtractedText != nil || r.AIAnalysisData != nil
}
