package entity

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/constants"
)

// Submission represents a batch of CVs sharing keywords and a title.
type Submission struct {
	ID               int64                      `json:"id"`
	UserID           uuid.UUID                  `json:"user_id"`
	Title            string                     `json:"title"`
	KeywordsSnapshot string                     `json:"keywords_snapshot"`
	TotalFiles       int                        `json:"total_files"`
	ProcessedFiles   int                        `json:"processed_files"`
	FailedFiles      int                        `json:"failed_files"`
	Status           constants.SubmissionStatus `json:"status"`
}

// Keywords re-derives the keyword list from the snapshot taken at upload time.
// Edits made to a keyword list after the upload are not visible here.
func (s Submission) Keywords() []string {
	return SplitKeywords(s.KeywordsSnapshot)
}

// JoinKeywords builds a keywords snapshot.
func JoinKeywords(keywords []string) string {
	return strings.Join(keywords, ", ")
}

// SplitKeywords splits a snapshot on commas and trims each entry, dropping blanks.
func SplitKeywords(snapshot string) []string {
	var out []string
	for _, k := range strings.Split(snapshot, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Progress is a submission's counters right after a resolution was recorded.
// JustCompleted is true for the one resolution that made the counters reach
// TotalFiles.
type Progress struct {
	SubmissionID   int64
	ProcessedFiles int
	FailedFiles    int
	TotalFiles     int
	Status         constants.SubmissionStatus
	JustCompleted  bool
}
