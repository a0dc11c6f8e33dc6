package constants

// DocumentStatus is the canonical status for rows in cv_analyses.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocumentPending    DocumentStatus = "pending"    // queued, or re-queued for another attempt
	DocumentProcessing DocumentStatus = "processing" // a worker owns it
	DocumentProcessed  DocumentStatus = "processed"  // terminal success
	DocumentFailed     DocumentStatus = "failed"     // terminal failure, see error_message
)

// Terminal reports whether s is an outcome the submission aggregator counts.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentProcessed || s == DocumentFailed
}

// SubmissionStatus is the canonical status for rows in submissions.
type SubmissionStatus string

const (
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionCompleted  SubmissionStatus = "completed"
)
