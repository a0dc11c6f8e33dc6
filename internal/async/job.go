package async

import (
	"time"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

// Job asks a worker to analyze one stored CV.
type Job struct {
	CVID         int64     `json:"cvId"`
	UserID       uuid.UUID `json:"userId"`
	SubmissionID int64     `json:"submissionId"`
	StoragePath  string    `json:"storagePath"`
	Keywords     []string  `json:"keywords"`
}

func (j Job) Validate() error {
	v := common.NewValidator()
	v.Field("cvId", j.CVID, common.Positive)
	v.Field("submissionId", j.SubmissionID, common.Positive)
	v.Field("userId", j.UserID, common.Required)
	v.Field("storagePath", j.StoragePath, common.Required)
	return v.Error()
}

// Envelope is what the broker stores: the job plus delivery bookkeeping.
type Envelope struct {
	ID          string     `json:"id"`
	Job         Job        `json:"job"`
	Attempts    int        `json:"attempts"` // attempts already made
	MaxAttempts int        `json:"maxAttempts"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	LastError   string     `json:"lastError,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

func NewEnvelope(job Job, maxAttempts int) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		Job:         job,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Delivery is one attempt at a job as seen by a handler.
type Delivery struct {
	JobID       string
	Job         Job
	Attempt     int // 1-based
	MaxAttempts int
}

// Final reports whether a transient failure of this attempt will not be retried.
func (d Delivery) Final() bool {
	return d.Attempt >= d.MaxAttempts
}
