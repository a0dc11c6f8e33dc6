package llm

import (
	"context"

	"github.com/ZoroCRE/cv-analyzer/internal/entity"
)

// Analysis is the structured candidate data we want from the model.
type Analysis struct {
	Name             *string             `json:"name"`
	Emails           []string            `json:"emails"`
	Phones           []string            `json:"phones"`
	Skills           []string            `json:"skills"`
	Experiences      []entity.Experience `json:"experiences"`
	Educations       []entity.Education  `json:"educations"`
	NormalizedTokens []string            `json:"normalized_tokens"`
	Notes            *string             `json:"notes,omitempty"`
}

// FirstEmail returns the first email, or nil when there is none.
func (a Analysis) FirstEmail() *string { return first(a.Emails) }

// FirstPhone returns the first phone number, or nil when there is none.
func (a Analysis) FirstPhone() *string { return first(a.Phones) }

func first(xs []string) *string {
	if len(xs) == 0 {
		return nil
	}
	v := xs[0]
	return &v
}

type AnalyzeRequest struct {
	Text     string
	Keywords []string
}

// Analyzer is the interface the extraction façade depends on. Implementations
// return the validated payload and its canonical JSON. A payload that does not
// match the schema is reported with common.ErrInvalidPayload.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, []byte /*rawJSON*/, error)
}
