// Package retention decides whether raw CV content is kept after scoring.
package retention

import "github.com/ZoroCRE/cv-analyzer/internal/scoring"

// Policy retains raw content when either threshold is met.
type Policy struct {
	FinalThreshold   int
	KeywordThreshold int
}

// DefaultPolicy keeps content for final >= 70 or keyword >= 60.
var DefaultPolicy = Policy{FinalThreshold: 70, KeywordThreshold: 60}

// Retain reports whether the extracted text and AI payload should be stored.
func (p Policy) Retain(s scoring.Scores) bool {
	return s.Final >= p.FinalThreshold || s.Keyword >= p.KeywordThreshold
}

// Apply returns text and payload unchanged when retained, nil otherwise.
// Callers write the nils explicitly so earlier content is overwritten.
func (p Policy) Apply(s scoring.Scores, text string, payload []byte) (*string, []byte, bool) {
	if !p.Retain(s) {
		return nil, nil, false
	}
	return &text, payload, true
}
