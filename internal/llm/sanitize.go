package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

var (
	topLevelKeys = []string{"name", "emails", "phones", "skills", "experiences", "educations", "normalized_tokens", "notes"}
	stringLists  = []string{"emails", "phones", "skills", "normalized_tokens"}
	objectLists  = map[string][]string{
		"experiences": {"title", "company", "start_date", "end_date", "description"},
		"educations":  {"institution", "degree", "start_date", "end_date"},
	}
)

// StripCodeFences removes the markdown fences models like to wrap JSON in.
func StripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// NormalizeAndSanitizeJSON
// - Removes unknown keys at the top level and inside experience/education entries
// - Turns null lists into empty lists
// - Fills missing nullable keys of experience/education entries with null
// - Trims list strings and drops blank ones
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var changed []string
	for k := range maps.Clone(m) {
		if !slices.Contains(topLevelKeys, k) {
			delete(m, k)
			changed = append(changed, k+"(unknown)")
		}
	}

	for _, k := range stringLists {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case nil:
			m[k] = []any{}
			changed = append(changed, k+"(null)")
		case []any:
			kept := make([]any, 0, len(t))
			for _, item := range t {
				if s, ok := item.(string); ok {
					s = strings.TrimSpace(s)
					if s == "" {
						changed = append(changed, k+"(blank)")
						continue
					}
					kept = append(kept, s)
					continue
				}
				kept = append(kept, item)
			}
			m[k] = kept
		}
	}

	for k, fields := range objectLists {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case nil:
			m[k] = []any{}
			changed = append(changed, k+"(null)")
		case []any:
			for _, item := range t {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				for f := range maps.Clone(obj) {
					if !slices.Contains(fields, f) {
						delete(obj, f)
						changed = append(changed, k+"."+f+"(unknown)")
					}
				}
				for _, f := range fields {
					if _, ok := obj[f]; !ok {
						obj[f] = nil
					}
				}
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changed) > 0 {
		logger.Warn("llm.analyze.normalize_sanitize", "changed", changed)
	}
	return out, changed, nil
}

// ParseAnalysis turns a raw model answer into a validated Analysis. Every
// failure wraps common.ErrInvalidPayload.
func ParseAnalysis(content string, logger *slog.Logger) (Analysis, []byte, error) {
	cleaned := StripCodeFences(content)
	if cleaned == "" {
		return Analysis{}, nil, fmt.Errorf("%w: empty response", common.ErrInvalidPayload)
	}
	doc, _, err := NormalizeAndSanitizeJSON([]byte(cleaned), logger)
	if err != nil {
		return Analysis{}, []byte(cleaned), fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	if err := ValidateAnalysis(doc); err != nil {
		return Analysis{}, doc, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	var out Analysis
	if err := json.Unmarshal(doc, &out); err != nil {
		return Analysis{}, doc, fmt.Errorf("%w: unmarshal analysis: %v", common.ErrInvalidPayload, err)
	}
	return out, doc, nil
}
