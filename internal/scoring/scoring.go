// Package scoring computes the technical, keyword and final ATS scores of a CV.
// Everything here is pure: no I/O, no clock, no randomness.
package scoring

import (
	"math"
	"regexp"
	"strings"
)

// MaxScore caps every score produced by this package.
const MaxScore = 100

var (
	reEmail   = regexp.MustCompile(`(?i)[\w.-]+@[\w.-]+\.\w+`)
	rePhone   = regexp.MustCompile(`(\+?\d{1,3})?[\s-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	reMetrics = regexp.MustCompile(`(?i)(\d+%|\$\d+|€\d+|\d+\s?years)`)

	rePunct = regexp.MustCompile("[.,/#!$%^&*;:{}=\\-_`~()]")
	reSpace = regexp.MustCompile(`\s+`)
)

var actionVerbs = []string{"managed", "led", "developed", "created", "implemented", "increased", "reduced", "achieved"}

// signal is one additive structural heuristic of the technical score.
type signal struct {
	name   string
	points int
	match  func(raw, lower string) bool
}

var signals = []signal{
	{"contact", 20, func(_, l string) bool { return reEmail.MatchString(l) && rePhone.MatchString(l) }},
	{"experience_section", 15, containsAny("experience", "work history", "employment")},
	{"education_section", 15, containsAny("education", "academic")},
	{"skills_section", 20, containsAny("skills", "technologies", "competencies")},
	{"metrics", 10, func(r, _ string) bool { return reMetrics.MatchString(r) }},
	{"bullets", 10, func(r, _ string) bool {
		return strings.Contains(r, "•") || strings.Contains(r, "* ") || strings.Contains(r, "- ")
	}},
	{"action_verbs", 10, containsAny(actionVerbs...)},
}

func containsAny(needles ...string) func(raw, lower string) bool {
	return func(_, lower string) bool {
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

// TechnicalScore scores the structure of the raw CV text, 0..100.
func TechnicalScore(text string) int {
	score, _ := TechnicalSignals(text)
	return score
}

// TechnicalSignals returns the technical score with the names of the signals that fired.
func TechnicalSignals(text string) (int, []string) {
	lower := strings.ToLower(text)
	score := 0
	var fired []string
	for _, s := range signals {
		if s.match(text, lower) {
			score += s.points
			fired = append(fired, s.name)
		}
	}
	return min(score, MaxScore), fired
}

// NormalizeToken lowercases, strips punctuation and collapses whitespace.
func NormalizeToken(token string) string {
	token = strings.ToLower(token)
	token = rePunct.ReplaceAllString(token, "")
	token = reSpace.ReplaceAllString(token, " ")
	return strings.TrimSpace(token)
}

// KeywordScore is the share of unique normalized keywords contained in the
// normalized token corpus, 0..100. An empty keyword set scores 0.
func KeywordScore(tokens, keywords []string) int {
	seen := make(map[string]struct{}, len(keywords))
	unique := make([]string, 0, len(keywords))
	for _, k := range keywords {
		n := NormalizeToken(k)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
	}
	if len(unique) == 0 {
		return 0
	}

	normalized := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if n := NormalizeToken(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	corpus := strings.Join(normalized, " ")

	matched := 0
	for _, k := range unique {
		if strings.Contains(corpus, k) {
			matched++
		}
	}
	return int(math.Round(float64(matched) / float64(len(unique)) * 100))
}

// Weights are applied as given; they are not renormalized to sum to 1.
type Weights struct {
	Technical float64
	Keyword   float64
}

// DefaultWeights are 0.4 technical and 0.6 keyword.
var DefaultWeights = Weights{Technical: 0.4, Keyword: 0.6}

// FinalScore is round(technical*w.Technical + keyword*w.Keyword).
func FinalScore(technical, keyword int, w Weights) int {
	return int(math.Round(float64(technical)*w.Technical + float64(keyword)*w.Keyword))
}

// Scores groups the three scores of one document.
type Scores struct {
	Technical int
	Keyword   int
	Final     int
}

// Score runs all three scorers.
func Score(text string, tokens, keywords []string, w Weights) Scores {
	t := TechnicalScore(text)
	k := KeywordScore(tokens, keywords)
	return Scores{Technical: t, Keyword: k, Final: FinalScore(t, k, w)}
}
