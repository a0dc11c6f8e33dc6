package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTechnicalScoreSignals(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "email without phone", text: "jane@example.com", want: 0},
		{name: "contact", text: "jane@example.com +1 555 123 4567", want: 20},
		{name: "experience upper case", text: "EXPERIENCE", want: 15},
		{name: "work history", text: "Work History", want: 15},
		{name: "education", text: "Academic background", want: 15},
		{name: "skills", text: "Core competencies", want: 20},
		{name: "percentage", text: "Grew revenue 30%", want: 10},
		{name: "years case insensitive", text: "5 YEARS in retail", want: 10},
		{name: "dollar amount", text: "Budget $5000", want: 10},
		{name: "bullet glyph", text: "• Python", want: 10},
		{name: "dash bullet", text: "- Python", want: 10},
		{name: "action verb", text: "Managed a team", want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TechnicalScore(tt.text))
		})
	}
}

func TestTechnicalScoreFullCV(t *testing.T) {
	cv := strings.Join([]string{
		"Jane Doe",
		"jane.doe@example.com | (555) 123-4567",
		"Work Experience",
		"• Developed billing services, cutting costs by 20%",
		"Education",
		"BSc Computer Science",
		"Skills",
		"- Go, Postgres, Redis",
	}, "\n")

	score, fired := TechnicalSignals(cv)
	assert.Equal(t, 100, score)
	assert.ElementsMatch(t, []string{
		"contact", "experience_section", "education_section", "skills_section",
		"metrics", "bullets", "action_verbs",
	}, fired)
}

func TestTechnicalScoreMonotone(t *testing.T) {
	snippets := []string{
		"jane@example.com 555-123-4567",
		"Employment",
		"Education",
		"Technologies",
		"3 years",
		"• item",
		"achieved targets",
	}
	prev := TechnicalScore("")
	text := ""
	for _, s := range snippets {
		text += "\n" + s
		got := TechnicalScore(text)
		assert.GreaterOrEqual(t, got, prev, "adding %q lowered the score", s)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, MaxScore)
		prev = got
	}
	assert.Equal(t, 100, prev)
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "cicd", NormalizeToken("CI/CD"))
	assert.Equal(t, "machine learning", NormalizeToken("  Machine \t  Learning. "))
	assert.Equal(t, "nodejs", NormalizeToken("Node.js"))
	assert.Equal(t, "c++", NormalizeToken("C++"))
	assert.Equal(t, "", NormalizeToken("--"))
}

func TestKeywordScore(t *testing.T) {
	tokens := []string{"golang", "Kubernetes", "ci/cd", "machine learning"}

	tests := []struct {
		name     string
		tokens   []string
		keywords []string
		want     int
	}{
		{name: "no keywords", tokens: tokens, keywords: nil, want: 0},
		{name: "only blank keywords", tokens: tokens, keywords: []string{" ", "--"}, want: 0},
		{name: "no tokens", tokens: nil, keywords: []string{"go"}, want: 0},
		{name: "substring containment", tokens: tokens, keywords: []string{"Go", "Kubernetes", "CI/CD", "Rust"}, want: 75},
		{name: "duplicates collapse", tokens: tokens, keywords: []string{"Go", "go", "GO."}, want: 100},
		{name: "multi word", tokens: tokens, keywords: []string{"Machine   Learning"}, want: 100},
		{name: "round down", tokens: tokens, keywords: []string{"go", "rust", "java"}, want: 33},
		{name: "round up", tokens: tokens, keywords: []string{"go", "kubernetes", "java"}, want: 67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeywordScore(tt.tokens, tt.keywords)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, MaxScore)
		})
	}
}

func TestFinalScore(t *testing.T) {
	assert.Equal(t, 62, FinalScore(80, 50, DefaultWeights))
	assert.Equal(t, 0, FinalScore(0, 0, DefaultWeights))
	assert.Equal(t, 100, FinalScore(100, 100, DefaultWeights))
	// weights are used as given
	assert.Equal(t, 75, FinalScore(50, 50, Weights{Technical: 0.5, Keyword: 1.0}))
}

func TestScore(t *testing.T) {
	got := Score("Skills\nManaged teams", []string{"go"}, []string{"Go", "Rust"}, DefaultWeights)
	assert.Equal(t, Scores{Technical: 30, Keyword: 50, Final: 42}, got)
}
