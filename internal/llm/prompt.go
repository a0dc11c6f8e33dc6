package llm

import (
	"encoding/json"
	"strings"
)

// maxPromptText bounds how much CV text goes into one request.
const maxPromptText = 30000

// BuildPrompt composes the extraction instructions, the CV text and the keyword list.
func BuildPrompt(req AnalyzeRequest) string {
	text := req.Text
	if len(text) > maxPromptText {
		text = text[:maxPromptText]
	}
	keywords := req.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	input, _ := json.MarshalIndent(map[string]any{
		"text":         text,
		"keyword_list": keywords,
	}, "", "  ")

	parts := []string{
		"You are an expert HR information extraction system. Analyze the provided CV text and extract structured information.",
		"Respond strictly with a JSON object. Do not include commentary, markdown formatting, or any text outside of the JSON object.",
		"",
		"Input:",
		string(input),
		"",
		"Return a JSON object with exactly these keys:",
		`{`,
		`  "name": "Full Name or null if not found",`,
		`  "emails": ["email@example.com"],`,
		`  "phones": ["+1-555-123-4567"],`,
		`  "skills": ["Normalized Skill"],`,
		`  "experiences": [{"title": "Job Title", "company": "Company", "start_date": "YYYY-MM", "end_date": "YYYY-MM or Present", "description": "Key responsibilities and achievements"}],`,
		`  "educations": [{"institution": "University", "degree": "Degree", "start_date": "YYYY-MM", "end_date": "YYYY-MM"}],`,
		`  "normalized_tokens": ["token"],`,
		`  "notes": "Optional brief notes on data quality or missing sections."`,
		`}`,
		"Use empty lists when nothing is found. Date fields are YYYY-MM or null; 'Present' is accepted for end_date.",
		"normalized_tokens is a cleaned, lowercased list of important terms and technologies found in the text, useful for keyword matching.",
	}
	return strings.Join(parts, "\n")
}
