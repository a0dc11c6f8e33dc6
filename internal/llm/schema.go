package llm

// BuildAnalysisJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We send it to the model as a structured output hint and use it locally to validate.
func BuildAnalysisJSONSchema() map[string]any {
	experience := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":       nullableString(),
			"company":     nullableString(),
			"start_date":  nullableString(),
			"end_date":    nullableString(),
			"description": nullableString(),
		},
		"required": []string{"title", "company", "start_date", "end_date", "description"},
	}
	education := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"institution": nullableString(),
			"degree":      nullableString(),
			"start_date":  nullableString(),
			"end_date":    nullableString(),
		},
		"required": []string{"institution", "degree", "start_date", "end_date"},
	}

	props := map[string]any{
		"name":              nullableString(),
		"emails":            arrayOf(map[string]any{"type": "string", "format": "email"}),
		"phones":            arrayOf(map[string]any{"type": "string"}),
		"skills":            arrayOf(map[string]any{"type": "string"}),
		"experiences":       arrayOf(experience),
		"educations":        arrayOf(education),
		"normalized_tokens": arrayOf(map[string]any{"type": "string"}),
		"notes":             nullableString(),
	}
	required := []string{"name", "emails", "phones", "skills", "experiences", "educations", "normalized_tokens"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}
