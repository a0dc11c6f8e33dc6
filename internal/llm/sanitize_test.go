package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`  {"a":1} `))
}

func TestNormalizeAndSanitizeJSON(t *testing.T) {
	raw := []byte(`{
		"name": null,
		"emails": [" jane@example.com ", ""],
		"phones": null,
		"skills": ["Go"],
		"experiences": [{"title": "Dev", "company": "Acme", "salary": "secret"}],
		"educations": null,
		"normalized_tokens": ["go"],
		"confidence": 0.9
	}`)

	out, changed, err := NormalizeAndSanitizeJSON(raw, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, changed)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.NotContains(t, m, "confidence")
	assert.Equal(t, []any{"jane@example.com"}, m["emails"])
	assert.Equal(t, []any{}, m["phones"])
	assert.Equal(t, []any{}, m["educations"])

	exp := m["experiences"].([]any)[0].(map[string]any)
	assert.NotContains(t, exp, "salary")
	assert.Contains(t, exp, "description")
	assert.Nil(t, exp["description"])

	require.NoError(t, ValidateAnalysis(out))
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "valid",
			content: `{"name":"A","emails":[],"phones":[],"skills":[],"experiences":[],"educations":[],"normalized_tokens":["go"],"notes":null}`,
		},
		{name: "empty", content: "```json\n```", wantErr: true},
		{name: "not json", content: "Sorry, I cannot help with that.", wantErr: true},
		{name: "missing tokens", content: `{"name":"A","emails":[],"phones":[],"skills":[],"experiences":[],"educations":[]}`, wantErr: true},
		{name: "bad email", content: `{"name":"A","emails":["nope"],"phones":[],"skills":[],"experiences":[],"educations":[],"normalized_tokens":[]}`, wantErr: true},
		{name: "wrong type", content: `{"name":5,"emails":[],"phones":[],"skills":[],"experiences":[],"educations":[],"normalized_tokens":[]}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := ParseAnalysis(tt.content, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"go"}, out.NormalizedTokens)
		})
	}
}

func TestFirstEmailAndPhone(t *testing.T) {
	a := Analysis{Emails: []string{"a@x.io", "b@x.io"}}
	require.NotNil(t, a.FirstEmail())
	assert.Equal(t, "a@x.io", *a.FirstEmail())
	assert.Nil(t, a.FirstPhone())
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(AnalyzeRequest{Text: `He said "hi"`, Keywords: nil})
	assert.Contains(t, p, `He said \"hi\"`)
	assert.Contains(t, p, `"keyword_list": []`)
	assert.Contains(t, p, "normalized_tokens")
}
