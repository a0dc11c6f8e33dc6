package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/llm"
)

type fakeModels struct {
	calls  int
	model  string
	config *genai.GenerateContentConfig
	prompt string
	text   string
	err    error
	block  bool
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

const validPayload = "```json\n" + `{
  "name": "Jane Doe",
  "emails": ["jane@example.com"],
  "phones": ["+1 555 123 4567"],
  "skills": ["Go"],
  "experiences": [{"title": "Engineer", "company": "Acme", "start_date": "2020-01", "end_date": "Present"}],
  "educations": [],
  "normalized_tokens": ["go", "postgres"]
}` + "\n```"

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	models := &fakeModels{text: validPayload}
	c := newClient(Config{Model: "gemini-test", Temperature: 0.2}, models, nil)

	out, raw, err := c.Analyze(context.Background(), llm.AnalyzeRequest{Text: "cv text", Keywords: []string{"Go"}})
	require.NoError(t, err)

	require.NotNil(t, out.Name)
	assert.Equal(t, "Jane Doe", *out.Name)
	assert.Equal(t, []string{"go", "postgres"}, out.NormalizedTokens)
	require.Len(t, out.Experiences, 1)
	assert.Nil(t, out.Experiences[0].Description)
	assert.NotEmpty(t, raw)

	assert.Equal(t, "gemini-test", models.model)
	assert.Equal(t, "application/json", models.config.ResponseMIMEType)
	require.NotNil(t, models.config.Temperature)
	assert.InDelta(t, 0.2, *models.config.Temperature, 1e-6)
	assert.Contains(t, models.prompt, `"keyword_list"`)
	assert.Contains(t, models.prompt, "cv text")
}

func TestAnalyzeInvalidPayload(t *testing.T) {
	models := &fakeModels{text: `{"name": "Jane"}`}
	c := newClient(Config{}, models, nil)

	_, _, err := c.Analyze(context.Background(), llm.AnalyzeRequest{Text: "cv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
	assert.Equal(t, defaultModel, models.model)
}

func TestAnalyzeTransportError(t *testing.T) {
	apiErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	c := newClient(Config{}, &fakeModels{err: apiErr}, nil)

	_, _, err := c.Analyze(context.Background(), llm.AnalyzeRequest{Text: "cv"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrInvalidPayload)
	var got genai.APIError
	assert.True(t, errors.As(err, &got))
}

func TestAnalyzeTimeout(t *testing.T) {
	c := newClient(Config{Timeout: 20 * time.Millisecond}, &fakeModels{block: true}, nil)

	start := time.Now()
	_, _, err := c.Analyze(context.Background(), llm.AnalyzeRequest{Text: "cv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
