package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"policyrag/internal/domain"
)

type fakeModels struct {
	resp     *genai.EmbedContentResponse
	err      error
	gotModel string
	gotText  string
	gotTask  string
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.gotModel = model
	f.gotText = contents[0].Parts[0].Text
	if config != nil {
		f.gotTask = config.TaskType
	}
	return f.resp, f.err
}

func TestEmbed_ConvertsValues(t *testing.T) {
	fake := &fakeModels{resp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.5, -0.25}}},
	}}
	e := &Embedder{models: fake, model: "text-embedding-004", taskType: "RETRIEVAL_QUERY"}

	v, err := e.Embed(context.Background(), "loan term")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -0.25}, v)
	assert.Equal(t, 2, e.Dimension())
	assert.Equal(t, "text-embedding-004", fake.gotModel)
	assert.Equal(t, "loan term", fake.gotText)
	assert.Equal(t, "RETRIEVAL_QUERY", fake.gotTask)
	assert.Equal(t, "gemini/text-embedding-004", e.Name())
}

func TestEmbed_Errors(t *testing.T) {
	e := &Embedder{models: &fakeModels{err: errors.New("quota")}, model: "m"}
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)

	e = &Embedder{models: &fakeModels{resp: &genai.EmbedContentResponse{}}, model: "m"}
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewEmbedder_MissingKey(t *testing.T) {
	t.Setenv("ABSENT_GEMINI_KEY", "")
	_, err := NewEmbedder(context.Background(), Config{APIKeyEnv: "ABSENT_GEMINI_KEY"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
