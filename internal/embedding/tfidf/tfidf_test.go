package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func TestEmbedder_RequiresPrepare(t *testing.T) {
	e := NewEmbedder()
	_, err := e.Embed(context.Background(), "loan")
	assert.Error(t, err)
	assert.Error(t, e.Prepare(context.Background(), nil))
	assert.Error(t, e.Prepare(context.Background(), []string{"the and of"}))
}

func TestEmbedder_VectorsAreNormalizedAndStable(t *testing.T) {
	ctx := context.Background()
	corpus := []string{
		"Maximum loan term is 30 years.",
		"Applicants must provide income statements.",
		"The guarantor signs the loan contract.",
	}
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, corpus))
	assert.Greater(t, e.Dimension(), 0)
	assert.Equal(t, "tfidf", e.Name())

	v1, err := e.Embed(ctx, "loan term")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "loan term")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, e.Dimension())
	assert.InDelta(t, 1.0, norm(v1), 1e-9)
}

func TestEmbedder_UnknownTermsEmbedToZero(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, []string{"Maximum loan term is 30 years."}))

	v, err := e.Embed(ctx, "What is the company's stock price?")
	require.NoError(t, err)
	assert.Equal(t, 0.0, norm(v))
}

func TestEmbedder_RareTermsWeighMore(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, []string{
		"loan guarantor", "loan income", "loan term",
	}))
	v, err := e.Embed(ctx, "loan guarantor")
	require.NoError(t, err)
	assert.Greater(t, v[e.vocabulary["guarantor"]], v[e.vocabulary["loan"]])
}

func TestEmbedder_NumbersAreTokens(t *testing.T) {
	e := NewEmbedder()
	assert.Equal(t, []string{"term", "30", "years"}, e.tokenize("Term is 30 years"))
}
