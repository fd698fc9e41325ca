package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
	"policyrag/internal/embedding/tfidf"
	"policyrag/internal/similarity"
	"policyrag/internal/vectorstore/memory"
)

// mapEmbedder returns fixed vectors per text.
type mapEmbedder struct {
	vectors   map[string][]float64
	failOn    string
	prepared  int
	dimension int
}

func (m *mapEmbedder) Name() string   { return "map" }
func (m *mapEmbedder) Dimension() int { return m.dimension }

func (m *mapEmbedder) Prepare(context.Context, []string) error {
	m.prepared++
	return nil
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if text == m.failOn {
		return nil, errors.New("embedding service unavailable")
	}
	v, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func chunksOf(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{DocumentID: "d", ChunkID: fmt.Sprintf("d:%d", i), Index: i, Text: t}
	}
	return out
}

func policyChunks() []domain.Chunk {
	return chunksOf(
		"Maximum loan term is 30 years for residential mortgages.",
		"Applicants must provide income statements for the last three months.",
		"A guarantor is required for loans above 50000 EUR.",
		"The loan term for consumer credit is at most 7 years.",
		"Early repayment is allowed without penalty after two years.",
	)
}

func TestBuild_EmptyChunksSkipsPrepare(t *testing.T) {
	emb := &mapEmbedder{}
	idx, err := Build(context.Background(), nil, emb, memory.NewStorage(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, emb.prepared)
	assert.Equal(t, 0, idx.Size())

	res, err := idx.Query(context.Background(), "anything", 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestBuild_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	require.NoError(t, store.Init(ctx, 1))
	require.NoError(t, store.Upsert(ctx, chunksOf("old"), [][]float64{{1}}))

	emb := &mapEmbedder{vectors: map[string][]float64{"a": {1, 0}}, failOn: "b"}
	_, err := Build(ctx, chunksOf("a", "b"), emb, store, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndex)
	assert.Equal(t, 1, store.Count(), "store untouched on failure")
}

func TestBuild_DimensionMismatch(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float64{"a": {1, 0}, "b": {1, 0, 0}}}
	_, err := Build(context.Background(), chunksOf("a", "b"), emb, memory.NewStorage(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndex)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	emb = &mapEmbedder{vectors: map[string][]float64{"a": {1, 0}}, dimension: 3}
	_, err = Build(context.Background(), chunksOf("a"), emb, memory.NewStorage(), Options{})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestQuery_EmbeddingFailureIsRetrievalError(t *testing.T) {
	ctx := context.Background()
	emb := &mapEmbedder{vectors: map[string][]float64{"a": {1, 0}}, failOn: "boom"}
	idx, err := Build(ctx, chunksOf("a"), emb, memory.NewStorage(), Options{})
	require.NoError(t, err)

	_, err = idx.Query(ctx, "boom", 3, 0.7)
	assert.ErrorIs(t, err, domain.ErrRetrieval)

	res, err := idx.Query(ctx, "a", 0, 0.7)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestQuery_PureRelevanceMatchesCosineRanking(t *testing.T) {
	ctx := context.Background()
	chunks := policyChunks()
	emb := tfidf.NewEmbedder()
	idx, err := Build(ctx, chunks, emb, memory.NewStorage(), Options{FetchK: 2})
	require.NoError(t, err)
	assert.Equal(t, len(chunks), idx.Size())
	assert.Equal(t, "tfidf", idx.EmbedderName())

	query := "What is the maximum loan term?"
	res, err := idx.Query(ctx, query, 3, 1)
	require.NoError(t, err)
	require.Len(t, res, 3)

	q, err := emb.Embed(ctx, query)
	require.NoError(t, err)
	type scored struct {
		id    string
		score float64
	}
	var want []scored
	for _, c := range chunks {
		v, err := emb.Embed(ctx, c.Text)
		require.NoError(t, err)
		want = append(want, scored{c.ChunkID, similarity.Cosine(q, v)})
	}
	sort.SliceStable(want, func(i, j int) bool { return want[i].score > want[j].score })
	for i := range res {
		assert.Equal(t, want[i].id, res[i].Chunk.ChunkID)
		assert.InDelta(t, want[i].score, res[i].Score, 1e-9)
	}
	assert.Contains(t, res[0].Chunk.Text, "30 years")
}

func TestQuery_LargeKReturnsEveryChunkOnce(t *testing.T) {
	ctx := context.Background()
	chunks := policyChunks()
	idx, err := Build(ctx, chunks, tfidf.NewEmbedder(), memory.NewStorage(), Options{})
	require.NoError(t, err)

	res, err := idx.Query(ctx, "loan", 50, 0.5)
	require.NoError(t, err)
	require.Len(t, res, len(chunks))
	seen := map[string]bool{}
	for _, r := range res {
		assert.False(t, seen[r.Chunk.ChunkID])
		seen[r.Chunk.ChunkID] = true
	}
}

func TestMMR_PrefersDiverseCandidates(t *testing.T) {
	query := []float64{1, 0.2}
	candidates := []domain.Candidate{
		{Chunk: domain.Chunk{ChunkID: "a"}, Vector: []float64{1, 0.1}},
		{Chunk: domain.Chunk{ChunkID: "a-copy"}, Vector: []float64{1, 0.1}},
		{Chunk: domain.Chunk{ChunkID: "b"}, Vector: []float64{0.6, 1}},
	}

	plain := MaximalMarginalRelevance(query, candidates, 2, 1)
	assert.Equal(t, "a", plain[0].Chunk.ChunkID)
	assert.Equal(t, "a-copy", plain[1].Chunk.ChunkID)

	diverse := MaximalMarginalRelevance(query, candidates, 2, 0.5)
	assert.Equal(t, "a", diverse[0].Chunk.ChunkID)
	assert.Equal(t, "b", diverse[1].Chunk.ChunkID)
}

func TestMMR_EdgeCases(t *testing.T) {
	c := []domain.Candidate{{Chunk: domain.Chunk{ChunkID: "a"}, Vector: []float64{1}}}
	assert.Empty(t, MaximalMarginalRelevance([]float64{1}, c, 0, 0.5))
	assert.Empty(t, MaximalMarginalRelevance([]float64{1}, nil, 3, 0.5))
	assert.Len(t, MaximalMarginalRelevance([]float64{1}, c, 3, 7), 1, "lambda clamped")

	ties := []domain.Candidate{
		{Chunk: domain.Chunk{ChunkID: "first"}, Vector: []float64{1, 0}},
		{Chunk: domain.Chunk{ChunkID: "second"}, Vector: []float64{1, 0}},
	}
	res := MaximalMarginalRelevance([]float64{1, 0}, ties, 1, 1)
	assert.Equal(t, "first", res[0].Chunk.ChunkID)
}
