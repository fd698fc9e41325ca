package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
)

type stubIndex struct {
	results []domain.SearchResult
	err     error
	gotK    int
	gotL    float64
}

func (s *stubIndex) Query(_ context.Context, _ string, k int, lambda float64) ([]domain.SearchResult, error) {
	s.gotK, s.gotL = k, lambda
	return s.results, s.err
}

func result(text string, score float64) domain.SearchResult {
	return domain.SearchResult{Chunk: domain.Chunk{Text: text}, Score: score}
}

var long = strings.Repeat("Maximum loan term is 30 years for residential mortgages. ", 2)

func TestSearch_EmptyIndexReturnsSentinel(t *testing.T) {
	tool := NewTool(&stubIndex{}, Options{})
	out, err := tool.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, Sentinel, out)
}

func TestSearch_JoinsInOrderWithDelimiter(t *testing.T) {
	idx := &stubIndex{results: []domain.SearchResult{result(long+"A", 0.9), result(long+"B", 0.5)}}
	tool := NewTool(idx, Options{K: 4, Lambda: 0.7, MinChunkChars: 50})

	out, err := tool.Search(context.Background(), "loan term")
	require.NoError(t, err)
	assert.Equal(t, long+"A"+"\n\n---\n\n"+long+"B", out)
	assert.Equal(t, 4, idx.gotK)
	assert.InDelta(t, 0.7, idx.gotL, 1e-12)
}

func TestSearch_Filters(t *testing.T) {
	tests := []struct {
		name    string
		results []domain.SearchResult
		want    string
	}{
		{"short chunks dropped", []domain.SearchResult{result("too short", 0.9)}, Sentinel},
		{"zero relevance dropped", []domain.SearchResult{result(long, 0)}, Sentinel},
		{"sentinel text dropped", []domain.SearchResult{result(Sentinel, 0.9), result(long, 0.4)}, long},
		{"mixed", []domain.SearchResult{result("tiny", 0.9), result(long, 0.2)}, long},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := NewTool(&stubIndex{results: tc.results}, Options{MinChunkChars: 50})
			out, err := tool.Search(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestSearch_MinChunkCharsDisabled(t *testing.T) {
	tool := NewTool(&stubIndex{results: []domain.SearchResult{result("short", 0.9)}}, Options{MinChunkChars: 0})
	out, err := tool.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "short", out)
}

func TestSearch_EnforcesContextBudget(t *testing.T) {
	var results []domain.SearchResult
	for i := 0; i < 10; i++ {
		results = append(results, result(strings.Repeat("ñ", 900), 0.9))
	}
	tool := NewTool(&stubIndex{results: results}, Options{})

	out, err := tool.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxChars, utf8.RuneCountInString(out))
	assert.True(t, utf8.ValidString(out))
}

func TestSearch_TinyBudgetStillFitsSentinel(t *testing.T) {
	budget := utf8.RuneCountInString(Sentinel)

	out, err := NewTool(&stubIndex{}, Options{MaxContextChars: 5}).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, Sentinel, out)

	out, err = NewTool(&stubIndex{results: []domain.SearchResult{result(long, 0.9)}}, Options{MaxContextChars: 5}).
		Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, budget, utf8.RuneCountInString(out))
}

func TestSearch_IndexFailureIsRetrievalError(t *testing.T) {
	tool := NewTool(&stubIndex{err: errors.New("store down")}, Options{})
	_, err := tool.Search(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrRetrieval)
}

func TestExecute(t *testing.T) {
	tool := NewTool(&stubIndex{results: []domain.SearchResult{result(long, 0.9)}}, Options{})
	out, err := tool.Execute(context.Background(), map[string]any{"query": "loan"})
	require.NoError(t, err)
	assert.Equal(t, long, out)

	_, err = tool.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRetrieval)

	assert.Equal(t, "search_manual", tool.Name())
	assert.Equal(t, []string{"query"}, tool.Parameters()["required"])
}
