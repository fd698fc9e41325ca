// Package retrieval exposes the vector index to the answering model as a
// single search tool that returns joined chunk text or a sentinel.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"policyrag/internal/domain"
)

// Sentinel is returned when no chunk survives filtering.
const Sentinel = "NO_CONTEXT_FOUND"

const (
	ToolName         = "search_manual"
	DefaultDelimiter = "\n\n---\n\n"
	DefaultMaxChars  = 4000
)

// Searcher is the query side of the vector index.
type Searcher interface {
	Query(ctx context.Context, text string, k int, lambda float64) ([]domain.SearchResult, error)
}

type Options struct {
	K      int
	Lambda float64
	// MinChunkChars drops chunks shorter than this many characters; 0 disables.
	MinChunkChars int
	// MinScore keeps only chunks whose relevance is strictly greater.
	MinScore        float64
	MaxContextChars int
	Delimiter       string
	Logger          *zap.Logger
}

// Tool searches the policy document. It is stateless per call.
type Tool struct {
	index Searcher
	opts  Options
}

var _ domain.Tool = (*Tool)(nil)

func NewTool(index Searcher, opts Options) *Tool {
	if opts.K <= 0 {
		opts.K = 6
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxChars
	}
	// the sentinel itself must fit the budget
	opts.MaxContextChars = max(opts.MaxContextChars, utf8.RuneCountInString(Sentinel))
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.MinChunkChars < 0 {
		opts.MinChunkChars = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tool{index: index, opts: opts}
}

// Search returns the surviving chunks in relevance order joined by the
// delimiter and cut to MaxContextChars characters, or Sentinel.
// Index failures are returned wrapped in ErrRetrieval.
func (t *Tool) Search(ctx context.Context, query string) (string, error) {
	results, err := t.index.Query(ctx, query, t.opts.K, t.opts.Lambda)
	if err != nil {
		if !errors.Is(err, domain.ErrRetrieval) {
			err = fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		return "", err
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		text := r.Chunk.Text
		switch {
		case strings.TrimSpace(text) == Sentinel:
		case utf8.RuneCountInString(text) < t.opts.MinChunkChars:
		case r.Score <= t.opts.MinScore:
		default:
			parts = append(parts, text)
		}
	}
	t.opts.Logger.Debug("retrieval",
		zap.Int("results", len(results)),
		zap.Int("kept", len(parts)))
	if len(parts) == 0 {
		return Sentinel, nil
	}
	return truncate(strings.Join(parts, t.opts.Delimiter), t.opts.MaxContextChars), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string {
	return "Searches the official policy manual and returns the relevant passages. " +
		"Returns " + Sentinel + " when the manual contains nothing relevant."
}

func (t *Tool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look up in the manual.",
			},
		},
		"required": []string{"query"},
	}
}

// Execute runs Search with the "query" argument. A missing or empty query
// is an argument error, not a retrieval failure.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	q, _ := args["query"].(string)
	if strings.TrimSpace(q) == "" {
		return "", errors.New("query argument is required")
	}
	return t.Search(ctx, q)
}
