// Package service wires ingestion, indexing and answering into one
// immutable handle created at startup and shared by every session.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"policyrag/internal/agent"
	"policyrag/internal/domain"
	"policyrag/internal/index"
	"policyrag/internal/retrieval"
)

// DocumentLoader expands path patterns and loads every matching document.
type DocumentLoader interface {
	LoadAll(ctx context.Context, patterns []string) ([]domain.Document, error)
}

// Components are the configured building blocks. Model may be nil for
// retrieval-only use; Summarizer may be nil to skip the overview.
type Components struct {
	Loader     DocumentLoader
	Chunker    domain.Chunker
	Embedder   domain.Embedder
	Store      domain.VectorStore
	Model      domain.ChatModel
	Summarizer domain.Summarizer

	Retrieval           retrieval.Options
	FetchK              int
	Agent               agent.Config
	SummaryMaxSentences int
	Logger              *zap.Logger
}

// Stats describes what was indexed at startup.
type Stats struct {
	Documents int
	Pages     int
	Chunks    int
	Dimension int
	Embedder  string
	Model     string
	Took      time.Duration
}

// RAGService is read-only after Bootstrap returns.
type RAGService struct {
	docs    []domain.Document
	index   *index.Index
	tool    *retrieval.Tool
	agent   *agent.Agent
	summary string
	stats   Stats
	logger  *zap.Logger
}

var _ domain.Assistant = (*RAGService)(nil)

// Bootstrap loads and chunks the documents, builds the index and the
// answering agent. Errors wrap ErrIngestion or ErrIndex and must stop startup.
func Bootstrap(ctx context.Context, c Components, paths []string) (*RAGService, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()

	docs, err := c.Loader.LoadAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	var (
		chunks []domain.Chunk
		pages  int
	)
	for _, d := range docs {
		cs, err := c.Chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %w", domain.ErrIngestion, d.Path, err)
		}
		chunks = append(chunks, cs...)
		pages += len(d.Pages)
	}
	logger.Info("documents chunked", zap.Int("documents", len(docs)), zap.Int("pages", pages), zap.Int("chunks", len(chunks)))

	idx, err := index.Build(ctx, chunks, c.Embedder, c.Store, index.Options{FetchK: c.FetchK, Logger: logger})
	if err != nil {
		return nil, err
	}

	ropts := c.Retrieval
	ropts.Logger = logger
	tool := retrieval.NewTool(idx, ropts)

	s := &RAGService{
		docs:   docs,
		index:  idx,
		tool:   tool,
		logger: logger,
		stats: Stats{
			Documents: len(docs),
			Pages:     pages,
			Chunks:    len(chunks),
			Dimension: idx.Dimension(),
			Embedder:  idx.EmbedderName(),
		},
	}

	if c.Model != nil {
		acfg := c.Agent
		acfg.Model = c.Model
		acfg.Tools = []domain.Tool{tool}
		acfg.Logger = logger
		s.agent = agent.New(acfg)
		s.stats.Model = c.Model.Name()
	}

	if c.Summarizer != nil {
		var text []string
		for _, d := range docs {
			text = append(text, d.Content())
		}
		summary, err := c.Summarizer.Summarize(strings.Join(text, "\n\n"), c.SummaryMaxSentences)
		if err != nil {
			logger.Warn("summary failed", zap.Error(err))
		}
		s.summary = summary
	}

	s.stats.Took = time.Since(started)
	logger.Info("service ready", zap.Int("chunks", s.stats.Chunks), zap.Duration("took", s.stats.Took))
	return s, nil
}

// Answer runs one conversational turn through the agent.
func (s *RAGService) Answer(ctx context.Context, query string, history []domain.Turn) (string, error) {
	if s.agent == nil {
		return "", fmt.Errorf("%w: no answering model configured", domain.ErrConfiguration)
	}
	return s.agent.Answer(ctx, query, history)
}

// Search runs the retrieval tool directly, without the model.
func (s *RAGService) Search(ctx context.Context, query string) (string, error) {
	return s.tool.Search(ctx, query)
}

// Results returns the ranked chunks for query before any tool filtering.
func (s *RAGService) Results(ctx context.Context, query string, k int, lambda float64) ([]domain.SearchResult, error) {
	return s.index.Query(ctx, query, k, lambda)
}

// Summary is a short extractive overview of the loaded documents.
func (s *RAGService) Summary() string { return s.summary }

func (s *RAGService) Stats() Stats { return s.stats }

// Documents returns the paths of the loaded documents.
func (s *RAGService) Documents() []string {
	out := make([]string, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Path
	}
	return out
}
