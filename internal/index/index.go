// Package index builds the searchable vector index over document chunks
// and answers diversity-aware similarity queries against it.
package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"policyrag/internal/domain"
)

// DefaultFetchK is the candidate pool size re-ranked by MMR.
const DefaultFetchK = 20

type Options struct {
	FetchK int
	Logger *zap.Logger
}

// Index is built once and then only read; it is safe for concurrent queries
// as long as the underlying embedder and store are.
type Index struct {
	embedder  domain.Embedder
	store     domain.VectorStore
	dimension int
	size      int
	fetchK    int
	logger    *zap.Logger
}

// Build prepares the embedder on the chunk corpus, embeds every chunk and
// writes all vectors to the store. Nothing is written unless every chunk
// embedded to a vector of one common dimension; failures wrap ErrIndex.
func Build(ctx context.Context, chunks []domain.Chunk, embedder domain.Embedder, store domain.VectorStore, opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetchK := opts.FetchK
	if fetchK <= 0 {
		fetchK = DefaultFetchK
	}
	idx := &Index{embedder: embedder, store: store, fetchK: fetchK, logger: logger}

	if len(chunks) == 0 {
		if err := store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("%w: clear store: %w", domain.ErrIndex, err)
		}
		logger.Warn("index built without chunks")
		return idx, nil
	}

	started := time.Now()
	corpus := make([]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = c.Text
	}
	if err := embedder.Prepare(ctx, corpus); err != nil {
		return nil, fmt.Errorf("%w: prepare %s embedder: %w", domain.ErrIndex, embedder.Name(), err)
	}

	vectors := make([][]float64, len(chunks))
	for i, c := range chunks {
		v, err := embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: embed chunk %s: %w", domain.ErrIndex, c.ChunkID, err)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector for chunk %s", domain.ErrIndex, c.ChunkID)
		}
		if i > 0 && len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: %w: chunk %s has %d, want %d",
				domain.ErrIndex, domain.ErrDimensionMismatch, c.ChunkID, len(v), len(vectors[0]))
		}
		vectors[i] = v
	}
	dim := len(vectors[0])
	if d := embedder.Dimension(); d > 0 && d != dim {
		return nil, fmt.Errorf("%w: %w: embedder reports %d, vectors have %d",
			domain.ErrIndex, domain.ErrDimensionMismatch, d, dim)
	}

	if err := store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("%w: clear store: %w", domain.ErrIndex, err)
	}
	if err := store.Init(ctx, dim); err != nil {
		return nil, fmt.Errorf("%w: init store: %w", domain.ErrIndex, err)
	}
	if err := store.Upsert(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("%w: upsert: %w", domain.ErrIndex, err)
	}

	idx.dimension = dim
	idx.size = len(chunks)
	logger.Info("index built",
		zap.String("embedder", embedder.Name()),
		zap.Int("chunks", len(chunks)),
		zap.Int("dimension", dim),
		zap.Duration("took", time.Since(started)))
	return idx, nil
}

// Query embeds text and returns up to k chunks re-ranked by MMR from a
// pool of max(fetchK, k) nearest candidates. An empty index or k <= 0
// yields no results. Failures wrap ErrRetrieval.
func (x *Index) Query(ctx context.Context, text string, k int, lambda float64) ([]domain.SearchResult, error) {
	if k <= 0 || x.size == 0 {
		return nil, nil
	}
	q, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrRetrieval, err)
	}
	if len(q) != x.dimension {
		return nil, fmt.Errorf("%w: %w: query has %d, want %d",
			domain.ErrRetrieval, domain.ErrDimensionMismatch, len(q), x.dimension)
	}

	fetch := min(max(x.fetchK, k), x.size)
	candidates, err := x.store.Search(ctx, q, fetch)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", domain.ErrRetrieval, err)
	}
	results := MaximalMarginalRelevance(q, candidates, k, lambda)
	x.logger.Debug("index query",
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)))
	return results, nil
}

// Size returns the number of indexed chunks.
func (x *Index) Size() int { return x.size }

func (x *Index) Dimension() int { return x.dimension }

// EmbedderName identifies the embedder the index was built with.
func (x *Index) EmbedderName() string { return x.embedder.Name() }
