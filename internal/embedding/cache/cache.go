// Package cache provides embedder decorators: an in-process expiring LRU
// for query vectors and a persistent SQLite vector cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"policyrag/internal/domain"
)

// WrapLRU caches vectors in memory for ttl. Prepare purges the cache
// since a new corpus can change every vector. Returns next unchanged
// when size or ttl is not positive.
func WrapLRU(next domain.Embedder, size int, ttl time.Duration, logger *zap.Logger) domain.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &lruEmbedder{
		next:   next,
		cache:  expirable.NewLRU[string, []float64](size, nil, ttl),
		logger: logger,
	}
}

type lruEmbedder struct {
	next   domain.Embedder
	cache  *expirable.LRU[string, []float64]
	logger *zap.Logger
}

func (l *lruEmbedder) Name() string   { return l.next.Name() }
func (l *lruEmbedder) Dimension() int { return l.next.Dimension() }

func (l *lruEmbedder) Prepare(ctx context.Context, corpus []string) error {
	l.cache.Purge()
	return l.next.Prepare(ctx, corpus)
}

func (l *lruEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := l.next.Name() + ":" + contentHash(text)
	if cached, ok := l.cache.Get(key); ok {
		l.logger.Debug("embedding cache hit (lru)")
		return clone(cached), nil
	}
	v, err := l.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, clone(v))
	return v, nil
}

// WrapStore serves vectors from store and records misses into it.
// A failed write is logged and does not fail the embedding.
func WrapStore(next domain.Embedder, store *Store, logger *zap.Logger) domain.Embedder {
	if next == nil || store == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &storeEmbedder{next: next, store: store, logger: logger}
}

type storeEmbedder struct {
	next   domain.Embedder
	store  *Store
	logger *zap.Logger

	mu        sync.RWMutex
	dimension int
}

func (s *storeEmbedder) Name() string { return s.next.Name() }

// Dimension falls back to the length of cached vectors, as a remote
// embedder only learns its dimension from a live call.
func (s *storeEmbedder) Dimension() int {
	if d := s.next.Dimension(); d > 0 {
		return d
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *storeEmbedder) Prepare(ctx context.Context, corpus []string) error {
	return s.next.Prepare(ctx, corpus)
}

func (s *storeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	model, hash := s.next.Name(), contentHash(text)
	cached, ok, err := s.store.Get(ctx, model, hash)
	if err != nil {
		s.logger.Warn("embedding cache read failed", zap.Error(err))
	} else if ok {
		s.logger.Debug("embedding cache hit (sqlite)", zap.String("model", model))
		s.remember(len(cached))
		return cached, nil
	}

	v, err := s.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, model, hash, v); err != nil {
		s.logger.Warn("failed to cache embedding", zap.Error(err))
	}
	s.remember(len(v))
	return v, nil
}

func (s *storeEmbedder) remember(dim int) {
	s.mu.Lock()
	if s.dimension == 0 {
		s.dimension = dim
	}
	s.mu.Unlock()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
