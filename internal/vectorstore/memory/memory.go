package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"policyrag/internal/domain"
	"policyrag/internal/similarity"
)

// Storage is an in-memory vector store using brute-force cosine similarity.
// Chunks are upserted by ChunkID; search order is stable on equal scores.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float64
	chunks    []domain.Chunk
	byID      map[string]int
}

var _ domain.VectorStore = (*Storage)(nil)

func NewStorage() *Storage { return &Storage{byID: map[string]int{}} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.vectors = nil
	s.chunks = nil
	s.byID = map[string]int{}
	return nil
}

func (s *Storage) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return errors.New("store not initialised")
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d, want %d",
				domain.ErrDimensionMismatch, chunks[i].ChunkID, len(v), s.dimension)
		}
	}
	for i, c := range chunks {
		v := append([]float64(nil), vectors[i]...)
		if j, ok := s.byID[c.ChunkID]; ok {
			s.chunks[j], s.vectors[j] = c, v
			continue
		}
		s.byID[c.ChunkID] = len(s.chunks)
		s.chunks = append(s.chunks, c)
		s.vectors = append(s.vectors, v)
	}
	return nil
}

// Search returns up to limit candidates by descending cosine similarity.
// Ties keep insertion order.
func (s *Storage) Search(_ context.Context, vector []float64, limit int) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || len(s.vectors) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}

	scores := make([]float64, len(s.vectors))
	idxs := make([]int, len(s.vectors))
	for i := range s.vectors {
		scores[i] = similarity.Cosine(s.vectors[i], vector)
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })

	limit = min(limit, len(idxs))
	out := make([]domain.Candidate, 0, limit)
	for _, j := range idxs[:limit] {
		out = append(out, domain.Candidate{
			Chunk:  s.chunks[j],
			Vector: append([]float64(nil), s.vectors[j]...),
			Score:  scores[j],
		})
	}
	return out, nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.chunks = nil
	s.byID = map[string]int{}
	return nil
}

func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
