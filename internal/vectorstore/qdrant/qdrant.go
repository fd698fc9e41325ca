package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/httpclient"
)

const upsertBatch = 64

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection on Init.
type Storage struct {
	url        string
	collection string
	http       *httpclient.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	dimension int
	count     int
}

var _ domain.VectorStore = (*Storage)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	Logger     *zap.Logger
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := httpclient.New(timeout, logger)
	hc.MaxRetries = 3
	if cfg.APIKey != "" {
		hc.Headers["api-key"] = cfg.APIKey
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		http:       hc,
		logger:     logger,
	}
}

// PointID maps a chunk id to the UUID Qdrant stores it under.
// Qdrant only accepts unsigned integers or UUIDs as point ids.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("policyrag:"+chunkID)).String()
}

func (s *Storage) collectionURL(suffix string) string {
	return s.url + "/collections/" + url.PathEscape(s.collection) + suffix
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	err := s.http.DoJSON(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	var se *httpclient.StatusError
	if err != nil && !(errors.As(err, &se) && se.StatusCode == http.StatusConflict) {
		return fmt.Errorf("qdrant create collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.dimension = dimension
	s.count = 0
	s.mu.Unlock()
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.RLock()
	dim := s.dimension
	s.mu.RUnlock()
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: chunk %s has %d, want %d",
				domain.ErrDimensionMismatch, chunks[i].ChunkID, len(v), dim)
		}
	}

	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			c := chunks[i]
			points = append(points, point{
				ID:     PointID(c.ChunkID),
				Vector: vectors[i],
				Payload: map[string]any{
					"document_id": c.DocumentID,
					"chunk_id":    c.ChunkID,
					"index":       c.Index,
					"page":        c.Page,
					"source":      c.Source,
					"overlap":     c.Overlap,
					"text":        c.Text,
				},
			})
		}
		err := s.http.DoJSON(ctx, http.MethodPut, s.collectionURL("/points?wait=true"),
			map[string]any{"points": points}, nil)
		if err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
		s.logger.Debug("qdrant upserted batch", zap.Int("points", len(points)))
	}

	s.mu.Lock()
	s.count += len(chunks)
	s.mu.Unlock()
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
		Vector  []float64      `json:"vector"`
	} `json:"result"`
}

func (s *Storage) Search(ctx context.Context, vector []float64, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp searchResponse
	if err := s.http.DoJSON(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	out := make([]domain.Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, domain.Candidate{
			Chunk:  chunkFromPayload(r.Payload),
			Vector: r.Vector,
			Score:  r.Score,
		})
	}
	return out, nil
}

// Clear drops the collection. A missing collection is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	err := s.http.DoJSON(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	var se *httpclient.StatusError
	if err != nil && !(errors.As(err, &se) && se.StatusCode == http.StatusNotFound) {
		return fmt.Errorf("qdrant drop collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
	return nil
}

// Count returns the number of points written since the last Init or Clear.
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func chunkFromPayload(p map[string]any) domain.Chunk {
	var c domain.Chunk
	if v, ok := p["document_id"].(string); ok {
		c.DocumentID = v
	}
	if v, ok := p["chunk_id"].(string); ok {
		c.ChunkID = v
	}
	if v, ok := p["source"].(string); ok {
		c.Source = v
	}
	if v, ok := p["text"].(string); ok {
		c.Text = v
	}
	if v, ok := p["index"].(float64); ok {
		c.Index = int(v)
	}
	if v, ok := p["page"].(float64); ok {
		c.Page = int(v)
	}
	if v, ok := p["overlap"].(float64); ok {
		c.Overlap = int(v)
	}
	return c
}
