package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
)

type fakeQdrant struct {
	mu       sync.Mutex
	requests []string
	points   []point
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	if r.Header.Get("api-key") != "secret" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	switch {
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && r.URL.Path == "/collections/policy":
		_, _ = w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodPut && r.URL.Path == "/collections/policy/points":
		var body struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.points = append(f.points, body.Points...)
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/collections/policy/points/search":
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["with_vector"] != true {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p := f.points[0]
		resp := map[string]any{"result": []map[string]any{
			{"id": p.ID, "score": 0.9, "payload": p.Payload, "vector": p.Vector},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newStore(url string) *Storage {
	s := NewStorage(Config{URL: url + "/", APIKey: "secret", Collection: "policy", Timeout: time.Second})
	s.http.BaseDelay = time.Millisecond
	return s
}

func TestStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newStore(srv.URL)
	require.NoError(t, s.Clear(ctx), "missing collection is fine")
	require.NoError(t, s.Init(ctx, 2))

	in := domain.Chunk{DocumentID: "d", ChunkID: "d:0", Text: "Maximum loan term is 30 years.", Index: 0, Page: 3, Source: "policy.pdf", Overlap: 5}
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{in}, [][]float64{{0.6, 0.8}}))
	assert.Equal(t, 1, s.Count())

	_, err := uuid.Parse(fake.points[0].ID)
	require.NoError(t, err, "point ids must be UUIDs")
	assert.Equal(t, PointID("d:0"), fake.points[0].ID)

	got, err := s.Search(ctx, []float64{0.6, 0.8}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0].Chunk)
	assert.Equal(t, []float64{0.6, 0.8}, got[0].Vector)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)

	assert.Equal(t, []string{
		"DELETE /collections/policy",
		"PUT /collections/policy",
		"PUT /collections/policy/points",
		"POST /collections/policy/points/search",
	}, fake.requests)
}

func TestStorage_UpsertRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(&fakeQdrant{})
	defer srv.Close()
	s := newStore(srv.URL)
	require.NoError(t, s.Init(context.Background(), 3))

	err := s.Upsert(context.Background(), []domain.Chunk{{ChunkID: "x"}}, [][]float64{{1}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStorage_AuthFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(&fakeQdrant{})
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "policy"})
	assert.Error(t, s.Init(context.Background(), 2))
}

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("a:1"), PointID("a:1"))
	assert.NotEqual(t, PointID("a:1"), PointID("a:2"))
}
