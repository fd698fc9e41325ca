package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	model        TEXT    NOT NULL,
	content_hash TEXT    NOT NULL,
	dimension    INTEGER NOT NULL,
	vector       BLOB    NOT NULL,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (model, content_hash)
)`

// Store persists embedding vectors keyed by model and content hash.
// It is a disposable cache; deleting the file only costs recomputation.
type Store struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached vector, or ok=false on a miss.
func (s *Store) Get(ctx context.Context, model, hash string) ([]float64, bool, error) {
	var (
		dim  int
		blob []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, vector FROM embedding_cache WHERE model = ? AND content_hash = ?`,
		model, hash).Scan(&dim, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying embedding cache: %w", err)
	}
	v, err := decodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	if len(v) != dim {
		return nil, false, nil
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, model, hash string, vector []float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (model, content_hash, dimension, vector, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(model, content_hash) DO UPDATE SET
		 	dimension = excluded.dimension,
		 	vector = excluded.vector,
		 	created_at = excluded.created_at`,
		model, hash, len(vector), encodeVector(vector), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting embedding cache: %w", err)
	}
	return n, nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(data))
	}
	v := make([]float64, len(data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return v, nil
}
