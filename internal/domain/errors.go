package domain

import "errors"

// Error taxonomy. Startup errors halt the process; per-turn errors are
// reported for that turn only.
var (
	// ErrConfiguration indicates a missing credential or invalid config.
	ErrConfiguration = errors.New("configuration error")

	// ErrIngestion indicates the document could not be read or chunked.
	ErrIngestion = errors.New("ingestion error")

	// ErrIndex indicates the embedding or index build failed.
	ErrIndex = errors.New("index error")

	// ErrRetrieval indicates a query-time embedding or lookup failure.
	ErrRetrieval = errors.New("retrieval error")

	// ErrModel indicates the answering model call failed.
	ErrModel = errors.New("model error")

	// ErrDimensionMismatch indicates a vector of unexpected length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// IsStartupError reports whether err must abort initialization.
func IsStartupError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrIngestion) ||
		errors.Is(err, ErrIndex)
}
