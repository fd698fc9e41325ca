package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStartupError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"configuration", fmt.Errorf("%w: missing key", ErrConfiguration), true},
		{"ingestion", fmt.Errorf("load: %w", ErrIngestion), true},
		{"index", fmt.Errorf("%w: %w", ErrIndex, ErrDimensionMismatch), true},
		{"retrieval", fmt.Errorf("%w: timeout", ErrRetrieval), false},
		{"model", ErrModel, false},
		{"nil", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsStartupError(tc.err))
		})
	}
}

func TestDocumentContent(t *testing.T) {
	doc := Document{Pages: []Page{{Number: 1, Text: "one"}, {Number: 2, Text: "two"}}}
	assert.Equal(t, "one\n\ntwo", doc.Content())
	assert.Equal(t, "", Document{}.Content())
}
