// Package gemini embeds text with the Google Gemini embedding models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"

	"policyrag/internal/domain"
)

// Config configures the Gemini embedder.
type Config struct {
	APIKeyEnv string
	Model     string
	// TaskType is sent with every request when set, e.g. RETRIEVAL_DOCUMENT.
	TaskType string
}

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder calls the Gemini embedContent endpoint.
type Embedder struct {
	models   contentEmbedder
	model    string
	taskType string

	mu        sync.RWMutex
	dimension int
}

var _ domain.Embedder = (*Embedder)(nil)

func NewEmbedder(ctx context.Context, cfg Config) (*Embedder, error) {
	key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	return &Embedder{models: client.Models, model: cfg.Model, taskType: cfg.TaskType}, nil
}

func (e *Embedder) Name() string { return "gemini/" + e.model }

func (e *Embedder) Prepare(context.Context, []string) error { return nil }

func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var config *genai.EmbedContentConfig
	if e.taskType != "" {
		config = &genai.EmbedContentConfig{TaskType: e.taskType}
	}
	resp, err := e.models.EmbedContent(ctx, e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, config)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini embed: no embedding values returned")
	}

	values := resp.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	e.mu.Lock()
	if e.dimension == 0 {
		e.dimension = len(out)
	}
	e.mu.Unlock()
	return out, nil
}
