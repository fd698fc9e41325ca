package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"policyrag/internal/domain"
	"policyrag/internal/httpclient"
)

// Client is an OpenAI-compatible embeddings client. It also understands
// the Ollama response shape.
type Client struct {
	baseURL string
	model   string
	http    *httpclient.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu        sync.RWMutex
	dimension int
}

var _ domain.Embedder = (*Client)(nil)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := httpclient.New(cfg.Timeout, logger)
	hc.Headers["Authorization"] = "Bearer " + key

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

func (c *Client) Name() string { return "openai/" + c.model }

// Prepare is not required for remote embedding; the dimension is learned
// from the first response.
func (c *Client) Prepare(context.Context, []string) error { return nil }

func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

type embedRequest struct {
	Input  string `json:"input,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`
}

type embedResponse struct {
	// OpenAI shape
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama shape
	Embedding []float64 `json:"embedding"`
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out embedResponse
	err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/embeddings",
		embedRequest{Input: text, Prompt: text, Model: c.model}, &out)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	var v []float64
	switch {
	case len(out.Data) > 0 && len(out.Data[0].Embedding) > 0:
		v = out.Data[0].Embedding
	case len(out.Embedding) > 0:
		v = out.Embedding
	default:
		return nil, errors.New("openai embeddings: no embedding returned")
	}

	c.mu.Lock()
	if c.dimension == 0 {
		c.dimension = len(v)
	}
	c.mu.Unlock()
	return v, nil
}
