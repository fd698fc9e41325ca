package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"policyrag/internal/domain"
)

// DocumentsConfig lists the source documents to index.
type DocumentsConfig struct {
	Paths []string `yaml:"paths"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type      string `yaml:"type"`
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GeminiConfig holds configuration shared by the Gemini embedder and model.
// TaskType only applies to embeddings, e.g. RETRIEVAL_DOCUMENT.
type GeminiConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	TaskType  string `yaml:"task_type,omitempty"`
}

// EmbeddingCacheConfig configures the query LRU and the on-disk vector cache.
type EmbeddingCacheConfig struct {
	QueryCacheSize    int    `yaml:"query_cache_size"`
	QueryCacheTTLSecs int    `yaml:"query_cache_ttl_secs"`
	SQLitePath        string `yaml:"sqlite_path"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Gemini *GeminiConfig         `yaml:"gemini,omitempty"`
	Cache  EmbeddingCacheConfig  `yaml:"cache"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig configures the retrieval tool.
type RetrievalConfig struct {
	K               int      `yaml:"k"`
	DiversityLambda *float64 `yaml:"diversity_lambda,omitempty"`
	FetchK          int      `yaml:"fetch_k"`
	MinChunkChars   int      `yaml:"min_chunk_chars"`
	MinScore        float64  `yaml:"min_score"`
	MaxContextChars int      `yaml:"max_context_chars"`
	Delimiter       string   `yaml:"delimiter"`
}

// OpenAILLMConfig configures the OpenAI-compatible chat model.
type OpenAILLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig selects and configures the answering model.
type LLMConfig struct {
	Type        string           `yaml:"type"`
	MaxTokens   int              `yaml:"max_tokens"`
	Temperature float64          `yaml:"temperature"`
	OpenAI      *OpenAILLMConfig `yaml:"openai,omitempty"`
	Gemini      *GeminiConfig    `yaml:"gemini,omitempty"`
}

// AgentConfig configures the answering agent.
type AgentConfig struct {
	Persona        string `yaml:"persona"`
	Refusal        string `yaml:"refusal"`
	MaxIterations  int    `yaml:"max_iterations"`
	HistoryTurns   int    `yaml:"history_turns"`
	EnforceRefusal *bool  `yaml:"enforce_refusal,omitempty"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Documents   DocumentsConfig   `yaml:"documents"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	LLM         LLMConfig         `yaml:"llm"`
	Agent       AgentConfig       `yaml:"agent"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfiguration, path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/policyrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/policyrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RequiredSecrets returns the environment variables that must be set for
// the configured components. The model key is only needed when requireModel is set.
func (c *AppConfig) RequiredSecrets(requireModel bool) []string {
	var envs []string
	if requireModel {
		switch c.LLM.Type {
		case "openai":
			envs = append(envs, c.LLM.OpenAI.APIKeyEnv)
		case "gemini":
			envs = append(envs, c.LLM.Gemini.APIKeyEnv)
		}
	}
	switch c.Embedder.Type {
	case "openai":
		envs = appendUnique(envs, c.Embedder.OpenAI.APIKeyEnv)
	case "gemini":
		envs = appendUnique(envs, c.Embedder.Gemini.APIKeyEnv)
	}
	return envs
}

// Validate checks component selections and that every required secret is present.
func (c *AppConfig) Validate(requireModel bool) error {
	switch c.Chunker.Type {
	case "recursive":
	default:
		return fmt.Errorf("%w: unknown chunker: %s", domain.ErrConfiguration, c.Chunker.Type)
	}
	switch c.Embedder.Type {
	case "tfidf", "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return fmt.Errorf("%w: qdrant url missing", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown vector store: %s", domain.ErrConfiguration, c.VectorStore.Type)
	}
	if requireModel {
		switch c.LLM.Type {
		case "openai", "gemini":
		default:
			return fmt.Errorf("%w: unknown llm: %s", domain.ErrConfiguration, c.LLM.Type)
		}
	}
	if c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			domain.ErrConfiguration, c.Chunker.Overlap, c.Chunker.ChunkSize)
	}
	if l := c.Retrieval.Lambda(); l < 0 || l > 1 {
		return fmt.Errorf("%w: diversity_lambda must be within [0, 1]", domain.ErrConfiguration)
	}
	if len(c.Documents.Paths) == 0 {
		return fmt.Errorf("%w: no document paths configured", domain.ErrConfiguration)
	}
	for _, env := range c.RequiredSecrets(requireModel) {
		if os.Getenv(env) == "" {
			return fmt.Errorf("%w: API key not found, set %s in the environment or .env file",
				domain.ErrConfiguration, env)
		}
	}
	return nil
}

// EnforcesRefusal reports whether the agent replaces sentinel-only answers with the refusal.
func (a AgentConfig) EnforcesRefusal() bool {
	return a.EnforceRefusal == nil || *a.EnforceRefusal
}

// Lambda returns the MMR diversity trade-off, 0.7 when unset.
func (r RetrievalConfig) Lambda() float64 {
	if r.DiversityLambda == nil {
		return 0.7
	}
	return *r.DiversityLambda
}

// ChunkFloor returns the minimum chunk length kept by the retrieval tool; 0 disables the filter.
func (r RetrievalConfig) ChunkFloor() int {
	if r.MinChunkChars < 0 {
		return 0
	}
	return r.MinChunkChars
}

// HistoryLimit returns how many prior turns are sent to the model; 0 disables history.
func (a AgentConfig) HistoryLimit() int {
	if a.HistoryTurns < 0 {
		return 0
	}
	return a.HistoryTurns
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policyrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Documents: DocumentsConfig{Paths: []string{"data/policy.pdf"}},
		Chunker:   ChunkerConfig{Type: "recursive"},
		Embedder:  EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{
			Type: "memory",
		},
		LLM:        LLMConfig{Type: "openai"},
		Summarizer: SummarizerConfig{Type: "frequency"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "recursive"
	}
	if cfg.Chunker.ChunkSize <= 0 {
		cfg.Chunker.ChunkSize = 800
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 80
		}
	}
	if cfg.Chunker.Overlap < 0 {
		cfg.Chunker.Overlap = 0
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.RequestsPerSecond == 0 {
			cfg.Embedder.OpenAI.RequestsPerSecond = 5
		}
	}
	if cfg.Embedder.Type == "gemini" {
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiConfig{}
		}
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Embedder.Gemini.Model == "" {
			cfg.Embedder.Gemini.Model = "text-embedding-004"
		}
	}
	if cfg.Embedder.Cache.QueryCacheSize == 0 {
		cfg.Embedder.Cache.QueryCacheSize = 256
	}
	if cfg.Embedder.Cache.QueryCacheTTLSecs == 0 {
		cfg.Embedder.Cache.QueryCacheTTLSecs = 600
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "policyrag"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}

	if cfg.Retrieval.K <= 0 {
		cfg.Retrieval.K = 6
	}
	if cfg.Retrieval.DiversityLambda == nil {
		lambda := 0.7
		cfg.Retrieval.DiversityLambda = &lambda
	}
	if cfg.Retrieval.FetchK <= 0 {
		cfg.Retrieval.FetchK = 20
	}
	if cfg.Retrieval.MinChunkChars == 0 {
		cfg.Retrieval.MinChunkChars = 50
	}
	if cfg.Retrieval.MaxContextChars <= 0 {
		cfg.Retrieval.MaxContextChars = 4000
	}
	if cfg.Retrieval.Delimiter == "" {
		cfg.Retrieval.Delimiter = "\n\n---\n\n"
	}

	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "openai"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 500
	}
	if cfg.LLM.Type == "openai" {
		if cfg.LLM.OpenAI == nil {
			cfg.LLM.OpenAI = &OpenAILLMConfig{}
		}
		if cfg.LLM.OpenAI.BaseURL == "" {
			cfg.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.LLM.OpenAI.APIKeyEnv == "" {
			cfg.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.LLM.OpenAI.Model == "" {
			cfg.LLM.OpenAI.Model = "gpt-4o-mini"
		}
		if cfg.LLM.OpenAI.TimeoutSecs == 0 {
			cfg.LLM.OpenAI.TimeoutSecs = 120
		}
	}
	if cfg.LLM.Type == "gemini" {
		if cfg.LLM.Gemini == nil {
			cfg.LLM.Gemini = &GeminiConfig{}
		}
		if cfg.LLM.Gemini.APIKeyEnv == "" {
			cfg.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.LLM.Gemini.Model == "" {
			cfg.LLM.Gemini.Model = "gemini-2.0-flash"
		}
	}

	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = 4
	}
	if cfg.Agent.HistoryTurns == 0 {
		cfg.Agent.HistoryTurns = 10
	}

	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}

	if cfg.Log.File == "" {
		cfg.Log.File = "policyrag.log"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 7
	}
}
