package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"policyrag/internal/agent"
	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/embedding/cache"
	"policyrag/internal/embedding/gemini"
	"policyrag/internal/embedding/openai"
	"policyrag/internal/embedding/tfidf"
	geminillm "policyrag/internal/llm/gemini"
	openaillm "policyrag/internal/llm/openai"
	"policyrag/internal/loader"
	"policyrag/internal/logging"
	"policyrag/internal/retrieval"
	"policyrag/internal/service"
	"policyrag/internal/summarizer"
	"policyrag/internal/vectorstore/memory"
	"policyrag/internal/vectorstore/qdrant"
)

// app is everything a command needs after startup.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	svc     *service.RAGService
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}
	if len(docPaths) > 0 {
		cfg.Documents.Paths = docPaths
	}
	return cfg, nil
}

// setup validates configuration before touching any document, then
// builds and indexes everything. requireModel is false for retrieval-only
// commands; interactive keeps log output off the terminal.
func setup(ctx context.Context, requireModel, interactive bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(requireModel); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, verbose && !interactive)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	a := &app{cfg: cfg, logger: logger}

	emb, err := buildEmbedder(ctx, cfg, logger, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	var model domain.ChatModel
	if requireModel {
		if model, err = buildModel(ctx, cfg, logger); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	svc, err := service.Bootstrap(ctx, service.Components{
		Loader:     loader.New(logger),
		Chunker:    chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap),
		Embedder:   emb,
		Store:      buildStore(cfg, logger),
		Model:      model,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Retrieval: retrieval.Options{
			K:               cfg.Retrieval.K,
			Lambda:          cfg.Retrieval.Lambda(),
			MinChunkChars:   cfg.Retrieval.ChunkFloor(),
			MinScore:        cfg.Retrieval.MinScore,
			MaxContextChars: cfg.Retrieval.MaxContextChars,
			Delimiter:       cfg.Retrieval.Delimiter,
		},
		FetchK: cfg.Retrieval.FetchK,
		Agent: agent.Config{
			Persona:        cfg.Agent.Persona,
			Refusal:        cfg.Agent.Refusal,
			MaxIterations:  cfg.Agent.MaxIterations,
			HistoryTurns:   cfg.Agent.HistoryLimit(),
			EnforceRefusal: cfg.Agent.EnforcesRefusal(),
			MaxTokens:      cfg.LLM.MaxTokens,
			Temperature:    cfg.LLM.Temperature,
		},
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		Logger:              logger,
	}, cfg.Documents.Paths)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

// buildEmbedder selects the embedder and layers the caches on top. The
// on-disk cache only wraps remote embedders; TF-IDF vectors depend on the corpus.
func buildEmbedder(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, a *app) (domain.Embedder, error) {
	var (
		emb    domain.Embedder
		remote = true
	)
	switch cfg.Embedder.Type {
	case "tfidf":
		emb, remote = tfidf.NewEmbedder(), false
	case "openai":
		oc := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           oc.BaseURL,
			APIKeyEnv:         oc.APIKeyEnv,
			Model:             oc.Model,
			Timeout:           time.Duration(oc.TimeoutSecs) * time.Second,
			RequestsPerSecond: oc.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		emb = client
	case "gemini":
		gc := cfg.Embedder.Gemini
		e, err := gemini.NewEmbedder(ctx, gemini.Config{APIKeyEnv: gc.APIKeyEnv, Model: gc.Model, TaskType: gc.TaskType})
		if err != nil {
			return nil, err
		}
		emb = e
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, cfg.Embedder.Type)
	}

	cc := cfg.Embedder.Cache
	if remote && cc.SQLitePath != "" {
		store, err := cache.Open(cc.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		a.closers = append(a.closers, store.Close)
		emb = cache.WrapStore(emb, store, logger)
	}
	if cc.QueryCacheSize > 0 {
		emb = cache.WrapLRU(emb, cc.QueryCacheSize, time.Duration(cc.QueryCacheTTLSecs)*time.Second, logger)
	}
	return emb, nil
}

func buildStore(cfg *config.AppConfig, logger *zap.Logger) domain.VectorStore {
	if cfg.VectorStore.Type == "qdrant" {
		qc := cfg.VectorStore.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: qc.Collection,
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
			Logger:     logger,
		})
	}
	return memory.NewStorage()
}

func buildModel(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (domain.ChatModel, error) {
	switch cfg.LLM.Type {
	case "openai":
		oc := cfg.LLM.OpenAI
		return openaillm.New(openaillm.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
			Logger:    logger,
		})
	case "gemini":
		gc := cfg.LLM.Gemini
		return geminillm.New(ctx, geminillm.Config{APIKeyEnv: gc.APIKeyEnv, Model: gc.Model, Logger: logger})
	default:
		return nil, fmt.Errorf("%w: unknown llm: %s", domain.ErrConfiguration, cfg.LLM.Type)
	}
}
