package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kousei/internal/analysis"
	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/config"
	"github.com/hyperjump/kousei/internal/embedding"
	"github.com/hyperjump/kousei/internal/hyde"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/llm"
	"github.com/hyperjump/kousei/internal/pipeline"
	"github.com/hyperjump/kousei/internal/retrieval"
	"go.uber.org/zap"
)

// Components holds every long-lived service a command may use.
type Components struct {
	Cache     *cache.Cache
	Analyzer  *analysis.CachedAnalyzer
	Chunker   *chunking.Chunker
	Embedder  embedding.Embedder
	Store     knowledge.Store
	Lexical   *knowledge.LexicalIndex // nil when disabled
	Generator llm.Generator
	HyDE      *hyde.Generator
	Combiner  *retrieval.Combiner
	Enricher  *pipeline.Enricher
	Ingestor  *knowledge.Ingestor

	sqlite   *cache.SQLiteStore     // set for the sqlite backend
	snapshot *knowledge.MemoryStore // set for the memory store
	cfg      *config.Config
	logger   *zap.Logger
}

// newGenerator builds the chat generator. Tests replace it.
var newGenerator = func(cfg *config.Config, logger *zap.Logger) (llm.Generator, error) {
	az := cfg.LLM.AzureConfig
	if az.APIKey == "" || az.Endpoint == "" || az.Deployment == "" {
		logger.Warn("no language model configured; queries fall back to chunk text and ingestion is unavailable")
		return llm.Unavailable{}, nil
	}
	gen, err := llm.NewAzureGenerator(az, llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	return llm.NewRetryingGenerator(gen, cfg.Retry,
		llm.WithRateLimit(cfg.LLM.RateLimit, cfg.LLM.Burst),
		llm.WithRetryLogger(logger),
	), nil
}

// openCache opens the configured cache backend.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*cache.Cache, *cache.SQLiteStore, error) {
	var store cache.Store
	var sqlite *cache.SQLiteStore
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		store = cache.NewMemoryStore()
	case config.CacheRedis:
		rc := cfg.Cache.Redis
		client, err := cache.ConnectRedis(ctx, rc.Addr, rc.Password, rc.MaxRetries, logger)
		if err != nil {
			return nil, nil, err
		}
		store = cache.NewRedisStore(client, rc.Prefix)
	default:
		s, err := cache.NewSQLiteStore(cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		store, sqlite = s, s
	}
	logger.Debug("cache opened", zap.String("backend", cfg.Cache.Backend))
	return cache.New(store, cache.WithTTL(cfg.Cache.TTL), cache.WithLogger(logger)), sqlite, nil
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) embedding.Embedder {
	var next embedding.Embedder
	if cfg.Embedding.Provider == config.EmbeddingAzure {
		e, err := embedding.NewOpenAIEmbedder(cfg.EmbeddingAzureConfig(), cfg.Embedding.Dimensions)
		if err != nil {
			logger.Warn("failed to create azure embedder, falling back to mock",
				zap.String("deployment", cfg.Embedding.Deployment), zap.Error(err))
		} else {
			next = e
		}
	}
	if next == nil {
		next = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	return embedding.NewCachedEmbedder(next, cfg.Embedding.CacheSize)
}

func (c *Components) openStore(ctx context.Context) error {
	kc := c.cfg.Knowledge
	dims := c.cfg.Embedding.Dimensions
	if kc.Store == config.StorePGVector {
		s, err := knowledge.NewPGVectorStore(ctx, kc.DSN, dims, knowledge.WithTable(kc.Table), knowledge.WithPGLogger(c.logger))
		if err != nil {
			return err
		}
		c.Store = s
		return nil
	}
	m, err := knowledge.NewMemoryStore(dims)
	if err != nil {
		return err
	}
	if kc.SnapshotPath != "" {
		if err := m.Load(kc.SnapshotPath); err != nil {
			return fmt.Errorf("failed to load knowledge snapshot: %w", err)
		}
	}
	c.Store, c.snapshot = m, m
	return nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{cfg: cfg, logger: logger}
	var err error
	if c.Cache, c.sqlite, err = openCache(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	c.Analyzer = analysis.NewCachedAnalyzer(analysis.NewLocalAnalyzer(), c.Cache,
		analysis.WithRetryPolicy(cfg.Retry), analysis.WithLogger(logger))
	if c.Chunker, err = chunking.NewChunker(cfg.Chunking.Constraints(), chunking.WithLogger(logger)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	c.Embedder = newEmbedder(cfg, logger)
	if err := c.openStore(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize knowledge store: %w", err)
	}
	if cfg.Knowledge.LexicalPath != "" {
		if c.Lexical, err = knowledge.NewLexicalIndex(cfg.Knowledge.LexicalPath, knowledge.WithFuzziness(1)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to initialize lexical index: %w", err)
		}
	}
	if c.Generator, err = newGenerator(cfg, logger); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.HyDE = hyde.NewGenerator(c.Generator, cfg.HyDE.Generator(),
		hyde.WithCache(c.Cache, cfg.LLM.Deployment), hyde.WithLogger(logger))
	var combinerOpts []retrieval.Option
	if c.Lexical != nil {
		combinerOpts = append(combinerOpts, retrieval.WithLexicalIndex(c.Lexical))
	}
	combinerOpts = append(combinerOpts, retrieval.WithLogger(logger))
	c.Combiner = retrieval.NewCombiner(c.Embedder, c.Store, cfg.Retrieval, combinerOpts...)
	c.Enricher = pipeline.NewEnricher(c.Chunker, c.HyDE, c.Combiner,
		pipeline.WithWorkers(cfg.Pipeline.Workers), pipeline.WithLogger(logger))

	mode, err := cfg.Knowledge.IngestMode()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("invalid knowledge split mode: %w", err)
	}
	extractor := knowledge.NewExtractor(c.Generator, c.Cache, cfg.Knowledge.Extractor, logger)
	ingestOpts := []knowledge.IngestorOption{
		knowledge.WithConcurrency(cfg.Knowledge.Concurrency),
		knowledge.WithSplitMode(mode),
		knowledge.WithIngestLogger(logger),
	}
	if c.Lexical != nil {
		ingestOpts = append(ingestOpts, knowledge.WithLexicalIndex(c.Lexical))
	}
	c.Ingestor = knowledge.NewIngestor(c.Analyzer, c.Chunker, extractor, c.Embedder, c.Store, ingestOpts...)

	logger.Debug("components initialized",
		zap.String("store", cfg.Knowledge.Store),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Bool("lexical", c.Lexical != nil))
	return c, nil
}

// SaveSnapshot persists the in-memory knowledge store. It is a no-op for other stores.
func (c *Components) SaveSnapshot() error {
	if c.snapshot == nil || c.cfg.Knowledge.SnapshotPath == "" {
		return nil
	}
	if err := c.snapshot.Save(c.cfg.Knowledge.SnapshotPath); err != nil {
		return fmt.Errorf("failed to save knowledge snapshot: %w", err)
	}
	return nil
}

// Close releases every opened component. It is safe on a partially built value.
func (c *Components) Close() error {
	var errs []error
	if c.Lexical != nil {
		errs = append(errs, c.Lexical.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	return errors.Join(errs...)
}
