package config

import (
	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/hyde"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/internal/pipeline"
	"github.com/hyperjump/kousei/internal/retrieval"
	"github.com/hyperjump/kousei/internal/watcher"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Chunking.Mode == "" {
		cfg.Chunking.Mode = string(models.SplitHybrid)
	}
	if cfg.Chunking.MaxLength == 0 {
		cfg.Chunking.MaxLength = chunking.DefaultMaxLength
	}
	if cfg.Chunking.TargetLength == 0 {
		cfg.Chunking.TargetLength = chunking.DefaultTargetLength
	}
	if cfg.Chunking.MinLength == 0 {
		cfg.Chunking.MinLength = chunking.DefaultMinLength
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheSQLite
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = ".kousei/cache/cache.db"
	}
	if cfg.Cache.Redis.MaxRetries == 0 {
		cfg.Cache.Redis.MaxRetries = 3
	}

	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = EmbeddingMock
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	hd := hyde.DefaultConfig()
	if cfg.HyDE.MaxQueries == 0 {
		cfg.HyDE.MaxQueries = hd.MaxQueries
	}
	if cfg.HyDE.MinQueries == 0 {
		cfg.HyDE.MinQueries = hd.MinQueries
	}
	if cfg.HyDE.MinSectionLength == 0 {
		cfg.HyDE.MinSectionLength = hd.MinSectionLength
	}
	if cfg.HyDE.MaxSectionLength == 0 {
		cfg.HyDE.MaxSectionLength = hd.MaxSectionLength
	}

	rd := retrieval.DefaultConfig()
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = rd.TopK
	}
	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = rd.Limit
	}
	if cfg.Retrieval.ScoreFloor == 0 {
		cfg.Retrieval.ScoreFloor = rd.ScoreFloor
	}
	if cfg.Retrieval.LexicalTopK == 0 {
		cfg.Retrieval.LexicalTopK = rd.LexicalTopK
	}

	if cfg.Knowledge.Store == "" {
		cfg.Knowledge.Store = StoreMemory
	}
	if cfg.Knowledge.Table == "" {
		cfg.Knowledge.Table = "knowledge_items"
	}
	if cfg.Knowledge.SnapshotPath == "" {
		cfg.Knowledge.SnapshotPath = ".kousei/knowledge/knowledge.bin"
	}
	if cfg.Knowledge.SplitMode == "" {
		cfg.Knowledge.SplitMode = string(models.SplitSection)
	}
	if cfg.Knowledge.Concurrency == 0 {
		cfg.Knowledge.Concurrency = 4
	}
	xd := knowledge.DefaultExtractorConfig()
	if cfg.Knowledge.Extractor.MinDescriptionLen == 0 {
		cfg.Knowledge.Extractor.MinDescriptionLen = xd.MinDescriptionLen
	}
	if cfg.Knowledge.Extractor.MaxDescriptionLen == 0 {
		cfg.Knowledge.Extractor.MaxDescriptionLen = xd.MaxDescriptionLen
	}
	if cfg.Knowledge.Extractor.Model == "" {
		cfg.Knowledge.Extractor.Model = cfg.LLM.Deployment
	}

	cfg.Retry = cfg.Retry.Normalize()

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = pipeline.DefaultWorkers
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = watcher.DefaultDebounce
	}
}
