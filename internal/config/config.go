// Package config loads the kousei configuration file and the secrets overlaid from the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/hyde"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/llm"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/internal/retrieval"
	"github.com/hyperjump/kousei/internal/retry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables holding secrets. They override the file.
const (
	EnvAPIKey    = "AZURE_OPENAI_API_KEY"
	EnvEndpoint  = "AZURE_OPENAI_ENDPOINT"
	EnvPGDSN     = "KOUSEI_PG_DSN"
	EnvRedisAddr = "KOUSEI_REDIS_ADDR"
)

// Config holds all configuration for kousei.
type Config struct {
	Debug     bool             `yaml:"debug"`
	Chunking  ChunkingConfig   `yaml:"chunking"`
	Cache     CacheConfig      `yaml:"cache"`
	LLM       LLMConfig        `yaml:"llm"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	HyDE      HyDEConfig       `yaml:"hyde"`
	Retrieval retrieval.Config `yaml:"retrieval"`
	Knowledge KnowledgeConfig  `yaml:"knowledge"`
	Retry     retry.Policy     `yaml:"retry"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Watch     WatchConfig      `yaml:"watch"`
}

// ChunkingConfig holds the default split mode and chunk size bounds, in characters.
type ChunkingConfig struct {
	Mode             string `yaml:"mode"`
	MaxLength        int    `yaml:"max_length"`
	TargetLength     int    `yaml:"target_length"`
	MinLength        int    `yaml:"min_length"`
	OverlapSentences *int   `yaml:"overlap_sentences"`
}

// SplitMode returns the configured mode.
func (c ChunkingConfig) SplitMode() (models.SplitMode, error) {
	return models.ParseSplitMode(c.Mode)
}

// Constraints converts the section into chunker constraints.
func (c ChunkingConfig) Constraints() chunking.Constraints {
	overlap := chunking.DefaultOverlapSentences
	if c.OverlapSentences != nil {
		overlap = *c.OverlapSentences
	}
	return chunking.Constraints{
		MinLength:        c.MinLength,
		MaxLength:        c.MaxLength,
		TargetLength:     c.TargetLength,
		OverlapSentences: overlap,
	}
}

// Cache backends.
const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// CacheConfig selects and tunes the content-addressed cache.
type CacheConfig struct {
	Backend string              `yaml:"backend"`
	Path    string              `yaml:"path"`
	TTL     time.Duration       `yaml:"ttl"`
	Cleanup cache.CleanupPolicy `yaml:"cleanup"`
	Redis   RedisConfig         `yaml:"redis"`
}

// RedisConfig locates a shared Redis cache.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"-"`
	Prefix     string `yaml:"prefix"`
	MaxRetries int    `yaml:"max_retries"`
}

// LLMConfig is the Azure OpenAI chat deployment plus client-side rate limiting.
type LLMConfig struct {
	llm.AzureConfig `yaml:",inline"`
	RateLimit       float64 `yaml:"rate_limit"`
	Burst           int     `yaml:"burst"`
}

// Embedding providers.
const (
	EmbeddingMock  = "mock"
	EmbeddingAzure = "azure"
)

// EmbeddingConfig selects the embedder. The azure provider reuses the llm endpoint and key.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Deployment string `yaml:"deployment"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// EmbeddingAzureConfig returns the Azure settings for the embedding deployment.
func (c *Config) EmbeddingAzureConfig() llm.AzureConfig {
	az := c.LLM.AzureConfig
	az.Deployment = c.Embedding.Deployment
	return az
}

// HyDEConfig tunes query generation.
type HyDEConfig struct {
	MaxQueries          int   `yaml:"max_queries"`
	MinQueries          int   `yaml:"min_queries"`
	MinSectionLength    int   `yaml:"min_section_length"`
	MaxSectionLength    int   `yaml:"max_section_length"`
	IncludeHypothetical *bool `yaml:"include_hypothetical"`
}

// Generator converts the section into generator settings. IncludeHypothetical defaults
// to true when unset.
func (h HyDEConfig) Generator() hyde.Config {
	include := true
	if h.IncludeHypothetical != nil {
		include = *h.IncludeHypothetical
	}
	return hyde.Config{
		MaxQueries:          h.MaxQueries,
		MinQueries:          h.MinQueries,
		MinSectionLength:    h.MinSectionLength,
		MaxSectionLength:    h.MaxSectionLength,
		IncludeHypothetical: include,
	}
}

// Knowledge stores.
const (
	StoreMemory   = "memory"
	StorePGVector = "pgvector"
)

// KnowledgeConfig holds the knowledge base location and ingestion settings.
type KnowledgeConfig struct {
	Store        string `yaml:"store"`
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	SnapshotPath string `yaml:"snapshot_path"`
	// LexicalPath is the bleve index directory. Empty disables the lexical index.
	LexicalPath string                    `yaml:"lexical_path"`
	Directories []string                  `yaml:"directories"`
	SplitMode   string                    `yaml:"split_mode"`
	Concurrency int                       `yaml:"concurrency"`
	Extractor   knowledge.ExtractorConfig `yaml:"extractor"`
}

// IngestMode returns the split mode used when ingesting knowledge files.
func (k KnowledgeConfig) IngestMode() (models.SplitMode, error) {
	return models.ParseSplitMode(k.SplitMode)
}

// PipelineConfig bounds document enrichment.
type PipelineConfig struct {
	Workers int `yaml:"workers"`
}

// WatchConfig controls the knowledge directory watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	// SyncOnStart ingests existing files before watching; defaults to true when unset.
	SyncOnStart *bool `yaml:"sync_on_start"`
}

// SyncOnStartOrDefault returns whether to sync existing files on start.
func (w *WatchConfig) SyncOnStartOrDefault() bool {
	if w.SyncOnStart != nil {
		return *w.SyncOnStart
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths and
// overlays secrets from the environment and from a .env file next to the config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	configDir := filepath.Dir(path)
	if err := finish(&cfg, configDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists. Relative default
// paths resolve against the home directory.
func Default() (*Config, error) {
	var cfg Config
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := finish(&cfg, wd); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config, configDir string) error {
	ApplyDefaults(cfg)
	cfg.Cache.Path = expandPath(cfg.Cache.Path, configDir)
	cfg.Knowledge.SnapshotPath = expandPath(cfg.Knowledge.SnapshotPath, configDir)
	if cfg.Knowledge.LexicalPath != "" {
		cfg.Knowledge.LexicalPath = expandPath(cfg.Knowledge.LexicalPath, configDir)
	}
	for i := range cfg.Knowledge.Directories {
		cfg.Knowledge.Directories[i] = expandPath(cfg.Knowledge.Directories[i], configDir)
	}
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return err
	}
	applyEnv(cfg)
	return cfg.Validate()
}

// loadDotEnv sets variables from a .env file without overriding the process environment.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv(EnvPGDSN); v != "" {
		cfg.Knowledge.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Cache.Redis.Addr = v
	}
}

// Validate reports settings that name unknown modes or backends.
func (c *Config) Validate() error {
	if _, err := c.Chunking.SplitMode(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if _, err := c.Knowledge.IngestMode(); err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	if _, err := c.Chunking.Constraints().Normalize(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	switch c.Cache.Backend {
	case CacheSQLite, CacheRedis, CacheMemory:
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}
	switch c.Knowledge.Store {
	case StoreMemory, StorePGVector:
	default:
		return fmt.Errorf("knowledge: unknown store %q", c.Knowledge.Store)
	}
	switch c.Embedding.Provider {
	case EmbeddingMock, EmbeddingAzure:
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider)
	}
	return nil
}

// Save writes the config to path. Secrets are not written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
