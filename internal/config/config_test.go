package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kousei/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
chunking:
  mode: section
  max_length: 1200
cache:
  backend: memory
  ttl: 24h
  cleanup:
    max_age: 720h
    min_hits: 2
llm:
  endpoint: https://example.openai.azure.com
  deployment: gpt-4o
  timeout: 45s
  rate_limit: 2.5
hyde:
  max_queries: 5
  include_hypothetical: false
retrieval:
  top_k: 3
  filter:
    knowledge_type: style
retry:
  max_attempts: 6
  initial_delay: 250ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	mode, err := cfg.Chunking.SplitMode()
	if err != nil || mode != models.SplitSection {
		t.Errorf("chunking mode = %v, %v", mode, err)
	}
	if c := cfg.Chunking.Constraints(); c.MaxLength != 1200 || c.TargetLength != 1500 || c.OverlapSentences != 1 {
		t.Errorf("constraints = %+v", c)
	}
	if cfg.Cache.Backend != CacheMemory || cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Cache.Cleanup.MaxAge != 720*time.Hour || cfg.Cache.Cleanup.MinHits != 2 {
		t.Errorf("cleanup = %+v", cfg.Cache.Cleanup)
	}
	if cfg.LLM.Deployment != "gpt-4o" || cfg.LLM.Timeout != 45*time.Second || cfg.LLM.RateLimit != 2.5 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Knowledge.Extractor.Model != "gpt-4o" {
		t.Errorf("extractor model should default to the llm deployment, got %q", cfg.Knowledge.Extractor.Model)
	}
	if h := cfg.HyDE.Generator(); h.MaxQueries != 5 || h.IncludeHypothetical || h.MinQueries != 3 {
		t.Errorf("hyde = %+v", h)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.Limit != 10 || cfg.Retrieval.Filter.KnowledgeType != "style" {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Retry.MaxAttempts != 6 || cfg.Retry.InitialDelay != 250*time.Millisecond || cfg.Retry.Multiplier != 2 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
cache:
  path: ./data/cache.db
knowledge:
  snapshot_path: ./data/knowledge.bin
  lexical_path: ./data/lexical.bleve
  directories: ["./knowledge/style", "/abs/paper"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "cache.db"); cfg.Cache.Path != want {
		t.Errorf("cache path = %s, want %s", cfg.Cache.Path, want)
	}
	if want := filepath.Join(dir, "data", "lexical.bleve"); cfg.Knowledge.LexicalPath != want {
		t.Errorf("lexical path = %s, want %s", cfg.Knowledge.LexicalPath, want)
	}
	if len(cfg.Knowledge.Directories) != 2 {
		t.Fatalf("knowledge directories: got %d", len(cfg.Knowledge.Directories))
	}
	if want := filepath.Join(dir, "knowledge", "style"); cfg.Knowledge.Directories[0] != want {
		t.Errorf("directory = %s, want %s", cfg.Knowledge.Directories[0], want)
	}
	if cfg.Knowledge.Directories[1] != "/abs/paper" {
		t.Errorf("absolute directory changed: %s", cfg.Knowledge.Directories[1])
	}
}

func TestLoad_secretsFromDotEnvAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
llm:
  endpoint: https://file.example.com
knowledge:
  dsn: postgres://file
`)
	dir := filepath.Dir(path)
	env := "AZURE_OPENAI_API_KEY=from-dotenv\nKOUSEI_PG_DSN=postgres://dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvPGDSN, "")
	t.Setenv(EnvEndpoint, "https://env.example.com")
	t.Setenv(EnvRedisAddr, "localhost:6380")
	// Unset so godotenv may fill them.
	os.Unsetenv(EnvAPIKey)
	os.Unsetenv(EnvPGDSN)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "from-dotenv" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Endpoint != "https://env.example.com" {
		t.Errorf("endpoint = %q, environment should win over the file", cfg.LLM.Endpoint)
	}
	if cfg.Knowledge.DSN != "postgres://dotenv" {
		t.Errorf("dsn = %q", cfg.Knowledge.DSN)
	}
	if cfg.Cache.Redis.Addr != "localhost:6380" {
		t.Errorf("redis addr = %q", cfg.Cache.Redis.Addr)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown split mode", "chunking:\n  mode: paragraphs\n"},
		{"unknown cache backend", "cache:\n  backend: memcached\n"},
		{"unknown store", "knowledge:\n  store: faiss\n"},
		{"unknown embedding provider", "embedding:\n  provider: onnx\n"},
		{"negative max length", "chunking:\n  max_length: -5\n"},
		{"malformed yaml", "chunking: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Chunking.Mode != string(models.SplitHybrid) {
		t.Errorf("default mode: got %s", cfg.Chunking.Mode)
	}
	if cfg.Cache.Backend != CacheSQLite {
		t.Errorf("default cache backend: got %s", cfg.Cache.Backend)
	}
	if cfg.Knowledge.Store != StoreMemory || cfg.Knowledge.SplitMode != string(models.SplitSection) {
		t.Errorf("knowledge defaults: %+v", cfg.Knowledge)
	}
	if cfg.Embedding.Provider != EmbeddingMock || cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Retrieval.TopK != 1 || cfg.Retrieval.Limit != 10 || cfg.Retrieval.ScoreFloor != 0.7 {
		t.Errorf("retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("retry defaults: %+v", cfg.Retry)
	}
	if !cfg.HyDE.Generator().IncludeHypothetical {
		t.Error("include_hypothetical should default to true")
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("workers: got %d", cfg.Pipeline.Workers)
	}
}

func TestKnowledgeConfig_IngestMode(t *testing.T) {
	mode, err := KnowledgeConfig{SplitMode: "command"}.IngestMode()
	if err != nil || mode != models.SplitCommand {
		t.Errorf("IngestMode() = %v, %v", mode, err)
	}
	if _, err := (KnowledgeConfig{}).IngestMode(); err == nil {
		t.Error("empty split mode should be rejected")
	}
	if _, err := (KnowledgeConfig{SplitMode: "paragraph"}).IngestMode(); err == nil {
		t.Error("unknown split mode should be rejected")
	}
}

func TestWatchConfig_SyncOnStartOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if !w.SyncOnStartOrDefault() {
			t.Error("SyncOnStartOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{SyncOnStart: &f}
		if w.SyncOnStartOrDefault() {
			t.Error("SyncOnStartOrDefault() = true, want false")
		}
	})
}

func TestEmbeddingAzureConfig(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.Endpoint = "https://x"
	cfg.LLM.APIKey = "k"
	cfg.LLM.Deployment = "chat"
	cfg.Embedding.Deployment = "embed"
	az := cfg.EmbeddingAzureConfig()
	if az.Deployment != "embed" || az.Endpoint != "https://x" || az.APIKey != "k" {
		t.Errorf("azure embedding config = %+v", az)
	}
	if cfg.LLM.Deployment != "chat" {
		t.Error("llm deployment must not change")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{}
	cfg.Chunking.Mode = "sentence"
	cfg.LLM.APIKey = "secret"
	cfg.Pipeline.Workers = 9
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("api key must not be written")
	}
	t.Setenv(EnvAPIKey, "")
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Pipeline.Workers != 9 || loaded.Chunking.Mode != "sentence" {
		t.Errorf("loaded = %+v %+v", loaded.Pipeline, loaded.Chunking)
	}
}
