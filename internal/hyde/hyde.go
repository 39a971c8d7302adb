// Package hyde derives retrieval queries for a chunk by asking an LLM for a hypothetical
// reviewer note (Hypothetical Document Embeddings) and a list of short search queries.
package hyde

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/llm"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/pkg/utils"
	"go.uber.org/zap"
)

// LabelHyDE is the cache label of generated queries.
const LabelHyDE = "hyde"

const promptVersion = 1

const systemPrompt = `You are an experienced proofreader of English academic papers written in LaTeX.
Given a passage, first write a short hypothetical reviewer note describing the writing issues such a passage
typically has (grammar, style, terminology, LaTeX usage, structure). Then list short search queries that would
find proofreading guidance relevant to this passage in a knowledge base.
Answer exactly in this format:
HYPOTHETICAL:
<one paragraph>
QUERIES:
- <query>
- <query>`

// Config controls query generation.
type Config struct {
	MaxQueries          int  `yaml:"max_queries"`
	MinQueries          int  `yaml:"min_queries"`
	MinSectionLength    int  `yaml:"min_section_length"`
	MaxSectionLength    int  `yaml:"max_section_length"`
	IncludeHypothetical bool `yaml:"include_hypothetical"`
}

// DefaultConfig returns the generation settings used when configuration is silent.
func DefaultConfig() Config {
	return Config{
		MaxQueries:          10,
		MinQueries:          3,
		MinSectionLength:    10,
		MaxSectionLength:    5000,
		IncludeHypothetical: true,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxQueries <= 0 {
		c.MaxQueries = d.MaxQueries
	}
	if c.MinQueries <= 0 {
		c.MinQueries = d.MinQueries
	}
	if c.MinSectionLength < 0 {
		c.MinSectionLength = 0
	}
	if c.MaxSectionLength <= 0 {
		c.MaxSectionLength = d.MaxSectionLength
	}
	return c
}

// Fallback reasons recorded on HyDEQuery.FallbackReason.
const (
	ReasonTooShort   = "chunk shorter than minimum section length"
	ReasonGeneration = "generation failed"
	ReasonNoQueries  = "response contained no queries"
)

var errNoQueries = errors.New("no queries in response")

// Generator produces HyDE queries for chunks.
type Generator struct {
	gen    llm.Generator
	cfg    Config
	cache  *cache.Cache // optional
	model  string
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithCache stores generated queries keyed by chunk text and model, so reruns over an
// unchanged document skip the LLM.
func WithCache(c *cache.Cache, model string) Option {
	return func(g *Generator) {
		g.cache = c
		g.model = model
	}
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator. Zero config fields take their defaults.
func NewGenerator(gen llm.Generator, cfg Config, opts ...Option) *Generator {
	g := &Generator{gen: gen, cfg: cfg.normalize(), now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

type generated struct {
	Hypothetical string   `json:"hypothetical"`
	Queries      []string `json:"queries"`
}

// Generate returns the queries for chunk. It always yields at least one query: when the
// chunk is too short or generation fails, the chunk text itself is the single query and
// Fallback is set.
func (g *Generator) Generate(ctx context.Context, chunk *models.Chunk) *models.HyDEQuery {
	q := &models.HyDEQuery{ChunkIndex: chunk.Index, CreatedAt: g.now()}
	text := strings.TrimSpace(chunk.Text)
	if utils.RuneLen(text) < g.cfg.MinSectionLength {
		return g.fallback(q, chunk, ReasonTooShort, nil)
	}

	res, err := g.generate(ctx, text)
	if err != nil {
		reason := ReasonGeneration
		if errors.Is(err, errNoQueries) {
			reason = ReasonNoQueries
		}
		return g.fallback(q, chunk, reason, err)
	}

	q.Hypothetical = res.Hypothetical
	if g.cfg.IncludeHypothetical && res.Hypothetical != "" {
		q.Queries = dedupe(append([]string{res.Hypothetical}, res.Queries...))
	} else {
		q.Queries = res.Queries
	}
	if len(q.Queries) > g.cfg.MaxQueries {
		g.logger.Debug("capping hyde queries", zap.Int("chunk", chunk.Index), zap.Int("generated", len(q.Queries)), zap.Int("max", g.cfg.MaxQueries))
		q.Queries = q.Queries[:g.cfg.MaxQueries]
	}
	if len(q.Queries) == 0 {
		return g.fallback(q, chunk, ReasonNoQueries, nil)
	}
	if len(q.Queries) < g.cfg.MinQueries {
		g.logger.Debug("few hyde queries generated", zap.Int("chunk", chunk.Index), zap.Int("queries", len(q.Queries)))
	}
	return q
}

func (g *Generator) fallback(q *models.HyDEQuery, chunk *models.Chunk, reason string, err error) *models.HyDEQuery {
	fields := []zap.Field{zap.Int("chunk", chunk.Index), zap.String("reason", reason)}
	if err != nil {
		g.logger.Warn("hyde generation fell back to chunk text", append(fields, zap.Error(err))...)
	} else {
		g.logger.Debug("hyde generation skipped", fields...)
	}
	query := strings.TrimSpace(chunk.Text)
	if query == "" {
		query = chunk.Text
	}
	q.Queries = []string{query}
	q.Fallback = true
	q.FallbackReason = reason
	return q
}

func (g *Generator) generate(ctx context.Context, text string) (*generated, error) {
	call := func(ctx context.Context) ([]byte, error) {
		out, err := g.gen.Generate(ctx, llm.Prompt{
			System: systemPrompt,
			User:   utils.Truncate(text, g.cfg.MaxSectionLength),
		})
		if err != nil {
			return nil, err
		}
		res := parseResponse(out)
		if len(res.Queries) == 0 && (!g.cfg.IncludeHypothetical || res.Hypothetical == "") {
			return nil, errNoQueries
		}
		return json.Marshal(res)
	}

	var payload []byte
	var err error
	if g.cache == nil {
		payload, err = call(ctx)
	} else {
		var key cache.Key
		key, err = cache.Fingerprint([]byte(text), cache.Params{
			"model":                g.model,
			"prompt_version":       promptVersion,
			"max_section_length":   g.cfg.MaxSectionLength,
			"include_hypothetical": g.cfg.IncludeHypothetical,
		})
		if err != nil {
			return nil, err
		}
		payload, err = g.cache.GetOrCompute(ctx, key, call, cache.Labeled(LabelHyDE))
	}
	if err != nil {
		return nil, err
	}

	var res generated
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to decode hyde payload: %w", err)
	}
	return &res, nil
}
