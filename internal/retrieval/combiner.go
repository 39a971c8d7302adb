// Package retrieval looks up proofreading knowledge for a chunk's HyDE queries and merges
// the per-query hits into one ranked list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperjump/kousei/internal/embedding"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/models"
	"go.uber.org/zap"
)

// ErrNoQueries is returned when a HyDEQuery carries no query strings.
var ErrNoQueries = errors.New("no queries to retrieve for")

// Config controls retrieval.
type Config struct {
	// TopK is the number of hits requested per query.
	TopK int `yaml:"top_k"`
	// Limit caps the merged list.
	Limit int `yaml:"limit"`
	// ScoreFloor drops merged hits scoring below it.
	ScoreFloor float64                `yaml:"score_floor"`
	Filter     models.KnowledgeFilter `yaml:"filter"`
	// LexicalWeight scales max-normalized lexical scores before merging. Zero disables
	// the lexical leg.
	LexicalWeight float64 `yaml:"lexical_weight"`
	LexicalTopK   int     `yaml:"lexical_top_k"`
}

// DefaultConfig returns the retrieval settings used when configuration is silent.
func DefaultConfig() Config {
	return Config{TopK: 1, Limit: 10, ScoreFloor: 0.7, LexicalTopK: 5}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.LexicalTopK <= 0 {
		c.LexicalTopK = d.LexicalTopK
	}
	if c.LexicalWeight < 0 {
		c.LexicalWeight = 0
	}
	return c
}

// Combiner embeds queries, searches the knowledge store once per query and merges the hits.
type Combiner struct {
	embedder embedding.Embedder
	store    knowledge.Store
	lexical  *knowledge.LexicalIndex // optional
	cfg      Config
	logger   *zap.Logger
}

// Option configures a Combiner.
type Option func(*Combiner)

// WithLexicalIndex adds a keyword leg over item descriptions. It only contributes when
// Config.LexicalWeight is positive.
func WithLexicalIndex(l *knowledge.LexicalIndex) Option {
	return func(c *Combiner) { c.lexical = l }
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Combiner) { c.logger = l }
}

// NewCombiner creates a Combiner. Zero config fields take their defaults.
func NewCombiner(e embedding.Embedder, s knowledge.Store, cfg Config, opts ...Option) *Combiner {
	c := &Combiner{embedder: e, store: s, cfg: cfg.normalize(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Combiner) Config() Config {
	return c.cfg
}

// Retrieve returns the merged hits for q. An empty list is a valid outcome. Individual
// query searches may fail as long as one succeeds.
func (c *Combiner) Retrieve(ctx context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error) {
	if len(q.Queries) == 0 {
		return nil, fmt.Errorf("%w chunk %d", ErrNoQueries, q.ChunkIndex)
	}
	vecs, err := c.embedder.EmbedBatch(ctx, q.Queries)
	if err != nil {
		return nil, fmt.Errorf("failed to embed queries for chunk %d: %w", q.ChunkIndex, err)
	}

	lists := make([][]*models.ScoredItem, 0, len(q.Queries)+1)
	var errs []error
	for i, vec := range vecs {
		hits, err := c.store.Search(ctx, vec, c.cfg.TopK, c.cfg.Filter)
		if err != nil {
			c.logger.Warn("knowledge search failed", zap.Int("chunk", q.ChunkIndex), zap.Int("query", i), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		lists = append(lists, hits)
	}
	if len(errs) == len(vecs) {
		return nil, fmt.Errorf("failed to search knowledge for chunk %d: %w", q.ChunkIndex, errors.Join(errs...))
	}

	if c.lexical != nil && c.cfg.LexicalWeight > 0 {
		hits, err := c.lexicalHits(ctx, q.Queries)
		if err != nil {
			c.logger.Warn("lexical search failed", zap.Int("chunk", q.ChunkIndex), zap.Error(err))
		} else {
			lists = append(lists, hits)
		}
	}

	merged := Merge(lists, c.cfg.ScoreFloor, c.cfg.Limit)
	merged, err = c.hydrate(ctx, merged)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("knowledge retrieved",
		zap.Int("chunk", q.ChunkIndex), zap.Int("queries", len(q.Queries)), zap.Int("hits", len(merged)))
	return &models.RetrievalResult{ChunkIndex: q.ChunkIndex, QueryCount: len(q.Queries), Items: merged}, nil
}

// lexicalHits runs every query against the lexical index, scales each query's scores by
// its best hit and by the configured weight.
func (c *Combiner) lexicalHits(ctx context.Context, queries []string) ([]*models.ScoredItem, error) {
	var out []*models.ScoredItem
	for _, query := range queries {
		hits, err := c.lexical.Search(ctx, query, c.cfg.LexicalTopK, c.cfg.Filter)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 || hits[0].Score <= 0 {
			continue
		}
		top := hits[0].Score
		for _, h := range hits {
			out = append(out, &models.ScoredItem{ID: h.ID, Score: h.Score / top * c.cfg.LexicalWeight})
		}
	}
	return out, nil
}

// hydrate fills Item for hits that only carry an id. Ids the store no longer knows are dropped.
func (c *Combiner) hydrate(ctx context.Context, hits []*models.ScoredItem) ([]*models.ScoredItem, error) {
	out := hits[:0]
	for _, h := range hits {
		if h.Item == nil {
			item, ok, err := c.store.Get(ctx, h.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load knowledge item %s: %w", h.ID, err)
			}
			if !ok {
				continue
			}
			h.Item = item
		}
		out = append(out, h)
	}
	return out, nil
}

// Merge combines hit lists by id keeping the highest score, drops hits below floor, sorts
// by descending score (ties by ascending id) and truncates to limit. limit <= 0 keeps all.
func Merge(lists [][]*models.ScoredItem, floor float64, limit int) []*models.ScoredItem {
	best := make(map[string]*models.ScoredItem)
	for _, hits := range lists {
		for _, h := range hits {
			cur, ok := best[h.ID]
			switch {
			case !ok:
				cp := *h
				best[h.ID] = &cp
			case h.Score > cur.Score:
				cur.Score = h.Score
				if h.Item != nil {
					cur.Item = h.Item
				}
			case cur.Item == nil && h.Item != nil:
				cur.Item = h.Item
			}
		}
	}
	out := make([]*models.ScoredItem, 0, len(best))
	for _, h := range best {
		if h.Score >= floor {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
