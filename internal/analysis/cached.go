package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/retry"
	"go.uber.org/zap"
)

// Cache labels for analysis entries.
const (
	LabelFullDocument = "analysis/full_document"
	LabelPage         = "analysis/page"
)

// CachedAnalyzer routes every analysis through a content-addressed cache, so a document
// is analyzed at most once per (bytes, extension, analyzer, version).
type CachedAnalyzer struct {
	next   Analyzer
	cache  *cache.Cache
	policy retry.Policy
	logger *zap.Logger // optional
}

// CachedOption configures a CachedAnalyzer.
type CachedOption func(*CachedAnalyzer)

// WithRetryPolicy sets the policy for temporary analysis failures.
func WithRetryPolicy(p retry.Policy) CachedOption {
	return func(a *CachedAnalyzer) { a.policy = p }
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) CachedOption {
	return func(a *CachedAnalyzer) { a.logger = l }
}

// NewCachedAnalyzer wraps next with c.
func NewCachedAnalyzer(next Analyzer, c *cache.Cache, opts ...CachedOption) *CachedAnalyzer {
	a := &CachedAnalyzer{next: next, cache: c, policy: retry.DefaultPolicy()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *CachedAnalyzer) Name() string { return a.next.Name() }

func (a *CachedAnalyzer) Version() int { return a.next.Version() }

// DocumentKey returns the fingerprint under which the full analysis of content is stored.
func (a *CachedAnalyzer) DocumentKey(content []byte, ext string) (cache.Key, error) {
	return cache.Fingerprint(content, cache.Params{
		"ext":      NormalizeExt(ext),
		"analyzer": a.next.Name(),
		"version":  a.next.Version(),
	})
}

func (a *CachedAnalyzer) pageKey(content []byte, parent cache.Key, number int) (cache.Key, error) {
	return cache.Fingerprint(content, cache.Params{
		"analyzer":    a.next.Name(),
		"version":     a.next.Version(),
		"page_number": number,
		"parent_hash": parent.String(),
	})
}

// Analyze returns the cached analysis of content, computing it on a miss. Multi-page
// results are also stored page by page.
func (a *CachedAnalyzer) Analyze(ctx context.Context, content []byte, ext string) (*Analysis, error) {
	key, err := a.DocumentKey(content, ext)
	if err != nil {
		return nil, err
	}
	payload, err := a.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		var result *Analysis
		err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
			var err error
			result, err = a.next.Analyze(ctx, content, ext)
			return err
		}, retry.Named("analyze"), retry.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		if a.logger != nil {
			a.logger.Info("document analyzed",
				zap.String("key", key.Short()),
				zap.String("format", result.Format),
				zap.Int("pages", result.PageCount()))
		}
		return json.Marshal(result)
	}, cache.Labeled(LabelFullDocument))
	if err != nil {
		return nil, err
	}

	var result Analysis
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached analysis %s: %w", key.Short(), err)
	}
	if len(result.Pages) > 1 {
		if err := a.storePages(ctx, content, key, result.Pages); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func (a *CachedAnalyzer) storePages(ctx context.Context, content []byte, parent cache.Key, pages []Page) error {
	for _, p := range pages {
		pk, err := a.pageKey(content, parent, p.Number)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := a.cache.Put(ctx, pk, payload, cache.Labeled(LabelPage)); err != nil {
			return fmt.Errorf("failed to cache page %d: %w", p.Number, err)
		}
	}
	return nil
}

// Page returns one page of a previously analyzed document without decoding the full
// result. ok is false when the page is not cached.
func (a *CachedAnalyzer) Page(ctx context.Context, content []byte, ext string, number int) (*Page, bool, error) {
	parent, err := a.DocumentKey(content, ext)
	if err != nil {
		return nil, false, err
	}
	pk, err := a.pageKey(content, parent, number)
	if err != nil {
		return nil, false, err
	}
	payload, ok, err := a.cache.Get(ctx, pk)
	if err != nil || !ok {
		return nil, false, err
	}
	var p Page
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached page %d: %w", number, err)
	}
	return &p, true, nil
}
