package cache

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// LabelStats aggregates entries sharing a label.
type LabelStats struct {
	Count        int           `json:"count"`
	TotalSize    int64         `json:"total_size"`
	TotalHits    int64         `json:"total_hits"`
	AvgCompute   time.Duration `json:"avg_compute"`
	totalCompute time.Duration
}

// Stats summarises the cache. HitRate covers lookups made through this Cache value.
type Stats struct {
	EntryCount int     `json:"entry_count"`
	TotalSize  int64   `json:"total_size"`
	HitRate    float64 `json:"hit_rate"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Computes   int64   `json:"computes"`
	// CallsSaved counts lookups answered without running a computation, either from the
	// store or by joining another caller's in-flight computation.
	CallsSaved int64                  `json:"calls_saved"`
	BytesSaved int64                  `json:"bytes_saved"`
	ByLabel    map[string]*LabelStats `json:"by_label"`
	Oldest     time.Time              `json:"oldest,omitempty"`
}

// Stats reports entry counts and sizes from the store together with this instance's
// lookup counters.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	infos, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	s := &Stats{
		EntryCount: len(infos),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Computes:   c.computes.Load(),
		BytesSaved: c.bytesSaved.Load(),
		ByLabel:    make(map[string]*LabelStats),
	}
	s.CallsSaved = s.Hits + c.shared.Load()
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	for _, info := range infos {
		s.TotalSize += info.Size
		if s.Oldest.IsZero() || info.CreatedAt.Before(s.Oldest) {
			s.Oldest = info.CreatedAt
		}
		ls, ok := s.ByLabel[info.Label]
		if !ok {
			ls = &LabelStats{}
			s.ByLabel[info.Label] = ls
		}
		ls.Count++
		ls.TotalSize += info.Size
		ls.TotalHits += info.HitCount
		ls.totalCompute += info.ComputeTime
	}
	for _, ls := range s.ByLabel {
		ls.AvgCompute = ls.totalCompute / time.Duration(ls.Count)
	}
	return s, nil
}

const (
	largeCacheBytes = 100 << 20
	staleAfter      = 30 * 24 * time.Hour
)

// Recommendations returns maintenance hints derived from the current stats.
func (c *Cache) Recommendations(ctx context.Context) ([]string, error) {
	s, err := c.Stats(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	if lookups := s.Hits + s.Misses; lookups >= 10 && s.HitRate < 0.3 {
		out = append(out, fmt.Sprintf("hit rate is %.0f%%; inputs may be changing between runs", s.HitRate*100))
	}
	if s.TotalSize > largeCacheBytes {
		out = append(out, fmt.Sprintf("cache holds %d MiB; consider cleanup with a max entry size or min hits policy", s.TotalSize>>20))
	}
	if !s.Oldest.IsZero() && c.now().Sub(s.Oldest) > staleAfter {
		out = append(out, "entries older than 30 days exist; consider cleanup with a max age policy")
	}
	labels := make([]string, 0, len(s.ByLabel))
	for l := range s.ByLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if ls := s.ByLabel[l]; ls.Count >= 10 && ls.TotalHits == 0 {
			out = append(out, fmt.Sprintf("no %q entry has been reused", l))
		}
	}
	return out, nil
}
