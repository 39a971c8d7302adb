package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the payload for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is a content-addressed cache over a Store. Concurrent lookups of the same missing
// key share a single computation.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger // optional
	group  singleflight.Group

	hits       atomic.Int64
	misses     atomic.Int64
	computes   atomic.Int64
	shared     atomic.Int64
	bytesSaved atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL makes entries older than ttl read as misses. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PutOption annotates a stored entry.
type PutOption func(*Entry)

// Labeled records the kind of payload, e.g. "analysis/page".
func Labeled(label string) PutOption {
	return func(e *Entry) { e.Label = label }
}

// ComputedIn records how long the payload took to produce.
func ComputedIn(d time.Duration) PutOption {
	return func(e *Entry) { e.ComputeTime = d }
}

// Get returns the payload stored under key. Expired entries are removed and reported absent.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	payload, ok, err := c.lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.hits.Add(1)
		c.bytesSaved.Add(int64(len(payload)))
	} else {
		c.misses.Add(1)
	}
	return payload, ok, nil
}

func (c *Cache) lookup(ctx context.Context, key Key) ([]byte, bool, error) {
	now := c.now()
	e, ok, err := c.store.Get(ctx, key, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key.Short(), err)
	}
	if !ok {
		return nil, false, nil
	}
	if c.expired(e.EntryInfo, now) {
		if _, err := c.store.Delete(ctx, key); err != nil {
			return nil, false, fmt.Errorf("failed to expire cache entry %s: %w", key.Short(), err)
		}
		if c.logger != nil {
			c.logger.Debug("cache entry expired", zap.String("key", key.Short()))
		}
		return nil, false, nil
	}
	return e.Payload, true, nil
}

func (c *Cache) expired(e EntryInfo, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl
}

// Put stores payload under key. Storing an identical payload again is a no-op; a different
// payload fails with ErrCacheKeyCollision and leaves the stored entry untouched.
func (c *Cache) Put(ctx context.Context, key Key, payload []byte, opts ...PutOption) error {
	if !key.Valid() {
		return fmt.Errorf("invalid cache key %q", key)
	}
	now := c.now()
	e := &Entry{
		EntryInfo: EntryInfo{Key: key, Size: int64(len(payload)), CreatedAt: now, LastAccessed: now},
		Payload:   bytes.Clone(payload),
	}
	for _, opt := range opts {
		opt(e)
	}
	for attempt := 0; attempt < 2; attempt++ {
		existing, inserted, err := c.store.Insert(ctx, e)
		if err != nil {
			return fmt.Errorf("failed to write cache entry %s: %w", key.Short(), err)
		}
		if inserted {
			if c.logger != nil {
				c.logger.Debug("cache entry stored", zap.String("key", key.Short()), zap.String("label", e.Label), zap.Int("size", len(payload)))
			}
			return nil
		}
		if bytes.Equal(existing.Payload, payload) {
			return nil
		}
		if !c.expired(existing.EntryInfo, now) {
			return &CollisionError{Key: key, ExistingSize: len(existing.Payload), NewSize: len(payload)}
		}
		if _, err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to expire cache entry %s: %w", key.Short(), err)
		}
	}
	return fmt.Errorf("failed to write cache entry %s: replaced concurrently", key.Short())
}

// GetOrCompute returns the payload for key, calling fn on a miss and storing its result.
// Concurrent callers for the same key wait for one computation. The computation runs
// detached from the caller's cancellation so that a started external call still fills
// the cache; a cancelled caller stops waiting and gets ctx.Err().
func (c *Cache) GetOrCompute(ctx context.Context, key Key, fn ComputeFunc, opts ...PutOption) ([]byte, error) {
	if payload, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return payload, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(key), func() (any, error) {
		if payload, ok, err := c.lookup(flightCtx, key); err != nil {
			return nil, err
		} else if ok {
			return payload, nil
		}
		start := time.Now()
		payload, err := fn(flightCtx)
		if err != nil {
			return nil, err
		}
		c.computes.Add(1)
		opts := append([]PutOption{ComputedIn(time.Since(start))}, opts...)
		if err := c.Put(flightCtx, key, payload, opts...); err != nil {
			return nil, err
		}
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.shared.Add(1)
		}
		return res.Val.([]byte), nil
	}
}

// Cleanup removes every entry matching pred and returns how many were removed.
func (c *Cache) Cleanup(ctx context.Context, pred Predicate) (int, error) {
	infos, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}
	var keys []Key
	for _, info := range infos {
		if pred(info) {
			keys = append(keys, info.Key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.Delete(ctx, keys...)
	if err != nil {
		return n, fmt.Errorf("failed to delete cache entries: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("cache cleanup", zap.Int("removed", n), zap.Int("scanned", len(infos)))
	}
	return n, nil
}

// Count returns how many entries match pred.
func (c *Cache) Count(ctx context.Context, pred Predicate) (int, error) {
	infos, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}
	n := 0
	for _, info := range infos {
		if pred(info) {
			n++
		}
	}
	return n, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
