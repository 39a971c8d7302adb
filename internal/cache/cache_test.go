package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func key(s string) Key {
	return MustFingerprint([]byte(s), Params{"test": true})
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())

	_, ok, err := c.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key("a"), []byte("payload"), Labeled("analysis/full_document")))
	got, ok, err := c.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestCache_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	require.NoError(t, c.Put(ctx, key("a"), []byte("same")))
	require.NoError(t, c.Put(ctx, key("a"), []byte("same")))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestCache_PutCollision(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	require.NoError(t, c.Put(ctx, key("a"), []byte("first")))

	err := c.Put(ctx, key("a"), []byte("second"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheKeyCollision))
	var ce *CollisionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 5, ce.ExistingSize)
	assert.Equal(t, 6, ce.NewSize)

	got, _, err := c.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got, "stored payload must not be overwritten")
}

func TestCache_PutRejectsMalformedKey(t *testing.T) {
	c := New(NewMemoryStore())
	assert.Error(t, c.Put(context.Background(), Key("report.pdf"), []byte("x")))
}

func TestCache_GetOrComputeSingleFlight(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("analysis"), nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(ctx, key("doc"), fn)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("analysis"), results[i])
	}
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Computes)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestCache_GetOrComputeCancelledCallerStillFillsCache(t *testing.T) {
	c := New(NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	fn := func(fctx context.Context) ([]byte, error) {
		close(started)
		<-release
		sawCancel.Store(fctx.Err() != nil)
		return []byte("paid for"), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, key("doc"), fn)
		done <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	close(release)

	require.Eventually(t, func() bool {
		_, ok, err := c.Get(context.Background(), key("doc"))
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, sawCancel.Load(), "computation must not observe caller cancellation")
}

func TestCache_GetOrComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	boom := errors.New("service outage")
	_, err := c.GetOrCompute(ctx, key("doc"), func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, err := c.GetOrCompute(ctx, key("doc"), func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestCache_GetOrComputeHit(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	require.NoError(t, c.Put(ctx, key("doc"), []byte("cached")))
	got, err := c.GetOrCompute(ctx, key("doc"), func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), got)
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	c := New(store, WithTTL(time.Hour), WithClock(clock.Now))
	require.NoError(t, c.Put(ctx, key("a"), []byte("v1")))

	clock.Advance(30 * time.Minute)
	_, ok, err := c.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Hour)
	_, ok, err = c.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.False(t, ok)
	infos, _ := store.List(ctx)
	assert.Empty(t, infos)

	// An expired entry may be replaced.
	require.NoError(t, c.Put(ctx, key("b"), []byte("old")))
	clock.Advance(2 * time.Hour)
	require.NoError(t, c.Put(ctx, key("b"), []byte("new")))
}

func TestCache_StatsHitRate(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	require.NoError(t, c.Put(ctx, key("a"), []byte("12345"), Labeled("knowledge")))
	require.NoError(t, c.Put(ctx, key("b"), []byte("123"), Labeled("analysis/page")))
	for i := 0; i < 3; i++ {
		_, _, _ = c.Get(ctx, key("a"))
	}
	_, _, _ = c.Get(ctx, key("missing"))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(8), stats.TotalSize)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
	assert.Equal(t, int64(15), stats.BytesSaved)
	require.Contains(t, stats.ByLabel, "knowledge")
	assert.Equal(t, int64(3), stats.ByLabel["knowledge"].TotalHits)
}

func TestCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := New(NewMemoryStore(), WithClock(clock.Now))
	require.NoError(t, c.Put(ctx, key("old"), []byte("x")))
	clock.Advance(48 * time.Hour)
	require.NoError(t, c.Put(ctx, key("big"), make([]byte, 1024)))
	require.NoError(t, c.Put(ctx, key("hot"), []byte("y")))
	_, _, _ = c.Get(ctx, key("hot"))

	n, err := c.Count(ctx, OlderThan(24*time.Hour, clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "count does not remove")

	n, err = c.Cleanup(ctx, OlderThan(24*time.Hour, clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Cleanup(ctx, AllOf(LargerThan(100), HitCountBelow(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Cleanup(ctx, LargerThan(100))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, ok, _ := c.Get(ctx, key("hot"))
	assert.True(t, ok)
}

func TestCleanupPolicy(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := CleanupPolicy{}.Predicate(now)
	assert.ErrorIs(t, err, ErrEmptyPolicy)

	pred, err := CleanupPolicy{NotAccessedFor: 24 * time.Hour, MinHits: 2}.Predicate(now)
	require.NoError(t, err)
	fresh := EntryInfo{LastAccessed: now.Add(-time.Hour), HitCount: 5}
	idle := EntryInfo{LastAccessed: now.Add(-48 * time.Hour), HitCount: 5}
	cold := EntryInfo{LastAccessed: now, HitCount: 1}
	assert.False(t, pred(fresh))
	assert.True(t, pred(idle))
	assert.True(t, pred(cold))
}

func TestPredicates(t *testing.T) {
	e := EntryInfo{Label: "knowledge", Size: 10}
	assert.True(t, LabelIs("knowledge")(e))
	assert.False(t, AnyOf()(e))
	assert.False(t, AllOf()(e))
	assert.True(t, AnyOf(LargerThan(100), LabelIs("knowledge"))(e))
}

func TestCache_Recommendations(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	for i := 0; i < 10; i++ {
		_, _, _ = c.Get(ctx, key("missing"))
	}
	recs, err := c.Recommendations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0], "hit rate")
}
