package cache

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a reachable Redis; set KOUSEI_TEST_REDIS_ADDR to run.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("KOUSEI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KOUSEI_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, addr, os.Getenv("KOUSEI_TEST_REDIS_PASSWORD"), 1, nil)
	require.NoError(t, err)

	store := NewRedisStore(client, "kousei:test:"+uuid.NewString()+":")
	c := New(store)
	defer c.Close()
	defer func() {
		infos, _ := store.List(ctx)
		for _, info := range infos {
			_, _ = store.Delete(ctx, info.Key)
		}
	}()

	k := key("redis")
	require.NoError(t, c.Put(ctx, k, []byte("payload"), Labeled("knowledge")))
	require.NoError(t, c.Put(ctx, k, []byte("payload")))
	assert.True(t, errors.Is(c.Put(ctx, k, []byte("different")), ErrCacheKeyCollision))

	got, ok, err := c.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].HitCount)

	n, err := c.Cleanup(ctx, LabelIs("knowledge"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
