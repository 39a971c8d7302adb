package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisPrefix = "kousei:cache:"

// insertScript creates the entry hash only when absent and registers the key in the index.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HGETALL', KEYS[1])
end
redis.call('HSET', KEYS[1], 'label', ARGV[1], 'payload', ARGV[2], 'size', ARGV[3],
	'created_at', ARGV[4], 'last_accessed', ARGV[5], 'hit_count', 0, 'compute_ns', ARGV[6])
redis.call('SADD', KEYS[2], ARGV[7])
return 1
`)

// getScript records an access and returns the entry hash, or an empty list.
var getScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {}
end
redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
redis.call('HSET', KEYS[1], 'last_accessed', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// RedisStore keeps entries in Redis hashes so several processes can share one cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// ConnectRedis opens a client and pings it, retrying with exponential backoff.
func ConnectRedis(ctx context.Context, addr, password string, maxRetries int, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              0,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for i := range maxRetries {
		if i > 0 {
			backoff := time.Duration(1<<uint(i)) * time.Second
			if logger != nil {
				logger.Info("waiting before redis retry", zap.Duration("backoff", backoff))
			}
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		if logger != nil {
			logger.Warn("redis ping failed", zap.Error(err), zap.Int("attempt", i+1))
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, err)
}

// NewRedisStore wraps client. Keys are namespaced under prefix (default "kousei:cache:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) entryKey(k Key) string { return r.prefix + "entry:" + string(k) }
func (r *RedisStore) indexKey() string      { return r.prefix + "keys" }

func (r *RedisStore) Get(ctx context.Context, key Key, now time.Time) (*Entry, bool, error) {
	res, err := getScript.Run(ctx, r.client, []string{r.entryKey(key)}, now.UnixNano()).Slice()
	if err != nil {
		return nil, false, err
	}
	if len(res) == 0 {
		return nil, false, nil
	}
	e, err := decodeHash(key, res)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (r *RedisStore) Insert(ctx context.Context, e *Entry) (*Entry, bool, error) {
	res, err := insertScript.Run(ctx, r.client, []string{r.entryKey(e.Key), r.indexKey()},
		e.Label, e.Payload, e.Size, e.CreatedAt.UnixNano(), e.LastAccessed.UnixNano(), int64(e.ComputeTime), string(e.Key),
	).Result()
	if err != nil {
		return nil, false, err
	}
	fields, ok := res.([]any)
	if !ok {
		return nil, true, nil
	}
	existing, err := decodeHash(e.Key, fields)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RedisStore) List(ctx context.Context) ([]EntryInfo, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, r.entryKey(Key(k)), "label", "size", "created_at", "last_accessed", "hit_count", "compute_ns")
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, err
		}
	}
	out := make([]EntryInfo, 0, len(keys))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || vals[0] == nil {
			continue
		}
		info := EntryInfo{Key: Key(keys[i]), Label: str(vals[0])}
		info.Size = atoi(vals[1])
		info.CreatedAt = time.Unix(0, atoi(vals[2]))
		info.LastAccessed = time.Unix(0, atoi(vals[3]))
		info.HitCount = atoi(vals[4])
		info.ComputeTime = time.Duration(atoi(vals[5]))
		out = append(out, info)
	}
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	names := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		names[i] = r.entryKey(k)
		members[i] = string(k)
	}
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, names...)
		pipe.SRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(del.Val()), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decodeHash(key Key, flat []any) (*Entry, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("malformed cache hash for %s", key.Short())
	}
	e := &Entry{EntryInfo: EntryInfo{Key: key}}
	for i := 0; i < len(flat); i += 2 {
		v := flat[i+1]
		switch str(flat[i]) {
		case "label":
			e.Label = str(v)
		case "payload":
			e.Payload = []byte(str(v))
		case "size":
			e.Size = atoi(v)
		case "created_at":
			e.CreatedAt = time.Unix(0, atoi(v))
		case "last_accessed":
			e.LastAccessed = time.Unix(0, atoi(v))
		case "hit_count":
			e.HitCount = atoi(v)
		case "compute_ns":
			e.ComputeTime = time.Duration(atoi(v))
		}
	}
	return e, nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func atoi(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	n, _ := strconv.ParseInt(str(v), 10, 64)
	return n
}
