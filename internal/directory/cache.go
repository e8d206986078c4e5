package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the cache needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedDirectory keeps successful lookups in Redis for ttl. Cache errors
// are logged and the lookup falls through to the wrapped directory.
type CachedDirectory struct {
	next   Directory
	client redisClient
	ttl    time.Duration
	prefix string
}

// NewCachedDirectory wraps next with a Redis cache.
func NewCachedDirectory(next Directory, client redisClient, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedDirectory{next: next, client: client, ttl: ttl, prefix: "chime:directory:"}
}

// NewRedisClient connects to a Redis server at addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

func (c *CachedDirectory) User(ctx context.Context, id string) (*User, error) {
	key := c.prefix + "user:" + id
	var u User
	if c.get(ctx, key, &u) {
		return &u, nil
	}
	got, err := c.next.User(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, got)
	return got, nil
}

func (c *CachedDirectory) Group(ctx context.Context, id string) (*Group, error) {
	key := c.prefix + "group:" + id
	var g Group
	if c.get(ctx, key, &g) {
		return &g, nil
	}
	got, err := c.next.Group(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, got)
	return got, nil
}

func (c *CachedDirectory) get(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		slog.Debug("directory cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Debug("directory cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedDirectory) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Debug("directory cache write failed", "key", key, "error", err)
	}
}
