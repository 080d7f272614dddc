package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"torrentstream/streamfs/internal/domain"
)

const redisCachePrefix = "streamfs:resolve:"

// Cache remembers successful resolutions by feed URL.
type Cache interface {
	Get(ctx context.Context, feedURL string) (domain.ResolvedInfo, bool, error)
	Set(ctx context.Context, feedURL string, info domain.ResolvedInfo) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (domain.ResolvedInfo, bool, error) {
	return domain.ResolvedInfo{}, false, nil
}
func (nopCache) Set(context.Context, string, domain.ResolvedInfo) error { return nil }

// RedisCache stores resolutions in Redis as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, feedURL string) (domain.ResolvedInfo, bool, error) {
	data, err := c.client.Get(ctx, redisCachePrefix+feedURL).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ResolvedInfo{}, false, nil
		}
		return domain.ResolvedInfo{}, false, err
	}
	var info domain.ResolvedInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.ResolvedInfo{}, false, err
	}
	return info, true, nil
}

func (c *RedisCache) Set(ctx context.Context, feedURL string, info domain.ResolvedInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisCachePrefix+feedURL, data, c.ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
