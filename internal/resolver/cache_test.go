package resolver

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"torrentstream/streamfs/internal/domain"
)

// setupRedis returns a cache backed by REDIS_TEST_URL, skipping otherwise.
func setupRedis(t *testing.T) *RedisCache {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCache(client, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	return cache
}

func TestRedisCacheRoundtrip(t *testing.T) {
	cache := setupRedis(t)
	ctx := context.Background()
	key := "magnet:?xt=urn:btih:" + testHash + "&test=" + time.Now().Format(time.RFC3339Nano)

	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get miss = %v, %v", ok, err)
	}
	want := domain.ResolvedInfo{
		SourceType: domain.SourceMagnet,
		InfoHash:   testHash,
		Name:       "x",
		MagnetURI:  key,
		Files:      []domain.FileRef{{Name: "x", Path: "x", Length: 1}},
	}
	if err := cache.Set(ctx, key, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cache.Get(ctx, key)
	if err != nil || !ok || got.InfoHash != want.InfoHash || len(got.Files) != 1 {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}
}

func TestNopCache(t *testing.T) {
	var c Cache = nopCache{}
	if err := c.Set(context.Background(), "k", domain.ResolvedInfo{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Fatalf("nop cache returned a hit")
	}
}
