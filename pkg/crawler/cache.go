package crawler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache 把整页抓取结果以 JSON 形式存入 Redis。
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache 创建基于 Redis 的页面缓存。
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(link string) string {
	sum := sha1.Sum([]byte(linkKey(link)))
	return "crawl:page:" + hex.EncodeToString(sum[:])
}

// Get 读取缓存，未命中时返回 ok=false。
func (c *RedisCache) Get(ctx context.Context, link string) (*CachedPage, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(link)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var page CachedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, err
	}
	return &page, true, nil
}

// Set 写入缓存。
func (c *RedisCache) Set(ctx context.Context, link string, page *CachedPage) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(link), raw, c.ttl).Err()
}
