package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisNegativeLookupCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNegativeLookupCache(client redis.UniversalClient, prefix string) *RedisNegativeLookupCache {
	if prefix == "" {
		prefix = "negative_lookup"
	}
	return &RedisNegativeLookupCache{client: client, prefix: prefix}
}

func (c *RedisNegativeLookupCache) IsMissing(ctx context.Context, namespace, key string) (bool, error) {
	err := c.client.Get(ctx, c.key(namespace, key)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisNegativeLookupCache) MarkMissing(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(namespace, key), "1", ttl).Err()
}

func (c *RedisNegativeLookupCache) Forget(ctx context.Context, namespace, key string) error {
	return c.client.Del(ctx, c.key(namespace, key)).Err()
}

func (c *RedisNegativeLookupCache) key(namespace, key string) string {
	return c.prefix + ":" + namespace + ":" + key
}
