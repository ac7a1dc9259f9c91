package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// NegativeLookupCache remembers keys that were looked up and not found, so
// repeated misses skip the database.
type NegativeLookupCache interface {
	IsMissing(ctx context.Context, namespace, key string) (bool, error)
	MarkMissing(ctx context.Context, namespace, key string, ttl time.Duration) error
	Forget(ctx context.Context, namespace, key string) error
}

type NoopNegativeLookupCache struct{}

func (NoopNegativeLookupCache) IsMissing(context.Context, string, string) (bool, error) {
	return false, nil
}

func (NoopNegativeLookupCache) MarkMissing(context.Context, string, string, time.Duration) error {
	return nil
}

func (NoopNegativeLookupCache) Forget(context.Context, string, string) error {
	return nil
}

type InMemoryNegativeLookupCache struct {
	items *cache.Cache
}

func NewInMemoryNegativeLookupCache() *InMemoryNegativeLookupCache {
	return &InMemoryNegativeLookupCache{items: cache.New(cache.NoExpiration, time.Minute)}
}

func (c *InMemoryNegativeLookupCache) IsMissing(_ context.Context, namespace, key string) (bool, error) {
	_, ok := c.items.Get(namespace + ":" + key)
	return ok, nil
}

func (c *InMemoryNegativeLookupCache) MarkMissing(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.items.Set(namespace+":"+key, struct{}{}, ttl)
	return nil
}

func (c *InMemoryNegativeLookupCache) Forget(_ context.Context, namespace, key string) error {
	c.items.Delete(namespace + ":" + key)
	return nil
}
