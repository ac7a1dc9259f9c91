package service

import (
	"context"
	"testing"
	"time"
)

func TestNegativeLookupCacheImplementations(t *testing.T) {
	server, client := newRedisClientForTest(t)
	caches := map[string]NegativeLookupCache{
		"memory": NewInMemoryNegativeLookupCache(),
		"redis":  NewRedisNegativeLookupCache(client, "neg_test"),
	}
	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			hit, err := c.IsMissing(ctx, "subject", "42")
			if err != nil || hit {
				t.Fatalf("expected initial miss, got hit=%v err=%v", hit, err)
			}
			if err := c.MarkMissing(ctx, "subject", "42", time.Minute); err != nil {
				t.Fatalf("mark missing: %v", err)
			}
			if hit, _ := c.IsMissing(ctx, "subject", "42"); !hit {
				t.Fatal("expected hit after mark")
			}
			if hit, _ := c.IsMissing(ctx, "other", "42"); hit {
				t.Fatal("namespaces must not collide")
			}
			if err := c.Forget(ctx, "subject", "42"); err != nil {
				t.Fatalf("forget: %v", err)
			}
			if hit, _ := c.IsMissing(ctx, "subject", "42"); hit {
				t.Fatal("expected miss after forget")
			}
			if err := c.MarkMissing(ctx, "subject", "43", 0); err != nil {
				t.Fatalf("mark with zero ttl: %v", err)
			}
			if hit, _ := c.IsMissing(ctx, "subject", "43"); hit {
				t.Fatal("zero ttl must not be cached")
			}
		})
	}

	ctx := context.Background()
	redisCache := caches["redis"]
	if err := redisCache.MarkMissing(ctx, "subject", "44", 2*time.Second); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !server.Exists("neg_test:subject:44") {
		t.Fatalf("unexpected key layout: %v", server.Keys())
	}
	server.FastForward(3 * time.Second)
	if hit, _ := redisCache.IsMissing(ctx, "subject", "44"); hit {
		t.Fatal("expected expiry")
	}
}

func TestNoopNegativeLookupCacheAlwaysMisses(t *testing.T) {
	var c NoopNegativeLookupCache
	ctx := context.Background()
	_ = c.MarkMissing(ctx, "subject", "1", time.Minute)
	if hit, err := c.IsMissing(ctx, "subject", "1"); hit || err != nil {
		t.Fatalf("noop cache returned hit=%v err=%v", hit, err)
	}
}
