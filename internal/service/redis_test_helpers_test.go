package service

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisClientForTest disables client retries so that outage tests fail
// within the store timeout.
func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

// newRedisStoreForTest is a RedisRevocationStore with no key prefix.
func newRedisStoreForTest(t *testing.T, timeout time.Duration) (*miniredis.Miniredis, *RedisRevocationStore) {
	t.Helper()
	server, client := newRedisClientForTest(t)
	return server, NewRedisRevocationStore(client, "", timeout)
}
