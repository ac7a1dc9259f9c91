package integration

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/finance-tracker-auth/internal/http/middleware"
	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

func TestRedisRateLimiterConcurrentBurstHonorsLimit(t *testing.T) {
	redisClient, cleanup := startRedisContainer(t)
	defer cleanup()

	limiter := middleware.NewRedisFixedWindowLimiter(redisClient, "itest:rl")
	policy := middleware.RateLimitPolicy{Limit: 20, Window: 10 * time.Minute, Burst: 20}

	const attempts = 100
	var allowed atomic.Int64
	errCh := make(chan error, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), "same-actor", policy)
			if err != nil {
				errCh <- err
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("limiter allow failed: %v", err)
	}

	if got := allowed.Load(); got != int64(policy.Limit) {
		t.Fatalf("expected exactly %d allowed requests, got %d", policy.Limit, got)
	}

	decision, err := limiter.Allow(context.Background(), "same-actor", policy)
	if err != nil {
		t.Fatalf("final allow call failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected next request after burst to be limited")
	}
}

func TestRedisRevocationConcurrentStartSessionLeavesOneLivePair(t *testing.T) {
	redisClient, cleanup := startRedisContainer(t)
	defer cleanup()

	store := service.NewRedisRevocationStore(redisClient, "itest", 2*time.Second)
	const tenantID = uint(7)
	const writers = 12

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.StartSession(context.Background(), tenantID, service.SessionTokens{
				AccessID:   fmt.Sprintf("access-%d", i),
				AccessTTL:  time.Minute,
				Refresh:    fmt.Sprintf("refresh-%d", i),
				RefreshTTL: time.Hour,
			})
			if err == nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if succeeded.Load() == 0 {
		t.Fatal("expected at least one writer to succeed")
	}

	ctx := context.Background()
	liveAccess, liveRefresh := -1, -1
	for i := 0; i < writers; i++ {
		access, err := store.IsAccessLive(ctx, fmt.Sprintf("access-%d", i))
		if err != nil {
			t.Fatalf("is access live: %v", err)
		}
		if access {
			if liveAccess != -1 {
				t.Fatalf("access tokens %d and %d are both live", liveAccess, i)
			}
			liveAccess = i
		}
		refresh, err := store.ValidateRefreshSession(ctx, fmt.Sprintf("refresh-%d", i), tenantID)
		if err != nil {
			t.Fatalf("validate refresh: %v", err)
		}
		if refresh {
			if liveRefresh != -1 {
				t.Fatalf("refresh tokens %d and %d are both live", liveRefresh, i)
			}
			liveRefresh = i
		}
	}
	if liveAccess == -1 || liveAccess != liveRefresh {
		t.Fatalf("expected one writer to hold both tokens, access=%d refresh=%d", liveAccess, liveRefresh)
	}

	if err := store.RevokeTenantSession(ctx, tenantID); err != nil {
		t.Fatalf("revoke tenant session: %v", err)
	}
	if live, _ := store.IsAccessLive(ctx, fmt.Sprintf("access-%d", liveAccess)); live {
		t.Fatal("expected access token to be revoked")
	}
}

func startRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("docker is not available; skipping redis container integration test")
	}

	hostPort := reserveLocalPort(t)
	containerName := "fta-redis-it-" + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.Itoa(rand.Intn(1000))

	runCmd := exec.Command("docker", "run", "-d", "--rm",
		"--name", containerName,
		"-p", fmt.Sprintf("127.0.0.1:%d:6379", hostPort),
		"redis:7-alpine",
		"redis-server", "--save", "", "--appendonly", "no",
	)
	out, err := runCmd.CombinedOutput()
	if err != nil {
		t.Skipf("unable to start redis container: %v output=%s", err, strings.TrimSpace(string(out)))
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%d", hostPort)})
	ctx := context.Background()
	deadline := time.Now().Add(20 * time.Second)
	for {
		if time.Now().After(deadline) {
			_ = client.Close()
			_ = exec.Command("docker", "rm", "-f", containerName).Run()
			t.Fatalf("timed out waiting for redis container %s to become ready", containerName)
		}
		if err := client.Ping(ctx).Err(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		_ = client.Close()
		_ = exec.Command("docker", "rm", "-f", containerName).Run()
	}
	return client, cleanup
}

func dockerAvailable() bool {
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

func reserveLocalPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve local port: %v", err)
	}
	defer func() { _ = l.Close() }()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected addr type %T", l.Addr())
	}
	return addr.Port
}
