package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
	// Burst is the bucket size of the local limiter. It defaults to Limit.
	Burst int
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
	logger  *slog.Logger
}

// NewRateLimiter limits each client IP to limit requests per window using an
// in-process limiter.
func NewRateLimiter(scope string, limit int, window time.Duration) *RateLimiter {
	return NewDistributedRateLimiter(NewLocalLimiter(), scope, limit, window, FailClosed, nil)
}

func NewDistributedRateLimiter(limiter Limiter, scope string, limit int, window time.Duration, mode FailureMode, logger *slog.Logger) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(RateLimitPolicy{Limit: limit, Window: window}),
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
		logger:  logger,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.scope + ":" + rl.keyFunc(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					rl.logger.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err,
					)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// localLimiter is a token bucket sized by Burst and refilled at
// Limit/Window per second.
type localLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cleanup time.Time
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewLocalLimiter() Limiter {
	return &localLimiter{
		buckets: make(map[string]*bucket),
		cleanup: time.Now().Add(time.Minute),
		now:     time.Now,
	}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	refillPerSec := float64(policy.Limit) / policy.Window.Seconds()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, b := range l.buckets {
			if now.Sub(b.lastRefill) > 2*policy.Window {
				delete(l.buckets, k)
			}
		}
		l.cleanup = now.Add(policy.Window)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(policy.Burst), lastRefill: now}
		l.buckets[key] = b
	}
	if now.After(b.lastRefill) {
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = math.Min(float64(policy.Burst), b.tokens+elapsed*refillPerSec)
		b.lastRefill = now
	}

	if b.tokens < 1 {
		retry := time.Duration(math.Ceil((1 - b.tokens) / refillPerSec * float64(time.Second)))
		if retry <= 0 {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry, ResetAt: now.Add(retry)}, nil
	}
	b.tokens--
	missing := float64(policy.Burst) - b.tokens
	resetAt := now.Add(time.Duration(missing / refillPerSec * float64(time.Second)))
	return Decision{Allowed: true, Remaining: int(math.Floor(b.tokens)), ResetAt: resetAt}, nil
}

// RedisFixedWindowLimiter counts requests per key in fixed windows shared by
// every replica.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	windowStart := now.Truncate(policy.Window)
	resetAt := windowStart.Add(policy.Window)
	redisKey := l.prefix + ":" + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, policy.Window+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}
	count := int(incr.Val())
	if count > policy.Limit {
		return Decision{Allowed: false, RetryAfter: resetAt.Sub(now), ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - count, ResetAt: resetAt}, nil
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	if policy.Burst < policy.Limit {
		policy.Burst = policy.Limit
	}
	return policy
}
