package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
)

const maxWatchRetries = 10

type RedisRevocationStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

func NewRedisRevocationStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisRevocationStore {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &RedisRevocationStore{client: client, prefix: prefix, timeout: timeout}
}

func (s *RedisRevocationStore) MarkAccessLive(ctx context.Context, tenantID uint, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return fmt.Errorf("mark access live: jti and positive ttl required")
	}
	return s.updateIndex(ctx, "mark_access_live", tenantID, func(pipe redis.Pipeliner, prev tenantIndex) {
		s.replaceAccess(ctx, pipe, tenantID, prev, jti, ttl)
		s.extendIndex(ctx, pipe, tenantID, prev, ttl)
	})
}

func (s *RedisRevocationStore) IsAccessLive(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Exists(ctx, s.accessKey(jti)).Result()
	if err != nil {
		return false, s.fail(ctx, "is_access_live", err)
	}
	s.ok(ctx, "is_access_live")
	return n == 1, nil
}

func (s *RedisRevocationStore) RevokeAccess(ctx context.Context, jti string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.accessKey(jti)).Err(); err != nil {
		return s.fail(ctx, "revoke_access", err)
	}
	s.ok(ctx, "revoke_access")
	return nil
}

func (s *RedisRevocationStore) SetRefreshSession(ctx context.Context, tenantID uint, rawRefresh string, ttl time.Duration) error {
	if rawRefresh == "" || ttl <= 0 {
		return fmt.Errorf("set refresh session: token and positive ttl required")
	}
	return s.updateIndex(ctx, "set_refresh_session", tenantID, func(pipe redis.Pipeliner, prev tenantIndex) {
		s.replaceRefresh(ctx, pipe, tenantID, prev, security.HashRefreshToken(rawRefresh), ttl)
		s.extendIndex(ctx, pipe, tenantID, prev, ttl)
	})
}

// ValidateRefreshSession holds when the digest maps to tenantID and is the
// tenant's current refresh session.
func (s *RedisRevocationStore) ValidateRefreshSession(ctx context.Context, rawRefresh string, tenantID uint) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	digest := security.HashRefreshToken(rawRefresh)
	pipe := s.client.Pipeline()
	owner := pipe.Get(ctx, s.refreshKey(digest))
	current := pipe.HGet(ctx, s.indexKey(tenantID), indexFieldRefresh)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, s.fail(ctx, "validate_refresh_session", err)
	}
	s.ok(ctx, "validate_refresh_session")
	if owner.Val() != strconv.FormatUint(uint64(tenantID), 10) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(current.Val()), []byte(digest)) == 1, nil
}

func (s *RedisRevocationStore) DeleteRefreshSession(ctx context.Context, rawRefresh string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.refreshKey(security.HashRefreshToken(rawRefresh))).Err(); err != nil {
		return s.fail(ctx, "delete_refresh_session", err)
	}
	s.ok(ctx, "delete_refresh_session")
	return nil
}

func (s *RedisRevocationStore) StartSession(ctx context.Context, tenantID uint, tokens SessionTokens) error {
	if tokens.AccessID == "" || tokens.Refresh == "" || tokens.AccessTTL <= 0 || tokens.RefreshTTL <= 0 {
		return fmt.Errorf("start session: incomplete session tokens")
	}
	digest := security.HashRefreshToken(tokens.Refresh)
	return s.updateIndex(ctx, "start_session", tenantID, func(pipe redis.Pipeliner, prev tenantIndex) {
		s.replaceAccess(ctx, pipe, tenantID, prev, tokens.AccessID, tokens.AccessTTL)
		s.replaceRefresh(ctx, pipe, tenantID, prev, digest, tokens.RefreshTTL)
		s.extendIndex(ctx, pipe, tenantID, prev, max(tokens.AccessTTL, tokens.RefreshTTL))
	})
}

func (s *RedisRevocationStore) RevokeTenantSession(ctx context.Context, tenantID uint) error {
	return s.updateIndex(ctx, "revoke_tenant_session", tenantID, func(pipe redis.Pipeliner, prev tenantIndex) {
		if prev.accessJTI != "" {
			pipe.Del(ctx, s.accessKey(prev.accessJTI))
		}
		if prev.refreshDigest != "" {
			pipe.Del(ctx, s.refreshKey(prev.refreshDigest))
		}
		pipe.Del(ctx, s.indexKey(tenantID))
	})
}

type tenantIndex struct {
	accessJTI     string
	refreshDigest string
	ttl           time.Duration
}

// updateIndex runs apply in a MULTI guarded by WATCH on the tenant index,
// retrying when a concurrent writer changed the index first.
func (s *RedisRevocationStore) updateIndex(ctx context.Context, op string, tenantID uint, apply func(redis.Pipeliner, tenantIndex)) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	key := s.indexKey(tenantID)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		prev := tenantIndex{
			accessJTI:     fields[indexFieldAccessJTI],
			refreshDigest: fields[indexFieldRefresh],
			ttl:           ttl,
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			apply(pipe, prev)
			return nil
		})
		return err
	}
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return s.fail(ctx, op, err)
	}
	s.ok(ctx, op)
	return nil
}

func (s *RedisRevocationStore) replaceAccess(ctx context.Context, pipe redis.Pipeliner, tenantID uint, prev tenantIndex, jti string, ttl time.Duration) {
	if prev.accessJTI != "" && prev.accessJTI != jti {
		pipe.Del(ctx, s.accessKey(prev.accessJTI))
	}
	pipe.Set(ctx, s.accessKey(jti), "1", ttl)
	pipe.HSet(ctx, s.indexKey(tenantID), indexFieldAccessJTI, jti)
}

func (s *RedisRevocationStore) replaceRefresh(ctx context.Context, pipe redis.Pipeliner, tenantID uint, prev tenantIndex, digest string, ttl time.Duration) {
	if prev.refreshDigest != "" && prev.refreshDigest != digest {
		pipe.Del(ctx, s.refreshKey(prev.refreshDigest))
	}
	pipe.Set(ctx, s.refreshKey(digest), strconv.FormatUint(uint64(tenantID), 10), ttl)
	pipe.HSet(ctx, s.indexKey(tenantID), indexFieldRefresh, digest)
}

// extendIndex keeps the index alive at least as long as the keys it points
// to. PTTL reports negative values for a missing key or one without expiry.
func (s *RedisRevocationStore) extendIndex(ctx context.Context, pipe redis.Pipeliner, tenantID uint, prev tenantIndex, ttl time.Duration) {
	if prev.ttl < ttl {
		pipe.PExpire(ctx, s.indexKey(tenantID), ttl)
	}
}

func (s *RedisRevocationStore) ok(ctx context.Context, op string) {
	observability.RecordRevocationStoreOperation(ctx, op, "success")
}

func (s *RedisRevocationStore) fail(ctx context.Context, op string, err error) error {
	observability.RecordRevocationStoreOperation(ctx, op, "error")
	return apperr.Unavailable("revocation store", fmt.Errorf("%s: %w", op, err))
}

func (s *RedisRevocationStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisRevocationStore) accessKey(jti string) string {
	return s.key(accessKeyPrefix + jti)
}

func (s *RedisRevocationStore) refreshKey(digest string) string {
	return s.key(refreshKeyPrefix + digest)
}

func (s *RedisRevocationStore) indexKey(tenantID uint) string {
	return s.key(tenantIndexPrefix + strconv.FormatUint(uint64(tenantID), 10))
}
