package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
)

// InMemoryRevocationStore keeps sessions in process memory. It is only
// correct for a single replica and is meant for development and tests.
type InMemoryRevocationStore struct {
	mu    sync.Mutex
	items *cache.Cache
}

func NewInMemoryRevocationStore() *InMemoryRevocationStore {
	return &InMemoryRevocationStore{items: cache.New(cache.NoExpiration, time.Minute)}
}

type memoryIndex struct {
	accessJTI     string
	refreshDigest string
}

func (s *InMemoryRevocationStore) MarkAccessLive(ctx context.Context, tenantID uint, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return fmt.Errorf("mark access live: jti and positive ttl required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, exp := s.index(tenantID)
	s.replaceAccess(&idx, jti, ttl)
	s.storeIndex(tenantID, idx, exp, ttl)
	observability.RecordRevocationStoreOperation(ctx, "mark_access_live", "success")
	return nil
}

func (s *InMemoryRevocationStore) IsAccessLive(ctx context.Context, jti string) (bool, error) {
	_, ok := s.items.Get(accessKeyPrefix + jti)
	observability.RecordRevocationStoreOperation(ctx, "is_access_live", "success")
	return ok, nil
}

func (s *InMemoryRevocationStore) RevokeAccess(ctx context.Context, jti string) error {
	s.items.Delete(accessKeyPrefix + jti)
	observability.RecordRevocationStoreOperation(ctx, "revoke_access", "success")
	return nil
}

func (s *InMemoryRevocationStore) SetRefreshSession(ctx context.Context, tenantID uint, rawRefresh string, ttl time.Duration) error {
	if rawRefresh == "" || ttl <= 0 {
		return fmt.Errorf("set refresh session: token and positive ttl required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, exp := s.index(tenantID)
	s.replaceRefresh(&idx, tenantID, security.HashRefreshToken(rawRefresh), ttl)
	s.storeIndex(tenantID, idx, exp, ttl)
	observability.RecordRevocationStoreOperation(ctx, "set_refresh_session", "success")
	return nil
}

func (s *InMemoryRevocationStore) ValidateRefreshSession(ctx context.Context, rawRefresh string, tenantID uint) (bool, error) {
	digest := security.HashRefreshToken(rawRefresh)
	s.mu.Lock()
	defer s.mu.Unlock()
	observability.RecordRevocationStoreOperation(ctx, "validate_refresh_session", "success")
	owner, ok := s.items.Get(refreshKeyPrefix + digest)
	if !ok || owner.(string) != strconv.FormatUint(uint64(tenantID), 10) {
		return false, nil
	}
	idx, _ := s.index(tenantID)
	return subtle.ConstantTimeCompare([]byte(idx.refreshDigest), []byte(digest)) == 1, nil
}

func (s *InMemoryRevocationStore) DeleteRefreshSession(ctx context.Context, rawRefresh string) error {
	s.items.Delete(refreshKeyPrefix + security.HashRefreshToken(rawRefresh))
	observability.RecordRevocationStoreOperation(ctx, "delete_refresh_session", "success")
	return nil
}

func (s *InMemoryRevocationStore) StartSession(ctx context.Context, tenantID uint, tokens SessionTokens) error {
	if tokens.AccessID == "" || tokens.Refresh == "" || tokens.AccessTTL <= 0 || tokens.RefreshTTL <= 0 {
		return fmt.Errorf("start session: incomplete session tokens")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, exp := s.index(tenantID)
	s.replaceAccess(&idx, tokens.AccessID, tokens.AccessTTL)
	s.replaceRefresh(&idx, tenantID, security.HashRefreshToken(tokens.Refresh), tokens.RefreshTTL)
	s.storeIndex(tenantID, idx, exp, max(tokens.AccessTTL, tokens.RefreshTTL))
	observability.RecordRevocationStoreOperation(ctx, "start_session", "success")
	return nil
}

func (s *InMemoryRevocationStore) RevokeTenantSession(ctx context.Context, tenantID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, _ := s.index(tenantID)
	if idx.accessJTI != "" {
		s.items.Delete(accessKeyPrefix + idx.accessJTI)
	}
	if idx.refreshDigest != "" {
		s.items.Delete(refreshKeyPrefix + idx.refreshDigest)
	}
	s.items.Delete(memoryIndexKey(tenantID))
	observability.RecordRevocationStoreOperation(ctx, "revoke_tenant_session", "success")
	return nil
}

func (s *InMemoryRevocationStore) index(tenantID uint) (memoryIndex, time.Time) {
	v, exp, ok := s.items.GetWithExpiration(memoryIndexKey(tenantID))
	if !ok {
		return memoryIndex{}, time.Time{}
	}
	return v.(memoryIndex), exp
}

func (s *InMemoryRevocationStore) storeIndex(tenantID uint, idx memoryIndex, exp time.Time, ttl time.Duration) {
	if remaining := time.Until(exp); !exp.IsZero() && remaining > ttl {
		ttl = remaining
	}
	s.items.Set(memoryIndexKey(tenantID), idx, ttl)
}

func (s *InMemoryRevocationStore) replaceAccess(idx *memoryIndex, jti string, ttl time.Duration) {
	if idx.accessJTI != "" && idx.accessJTI != jti {
		s.items.Delete(accessKeyPrefix + idx.accessJTI)
	}
	s.items.Set(accessKeyPrefix+jti, true, ttl)
	idx.accessJTI = jti
}

func (s *InMemoryRevocationStore) replaceRefresh(idx *memoryIndex, tenantID uint, digest string, ttl time.Duration) {
	if idx.refreshDigest != "" && idx.refreshDigest != digest {
		s.items.Delete(refreshKeyPrefix + idx.refreshDigest)
	}
	s.items.Set(refreshKeyPrefix+digest, strconv.FormatUint(uint64(tenantID), 10), ttl)
	idx.refreshDigest = digest
}

func memoryIndexKey(tenantID uint) string {
	return tenantIndexPrefix + strconv.FormatUint(uint64(tenantID), 10)
}
