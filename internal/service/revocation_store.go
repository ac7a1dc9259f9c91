package service

import (
	"context"
	"time"
)

// RevocationStore is the source of truth for access token liveness and for
// the refresh session a tenant currently holds. Raw refresh tokens are never
// stored; only their digest.
//
// Each tenant has at most one current session. Writing a new access jti or
// refresh session for a tenant invalidates the previous one.
type RevocationStore interface {
	MarkAccessLive(ctx context.Context, tenantID uint, jti string, ttl time.Duration) error
	IsAccessLive(ctx context.Context, jti string) (bool, error)
	RevokeAccess(ctx context.Context, jti string) error

	SetRefreshSession(ctx context.Context, tenantID uint, rawRefresh string, ttl time.Duration) error
	ValidateRefreshSession(ctx context.Context, rawRefresh string, tenantID uint) (bool, error)
	DeleteRefreshSession(ctx context.Context, rawRefresh string) error

	// StartSession replaces the tenant's session with the given pair in one
	// atomic step, so that of two racing writers the last one holds both
	// tokens and the other holds neither.
	StartSession(ctx context.Context, tenantID uint, tokens SessionTokens) error
	RevokeTenantSession(ctx context.Context, tenantID uint) error
}

type SessionTokens struct {
	AccessID   string
	AccessTTL  time.Duration
	Refresh    string
	RefreshTTL time.Duration
}

const (
	accessKeyPrefix     = "access:jti:"
	refreshKeyPrefix    = "refresh:"
	tenantIndexPrefix   = "session:tenant:"
	indexFieldRefresh   = "refresh_digest"
	indexFieldAccessJTI = "access_jti"
)

// DefaultStoreTimeout bounds every store call.
const DefaultStoreTimeout = 500 * time.Millisecond
