// Package tenancy carries the current tenant through a request as an explicit
// context value and enforces it at the storage layer through a gorm plugin.
//
// A Scope is created per request by Acquire and released when the request
// ends. Statements executed with a context holding an active Scope are
// constrained to that tenant's rows; statements executed with a released
// Scope fail, so a context that outlives its request cannot read or write
// under a stale tenant.
package tenancy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

var (
	ErrNoTenant      = errors.New("tenant id is required")
	ErrScopeConflict = errors.New("a scope for a different tenant is already active")
)

type Scope struct {
	tenantID uint
	released atomic.Bool
}

func (s *Scope) TenantID() uint { return s.tenantID }

// Active reports whether the scope has not been released yet.
func (s *Scope) Active() bool { return s != nil && !s.released.Load() }

type scopeKey struct{}

// Acquire returns a context carrying a new active Scope for tenantID and an
// idempotent release func. Re-acquiring the tenant that is already active
// returns the existing scope and a no-op release.
func Acquire(ctx context.Context, tenantID uint) (context.Context, func(), error) {
	if tenantID == 0 {
		return ctx, func() {}, ErrNoTenant
	}
	if current, ok := FromContext(ctx); ok && current.Active() {
		if current.tenantID != tenantID {
			observability.RecordTenantScopeEvent(ctx, "conflict")
			return ctx, func() {}, ErrScopeConflict
		}
		return ctx, func() {}, nil
	}
	s := &Scope{tenantID: tenantID}
	observability.RecordTenantScopeEvent(ctx, "acquire")
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.released.Store(true)
			observability.RecordTenantScopeEvent(ctx, "release")
		})
	}
	return context.WithValue(ctx, scopeKey{}, s), release, nil
}

// Run executes fn inside a scope for tenantID. The scope is released on every
// exit path of fn, including panics, which are re-raised after release.
func Run(ctx context.Context, tenantID uint, fn func(ctx context.Context) error) error {
	scoped, release, err := Acquire(ctx, tenantID)
	if err != nil {
		return err
	}
	defer release()
	return fn(scoped)
}

// FromContext returns the Scope stored in ctx, active or not.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// TenantID returns the tenant of the active scope in ctx.
func TenantID(ctx context.Context) (uint, bool) {
	s, ok := FromContext(ctx)
	if !ok || !s.Active() {
		return 0, false
	}
	return s.tenantID, true
}
