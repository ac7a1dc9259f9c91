// Package repository holds the gorm-backed stores. Repositories for
// tenant-owned rows never filter by owner themselves; the tenancy plugin adds
// the owner predicate from the request scope.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

const DefaultTimeout = 3 * time.Second

var (
	ErrUserNotFound              = errors.New("user not found")
	ErrDuplicateEmail            = errors.New("email already registered")
	ErrVerificationTokenNotFound = errors.New("verification token not found")
	ErrAccountNotFound           = errors.New("account not found")
)

type gormStore struct {
	db      *gorm.DB
	timeout time.Duration
	name    string
}

func newGormStore(db *gorm.DB, timeout time.Duration, name string) gormStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return gormStore{db: db, timeout: timeout, name: name}
}

func (s gormStore) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// finish records the outcome of op and maps driver errors: record-not-found
// becomes notFound, deadlines become a retryable Unavailable error.
func (s gormStore) finish(ctx context.Context, op string, err, notFound error) error {
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(ctx, s.name, op, "success")
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil:
		observability.RecordRepositoryOperation(ctx, s.name, op, "not_found")
		return notFound
	case errors.Is(err, context.DeadlineExceeded):
		observability.RecordRepositoryOperation(ctx, s.name, op, "timeout")
		return apperr.Unavailable("database", err)
	default:
		observability.RecordRepositoryOperation(ctx, s.name, op, "error")
		return err
	}
}
