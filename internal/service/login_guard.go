package service

import (
	"context"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
)

// MaxFailedAttempts is the number of consecutive wrong passwords that locks
// an account.
const MaxFailedAttempts = 5

type LoginStateWriter interface {
	UpdateLoginState(ctx context.Context, id uint, failedAttempts int, locked bool) error
}

// LoginGuard tracks consecutive failed logins. State is persisted on every
// change so concurrent attempts observe it; two racing failures may
// under-count by one.
type LoginGuard struct {
	users LoginStateWriter
}

func NewLoginGuard(users LoginStateWriter) *LoginGuard {
	return &LoginGuard{users: users}
}

func (g *LoginGuard) CheckLocked(user *domain.User) error {
	if user.Locked {
		return ErrAccountLocked
	}
	return nil
}

// RegisterFailure counts a wrong password and locks the account once the
// count reaches MaxFailedAttempts. user is updated in place.
func (g *LoginGuard) RegisterFailure(ctx context.Context, user *domain.User) error {
	attempts := user.FailedAttempts + 1
	locked := user.Locked || attempts >= MaxFailedAttempts
	if err := g.users.UpdateLoginState(ctx, user.ID, attempts, locked); err != nil {
		return err
	}
	user.FailedAttempts = attempts
	user.Locked = locked
	return nil
}

// RegisterSuccess clears the failure count. It never clears the lock; only a
// password reset does.
func (g *LoginGuard) RegisterSuccess(ctx context.Context, user *domain.User) error {
	if user.FailedAttempts == 0 {
		return nil
	}
	if err := g.users.UpdateLoginState(ctx, user.ID, 0, user.Locked); err != nil {
		return err
	}
	user.FailedAttempts = 0
	return nil
}
