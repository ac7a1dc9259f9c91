package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	UpdateLoginState(ctx context.Context, id uint, failedAttempts int, locked bool) error
}

type GormUserRepository struct{ gormStore }

func NewUserRepository(db *gorm.DB, timeout time.Duration) *GormUserRepository {
	return &GormUserRepository{newGormStore(db, timeout, "user")}
}

// NormalizeEmail is the canonical form used for uniqueness and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	var u domain.User
	err := db.First(&u, id).Error
	if err := r.finish(ctx, "find_by_id", err, ErrUserNotFound); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	var u domain.User
	err := db.Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err := r.finish(ctx, "find_by_email", err, ErrUserNotFound); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	user.Email = NormalizeEmail(user.Email)
	err := db.Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		observability.RecordRepositoryOperation(ctx, r.name, "create", "conflict")
		return ErrDuplicateEmail
	}
	return r.finish(ctx, "create", err, nil)
}

// UpdateLoginState writes the lockout counters without touching other columns.
func (r *GormUserRepository) UpdateLoginState(ctx context.Context, id uint, failedAttempts int, locked bool) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	res := db.Model(&domain.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"failed_attempts": failedAttempts,
		"locked":          locked,
	})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = gorm.ErrRecordNotFound
	}
	return r.finish(ctx, "update_login_state", err, ErrUserNotFound)
}
