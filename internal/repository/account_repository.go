package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
)

// AccountRepository must be called with a tenant scope in ctx.
type AccountRepository interface {
	List(ctx context.Context, req PageRequest) (PageResult[domain.Account], error)
	FindByID(ctx context.Context, id uint) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
}

type GormAccountRepository struct{ gormStore }

func NewAccountRepository(db *gorm.DB, timeout time.Duration) *GormAccountRepository {
	return &GormAccountRepository{newGormStore(db, timeout, "account")}
}

func (r *GormAccountRepository) List(ctx context.Context, req PageRequest) (PageResult[domain.Account], error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	page, err := paginate[domain.Account](db.Model(&domain.Account{}), req, "id")
	if err := r.finish(ctx, "list", err, nil); err != nil {
		return PageResult[domain.Account]{}, err
	}
	return page, nil
}

func (r *GormAccountRepository) FindByID(ctx context.Context, id uint) (*domain.Account, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	var a domain.Account
	err := db.First(&a, id).Error
	if err := r.finish(ctx, "find_by_id", err, ErrAccountNotFound); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	return r.finish(ctx, "create", db.Create(account).Error, nil)
}
