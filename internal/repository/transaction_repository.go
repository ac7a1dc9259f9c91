package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
)

// TransactionRepository must be called with a tenant scope in ctx.
type TransactionRepository interface {
	ListByAccount(ctx context.Context, accountID uint, req PageRequest) (PageResult[domain.Transaction], error)
	Create(ctx context.Context, txn *domain.Transaction) error
}

type GormTransactionRepository struct{ gormStore }

func NewTransactionRepository(db *gorm.DB, timeout time.Duration) *GormTransactionRepository {
	return &GormTransactionRepository{newGormStore(db, timeout, "transaction")}
}

func (r *GormTransactionRepository) ListByAccount(ctx context.Context, accountID uint, req PageRequest) (PageResult[domain.Transaction], error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	base := db.Model(&domain.Transaction{}).Where("account_id = ?", accountID)
	page, err := paginate[domain.Transaction](base, req, "occurred_at DESC, id DESC")
	if err := r.finish(ctx, "list_by_account", err, nil); err != nil {
		return PageResult[domain.Transaction]{}, err
	}
	return page, nil
}

// Create requires the referenced account to be visible in the current scope.
func (r *GormTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		var acct domain.Account
		if err := tx.Select("id").First(&acct, txn.AccountID).Error; err != nil {
			return err
		}
		return tx.Create(txn).Error
	})
	return r.finish(ctx, "create", err, ErrAccountNotFound)
}
