package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
)

type VerificationTokenRepository interface {
	// Replace stores token as the user's only verification token.
	Replace(ctx context.Context, token *domain.VerificationToken) error
	// FindUsable returns the unconsumed token with expiresAt >= now.
	FindUsable(ctx context.Context, token string, now time.Time) (*domain.VerificationToken, error)
	// CompleteVerification consumes the token and marks its user verified.
	CompleteVerification(ctx context.Context, token *domain.VerificationToken) error
	// CompleteReset deletes the token and installs passwordHash on its user,
	// clearing the lockout state.
	CompleteReset(ctx context.Context, token *domain.VerificationToken, passwordHash string) error
}

type GormVerificationTokenRepository struct{ gormStore }

func NewVerificationTokenRepository(db *gorm.DB, timeout time.Duration) *GormVerificationTokenRepository {
	return &GormVerificationTokenRepository{newGormStore(db, timeout, "verification_token")}
}

func (r *GormVerificationTokenRepository) Replace(ctx context.Context, token *domain.VerificationToken) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", token.UserID).Delete(&domain.VerificationToken{}).Error; err != nil {
			return err
		}
		return tx.Create(token).Error
	})
	return r.finish(ctx, "replace", err, nil)
}

func (r *GormVerificationTokenRepository) FindUsable(ctx context.Context, token string, now time.Time) (*domain.VerificationToken, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	var vt domain.VerificationToken
	err := db.Where("token = ? AND verified = ? AND expires_at >= ?", token, false, now.UTC()).First(&vt).Error
	if err := r.finish(ctx, "find_usable", err, ErrVerificationTokenNotFound); err != nil {
		return nil, err
	}
	return &vt, nil
}

func (r *GormVerificationTokenRepository) CompleteVerification(ctx context.Context, token *domain.VerificationToken) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.VerificationToken{}).
			Where("id = ? AND verified = ?", token.ID, false).
			Update("verified", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&domain.User{}).Where("id = ?", token.UserID).Update("email_verified", true).Error
	})
	return r.finish(ctx, "complete_verification", err, ErrVerificationTokenNotFound)
}

func (r *GormVerificationTokenRepository) CompleteReset(ctx context.Context, token *domain.VerificationToken, passwordHash string) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", token.ID).Delete(&domain.VerificationToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&domain.User{}).Where("id = ?", token.UserID).Updates(map[string]interface{}{
			"password_hash":   passwordHash,
			"failed_attempts": 0,
			"locked":          false,
			"email_verified":  true,
		}).Error
	})
	return r.finish(ctx, "complete_reset", err, ErrVerificationTokenNotFound)
}
