package domain

import "time"

// User is the tenant: every tenant-owned row carries its ID as user_id.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	PasswordHash   string    `gorm:"size:255;not null" json:"-"`
	FailedAttempts int       `gorm:"not null;default:0" json:"-"`
	Locked         bool      `gorm:"not null;default:false" json:"locked"`
	EmailVerified  bool      `gorm:"not null;default:false" json:"email_verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// VerificationToken backs both email verification and password reset. A
// tenant has at most one.
type VerificationToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Token     string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Verified  bool      `gorm:"not null;default:false" json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}
