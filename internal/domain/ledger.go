package domain

import "time"

type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"-"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Currency  string    `gorm:"size:3;not null" json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) OwnedByTenant() {}

type Transaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"-"`
	AccountID   uint      `gorm:"index;not null" json:"account_id"`
	AmountMinor int64     `gorm:"not null" json:"amount_minor"`
	Description string    `gorm:"size:255" json:"description"`
	OccurredAt  time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Transaction) OwnedByTenant() {}
