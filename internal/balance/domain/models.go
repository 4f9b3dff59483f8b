package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	MinChargeAmount = decimal.NewFromInt(1_000)
	MaxChargeAmount = decimal.NewFromInt(1_000_000)
)

type Balance struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID    `gorm:"not null;uniqueIndex" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(19,2);not null" json:"amount"`
	Version   int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

// Charge adds amount, which must lie within the charge limits.
func (b *Balance) Charge(amount decimal.Decimal) error {
	if amount.LessThan(MinChargeAmount) || amount.GreaterThan(MaxChargeAmount) {
		return ErrInvalidAmount
	}
	b.Amount = b.Amount.Add(amount)
	return nil
}

// Deduct subtracts amount. The balance never goes negative.
func (b *Balance) Deduct(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if b.Amount.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Amount = b.Amount.Sub(amount)
	return nil
}
