package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/apperror"
	"gorm.io/gorm"
)

type ChargeRequest struct {
	UserID snowflake.ID
	Amount decimal.Decimal
}

type DeductRequest struct {
	UserID  snowflake.ID
	Amount  decimal.Decimal
	OrderID *snowflake.ID
}

type Service interface {
	Charge(ctx context.Context, req ChargeRequest) (Balance, error)
	Deduct(ctx context.Context, req DeductRequest) (Balance, error)
	// DeductTx deducts inside a transaction whose caller already holds the
	// balance lock.
	DeductTx(ctx context.Context, tx *gorm.DB, req DeductRequest) (Balance, error)
	Get(ctx context.Context, userID snowflake.ID) (Balance, error)
}

var (
	ErrBalanceNotFound     = apperror.New(apperror.KindNotFound, "B001", "balance_not_found")
	ErrInsufficientBalance = apperror.New(apperror.KindInsufficientBalance, "B002", "insufficient_balance")
	ErrInvalidAmount       = apperror.New(apperror.KindInvalidArgument, "B003", "invalid_amount")
)
