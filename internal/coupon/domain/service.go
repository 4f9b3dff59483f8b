package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	MaxIssuance  int             `json:"max_issuance"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
}

type ListResponse struct {
	pagination.PageInfo
	Coupons []UserCoupon `json:"coupons"`
}

// ExpireResult summarises one expiry sweep.
type ExpireResult struct {
	Coupons   int `json:"coupons"`
	Histories int `json:"histories"`
	Failed    int `json:"failed"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Coupon, error)
	Get(ctx context.Context, id snowflake.ID) (Coupon, error)
	Issue(ctx context.Context, userID, couponID snowflake.ID) (CouponHistory, error)
	ListForUser(ctx context.Context, userID snowflake.ID, page pagination.Page) (ListResponse, error)
	ExpireCoupons(ctx context.Context) (ExpireResult, error)
	// ReconcileCounters seeds admission counters of issuable coupons from
	// their authoritative issued count.
	ReconcileCounters(ctx context.Context, limit int) (int, error)
	// UseTx marks the user's coupon USED inside tx and returns the coupon.
	UseTx(ctx context.Context, tx *gorm.DB, userID, couponID snowflake.ID) (Coupon, CouponHistory, error)
}

var (
	ErrCouponNotFound     = apperror.New(apperror.KindNotFound, "C001", "coupon_not_found")
	ErrCouponExpired      = apperror.New(apperror.KindCouponExpired, "C002", "coupon_expired")
	ErrCouponAlreadyUsed  = apperror.New(apperror.KindBusinessRule, "C003", "coupon_already_used")
	ErrCouponNotStarted   = apperror.New(apperror.KindBusinessRule, "C004", "coupon_not_yet_started")
	ErrAlreadyIssued      = apperror.New(apperror.KindAlreadyIssued, "C005", "coupon_already_issued")
	ErrCouponSoldOut      = apperror.New(apperror.KindOutOfStock, "C006", "coupon_issue_limit_exceeded")
	ErrCouponNotIssuable  = apperror.New(apperror.KindBusinessRule, "C007", "coupon_not_issuable")
	ErrInvalidCouponID    = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_coupon_id")
	ErrInvalidCode        = apperror.New(apperror.KindInvalidArgument, "V001", "invalid_coupon_code")
	ErrDuplicateCode      = apperror.New(apperror.KindBusinessRule, "V001", "coupon_code_taken")
	ErrInvalidDiscount    = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_discount_rate")
	ErrInvalidMaxIssuance = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_max_issuance")
	ErrInvalidPeriod      = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_validity_period")
)
