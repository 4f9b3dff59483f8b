package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCoupon(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Coupon, error)
	// UpdateCoupon is version-conditioned.
	UpdateCoupon(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	// ListExpirable returns ids of coupons whose end date has passed but are
	// not yet EXPIRED or DISABLED.
	ListExpirable(ctx context.Context, db *gorm.DB, now time.Time) ([]snowflake.ID, error)
	ListIssuable(ctx context.Context, db *gorm.DB, limit int) ([]*Coupon, error)

	InsertHistory(ctx context.Context, db *gorm.DB, history *CouponHistory) error
	FindHistory(ctx context.Context, db *gorm.DB, userID, couponID snowflake.ID) (*CouponHistory, error)
	UpdateHistory(ctx context.Context, db *gorm.DB, history *CouponHistory) error
	// ExpireHistories marks every ISSUED history of couponID EXPIRED and
	// returns the affected users.
	ExpireHistories(ctx context.Context, db *gorm.DB, couponID snowflake.ID, now time.Time) ([]snowflake.ID, error)
	ListForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Page) ([]UserCoupon, error)
	CountHistories(ctx context.Context, db *gorm.DB, couponID snowflake.ID) (int64, error)
}
