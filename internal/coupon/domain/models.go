package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CouponStatus string

const (
	CouponInactive CouponStatus = "INACTIVE"
	CouponActive   CouponStatus = "ACTIVE"
	CouponSoldOut  CouponStatus = "SOLD_OUT"
	CouponExpired  CouponStatus = "EXPIRED"
	CouponDisabled CouponStatus = "DISABLED"
)

var transitions = map[CouponStatus][]CouponStatus{
	CouponInactive: {CouponActive, CouponExpired, CouponDisabled},
	CouponActive:   {CouponSoldOut, CouponExpired, CouponDisabled},
	CouponSoldOut:  {CouponExpired, CouponDisabled},
	CouponExpired:  {CouponDisabled},
	CouponDisabled: {CouponActive},
}

// CanTransitionTo reports whether s may move to next. Staying put is allowed.
func (s CouponStatus) CanTransitionTo(next CouponStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Coupon is a limited-quantity discount valid within [StartDate, EndDate).
// 0 <= IssuedCount <= MaxIssuance.
type Coupon struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code         string          `json:"code" gorm:"type:varchar(64);not null;uniqueIndex"`
	Name         string          `json:"name" gorm:"type:varchar(255);not null"`
	DiscountRate decimal.Decimal `json:"discount_rate" gorm:"type:numeric(5,4);not null"`
	MaxIssuance  int             `json:"max_issuance" gorm:"not null"`
	IssuedCount  int             `json:"issued_count" gorm:"not null;default:0"`
	StartDate    time.Time       `json:"start_date" gorm:"not null"`
	EndDate      time.Time       `json:"end_date" gorm:"not null;index"`
	Status       CouponStatus    `json:"status" gorm:"type:varchar(16);not null;index"`
	Version      int64           `json:"version" gorm:"not null;default:0"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"not null"`
}

func (Coupon) TableName() string { return "coupons" }

// CalculateStatus derives the status the coupon should have at now.
func (c *Coupon) CalculateStatus(now time.Time) CouponStatus {
	switch {
	case c.Status == CouponDisabled:
		return CouponDisabled
	case !c.EndDate.After(now):
		return CouponExpired
	case c.IssuedCount >= c.MaxIssuance:
		return CouponSoldOut
	case now.Before(c.StartDate):
		return CouponInactive
	default:
		return CouponActive
	}
}

// Refresh moves the coupon to its calculated status when the transition is
// allowed and reports whether the status changed.
func (c *Coupon) Refresh(now time.Time) bool {
	next := c.CalculateStatus(now)
	if next == c.Status || !c.Status.CanTransitionTo(next) {
		return false
	}
	c.Status = next
	return true
}

// IssueError maps a non-issuable status to its error.
func (c *Coupon) IssueError() error {
	switch c.Status {
	case CouponActive:
		return nil
	case CouponExpired:
		return ErrCouponExpired
	case CouponSoldOut:
		return ErrCouponSoldOut
	case CouponInactive:
		return ErrCouponNotStarted
	default:
		return ErrCouponNotIssuable
	}
}

// Issue takes one unit of the quota.
func (c *Coupon) Issue(now time.Time) error {
	c.Refresh(now)
	if err := c.IssueError(); err != nil {
		return err
	}
	c.IssuedCount++
	c.Refresh(now)
	return nil
}

func (c *Coupon) Remaining() int {
	if c.IssuedCount >= c.MaxIssuance {
		return 0
	}
	return c.MaxIssuance - c.IssuedCount
}

type HistoryStatus string

const (
	HistoryIssued  HistoryStatus = "ISSUED"
	HistoryUsed    HistoryStatus = "USED"
	HistoryExpired HistoryStatus = "EXPIRED"
)

// CouponHistory records that a user holds a coupon. One row per (user, coupon).
type CouponHistory struct {
	ID        snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID  `json:"user_id" gorm:"not null;uniqueIndex:ux_coupon_histories_user_coupon"`
	CouponID  snowflake.ID  `json:"coupon_id" gorm:"not null;uniqueIndex:ux_coupon_histories_user_coupon;index"`
	Status    HistoryStatus `json:"status" gorm:"type:varchar(16);not null"`
	IssuedAt  time.Time     `json:"issued_at" gorm:"not null"`
	UsedAt    *time.Time    `json:"used_at,omitempty"`
	Version   int64         `json:"version" gorm:"not null;default:0"`
	CreatedAt time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time     `json:"updated_at" gorm:"not null"`
}

func (CouponHistory) TableName() string { return "coupon_histories" }

func (h *CouponHistory) Use(now time.Time) error {
	switch h.Status {
	case HistoryUsed:
		return ErrCouponAlreadyUsed
	case HistoryExpired:
		return ErrCouponExpired
	}
	h.Status = HistoryUsed
	h.UsedAt = &now
	h.UpdatedAt = now
	return nil
}

// UserCoupon is a history row joined with its coupon for listing.
type UserCoupon struct {
	HistoryID    snowflake.ID    `json:"history_id"`
	CouponID     snowflake.ID    `json:"coupon_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	Status       HistoryStatus   `json:"status"`
	IssuedAt     time.Time       `json:"issued_at"`
	UsedAt       *time.Time      `json:"used_at,omitempty"`
	EndDate      time.Time       `json:"end_date"`
}
