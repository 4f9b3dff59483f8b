package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	couponColumns  = `id, code, name, discount_rate, max_issuance, issued_count, start_date, end_date, status, version, created_at, updated_at`
	historyColumns = `id, user_id, coupon_id, status, issued_at, used_at, version, created_at, updated_at`
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCoupon(ctx context.Context, conn *gorm.DB, c *domain.Coupon) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO coupons (`+couponColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Code,
		c.Name,
		c.DiscountRate,
		c.MaxIssuance,
		c.IssuedCount,
		c.StartDate,
		c.EndDate,
		c.Status,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Coupon, error) {
	var c domain.Coupon
	err := conn.WithContext(ctx).Raw(
		`SELECT `+couponColumns+` FROM coupons WHERE id = ?`,
		id,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) UpdateCoupon(ctx context.Context, conn *gorm.DB, c *domain.Coupon) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET issued_count = ?, status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		c.IssuedCount,
		c.Status,
		c.UpdatedAt,
		c.ID,
		c.Version,
	)
	if err := db.Versioned(res); err != nil {
		return err
	}
	c.Version++
	return nil
}

func (r *repo) ListExpirable(ctx context.Context, conn *gorm.DB, now time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT id FROM coupons
		 WHERE end_date <= ? AND status NOT IN (?, ?)
		 ORDER BY id ASC`,
		now,
		domain.CouponExpired,
		domain.CouponDisabled,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListIssuable(ctx context.Context, conn *gorm.DB, limit int) ([]*domain.Coupon, error) {
	var items []*domain.Coupon
	err := conn.WithContext(ctx).Raw(
		`SELECT `+couponColumns+` FROM coupons
		 WHERE status = ?
		 ORDER BY id ASC LIMIT ?`,
		domain.CouponActive,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertHistory(ctx context.Context, conn *gorm.DB, h *domain.CouponHistory) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO coupon_histories (`+historyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID,
		h.UserID,
		h.CouponID,
		h.Status,
		h.IssuedAt,
		h.UsedAt,
		h.Version,
		h.CreatedAt,
		h.UpdatedAt,
	).Error
}

func (r *repo) FindHistory(ctx context.Context, conn *gorm.DB, userID, couponID snowflake.ID) (*domain.CouponHistory, error) {
	var h domain.CouponHistory
	err := conn.WithContext(ctx).Raw(
		`SELECT `+historyColumns+` FROM coupon_histories
		 WHERE user_id = ? AND coupon_id = ?`,
		userID,
		couponID,
	).Scan(&h).Error
	if err != nil {
		return nil, err
	}
	if h.ID == 0 {
		return nil, nil
	}
	return &h, nil
}

func (r *repo) UpdateHistory(ctx context.Context, conn *gorm.DB, h *domain.CouponHistory) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE coupon_histories
		 SET status = ?, used_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		h.Status,
		h.UsedAt,
		h.UpdatedAt,
		h.ID,
		h.Version,
	)
	if err := db.Versioned(res); err != nil {
		return err
	}
	h.Version++
	return nil
}

func (r *repo) ExpireHistories(ctx context.Context, conn *gorm.DB, couponID snowflake.ID, now time.Time) ([]snowflake.ID, error) {
	var users []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id FROM coupon_histories
		 WHERE coupon_id = ? AND status = ?
		 ORDER BY user_id ASC`,
		couponID,
		domain.HistoryIssued,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	err = conn.WithContext(ctx).Exec(
		`UPDATE coupon_histories
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE coupon_id = ? AND status = ?`,
		domain.HistoryExpired,
		now,
		couponID,
		domain.HistoryIssued,
	).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) ListForUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID, page pagination.Page) ([]domain.UserCoupon, error) {
	var items []domain.UserCoupon
	err := conn.WithContext(ctx).Raw(
		`SELECT h.id AS history_id, h.coupon_id, c.code, c.name, c.discount_rate,
		        h.status, h.issued_at, h.used_at, c.end_date
		 FROM coupon_histories h
		 JOIN coupons c ON c.id = h.coupon_id
		 WHERE h.user_id = ?
		 ORDER BY h.issued_at DESC, h.id DESC
		 LIMIT ? OFFSET ?`,
		userID,
		page.Fetch(),
		page.Offset,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountHistories(ctx context.Context, conn *gorm.DB, couponID snowflake.ID) (int64, error) {
	var n int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM coupon_histories WHERE coupon_id = ?`,
		couponID,
	).Scan(&n).Error
	return n, err
}
