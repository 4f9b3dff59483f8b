package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/order/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	orderColumns   = `id, user_id, status, total_amount, version, created_at, updated_at`
	itemColumns    = `id, order_id, product_id, quantity, unit_price, created_at`
	paymentColumns = `id, order_id, user_id, amount, discount_amount, coupon_id, status, version, created_at, updated_at`
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, o *domain.Order) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.UserID,
		o.Status,
		o.TotalAmount,
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	).Error
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		err := conn.WithContext(ctx).Exec(
			`INSERT INTO order_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var o domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}

	orders := []*domain.Order{&o}
	if err := r.attachItems(ctx, conn, orders); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repo) ListByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID, page pagination.Page) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID,
		page.Fetch(),
		page.Offset,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, conn, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) attachItems(ctx context.Context, conn *gorm.DB, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]snowflake.ID, 0, len(orders))
	byID := make(map[snowflake.ID]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Items = []domain.OrderItem{}
	}

	var items []domain.OrderItem
	err := conn.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM order_items WHERE order_id IN ? ORDER BY product_id ASC`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return err
	}
	for _, item := range items {
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, o *domain.Order) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		o.Status,
		o.UpdatedAt,
		o.ID,
		o.Version,
	)
	if err := db.Versioned(res); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *repo) InsertPayment(ctx context.Context, conn *gorm.DB, p *domain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrderID,
		p.UserID,
		p.Amount,
		p.DiscountAmount,
		p.CouponID,
		p.Status,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindPaymentByOrder(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (*domain.Payment, error) {
	var p domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`,
		orderID,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}
