package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID      snowflake.ID    `json:"user_id" gorm:"not null;index"`
	Status      OrderStatus     `json:"status" gorm:"type:varchar(16);not null"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(19,2);not null"`
	Version     int64           `json:"version" gorm:"not null;default:0"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
	Items       []OrderItem     `json:"items" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

// ProductIDs returns the ids of the order's items in item order.
func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, int64(item.ProductID))
	}
	return ids
}

// Complete moves a pending order to COMPLETED.
func (o *Order) Complete(now time.Time) error {
	switch o.Status {
	case OrderPending:
	case OrderCompleted:
		return ErrOrderAlreadyPaid
	default:
		return ErrInvalidOrderStatus
	}
	o.Status = OrderCompleted
	o.UpdatedAt = now
	return nil
}

func (o *Order) Cancel(now time.Time) error {
	if o.Status != OrderPending {
		return ErrInvalidOrderStatus
	}
	o.Status = OrderCancelled
	o.UpdatedAt = now
	return nil
}

// OrderItem snapshots the unit price at order time.
type OrderItem struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID    `json:"order_id" gorm:"not null;index"`
	ProductID snowflake.ID    `json:"product_id" gorm:"not null"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:numeric(19,2);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Payment is unique per order.
type Payment struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID    `json:"order_id" gorm:"not null;uniqueIndex"`
	UserID         snowflake.ID    `json:"user_id" gorm:"not null;index"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(19,2);not null"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:numeric(19,2);not null"`
	CouponID       *snowflake.ID   `json:"coupon_id,omitempty"`
	Status         PaymentStatus   `json:"status" gorm:"type:varchar(16);not null"`
	Version        int64           `json:"version" gorm:"not null;default:0"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// Discount returns the amount taken off total at rate, rounded to cents.
func Discount(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Round(2)
}
