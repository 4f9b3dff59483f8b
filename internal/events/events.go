package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the stable wire name of an event kind.
type Type string

const (
	TypeBalanceUpdated Type = "balance.updated"
	TypeCouponIssued   Type = "coupon.issued"
	TypeOrderCompleted Type = "order.completed"
	TypeProductUpdated Type = "product.updated"
)

// Event is the closed set of domain events. Only types in this package
// implement it.
type Event interface {
	EventType() Type
	Accept(ctx context.Context, v Visitor) error
	sealed()
}

// Visitor handles every event kind. Adding a kind adds a method here, so every
// handler must decide what to do with it before the build passes.
type Visitor interface {
	VisitBalanceUpdated(ctx context.Context, e BalanceUpdated) error
	VisitCouponIssued(ctx context.Context, e CouponIssued) error
	VisitOrderCompleted(ctx context.Context, e OrderCompleted) error
	VisitProductUpdated(ctx context.Context, e ProductUpdated) error
}

type BalanceEventKind string

const (
	BalanceCharged  BalanceEventKind = "CHARGED"
	BalanceDeducted BalanceEventKind = "DEDUCTED"
)

type BalanceUpdated struct {
	UserID         int64            `json:"user_id"`
	Amount         decimal.Decimal  `json:"amount"`
	CurrentBalance decimal.Decimal  `json:"current_balance"`
	Kind           BalanceEventKind `json:"event_type"`
	OrderID        *int64           `json:"order_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

func (BalanceUpdated) EventType() Type { return TypeBalanceUpdated }
func (e BalanceUpdated) Accept(ctx context.Context, v Visitor) error {
	return v.VisitBalanceUpdated(ctx, e)
}
func (BalanceUpdated) sealed() {}

type CouponEventKind string

const (
	CouponEventIssued       CouponEventKind = "ISSUED"
	CouponEventUsed         CouponEventKind = "USED"
	CouponEventExpired      CouponEventKind = "EXPIRED"
	CouponEventStockUpdated CouponEventKind = "STOCK_UPDATED"
)

type CouponIssued struct {
	CouponID   int64           `json:"coupon_id"`
	UserID     int64           `json:"user_id,omitempty"`
	Kind       CouponEventKind `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (CouponIssued) EventType() Type { return TypeCouponIssued }
func (e CouponIssued) Accept(ctx context.Context, v Visitor) error {
	return v.VisitCouponIssued(ctx, e)
}
func (CouponIssued) sealed() {}

type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type OrderCompleted struct {
	OrderID     int64       `json:"order_id"`
	UserID      int64       `json:"user_id"`
	Items       []OrderItem `json:"items"`
	CompletedAt time.Time   `json:"completed_at"`
}

func (OrderCompleted) EventType() Type { return TypeOrderCompleted }
func (e OrderCompleted) Accept(ctx context.Context, v Visitor) error {
	return v.VisitOrderCompleted(ctx, e)
}
func (OrderCompleted) sealed() {}

type ProductEventKind string

const (
	ProductCreated      ProductEventKind = "CREATED"
	ProductChanged      ProductEventKind = "UPDATED"
	ProductStockUpdated ProductEventKind = "STOCK_UPDATED"
	ProductDeleted      ProductEventKind = "DELETED"
)

// ProductUpdated carries the previous values so consumers can diff.
type ProductUpdated struct {
	ProductID     int64            `json:"product_id"`
	Kind          ProductEventKind `json:"event_type"`
	Price         decimal.Decimal  `json:"price"`
	Stock         int              `json:"stock"`
	PreviousPrice *decimal.Decimal `json:"previous_price,omitempty"`
	PreviousStock *int             `json:"previous_stock,omitempty"`
	PreviousName  *string          `json:"previous_name,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// PriceChanged reports whether the update moved the price.
func (e ProductUpdated) PriceChanged() bool {
	return e.PreviousPrice != nil && !e.PreviousPrice.Equal(e.Price)
}

func (ProductUpdated) EventType() Type { return TypeProductUpdated }
func (e ProductUpdated) Accept(ctx context.Context, v Visitor) error {
	return v.VisitProductUpdated(ctx, e)
}
func (ProductUpdated) sealed() {}

type eventIDKey struct{}

// ContextWithEventID tags ctx with the delivery id of the event being handled.
func ContextWithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

func EventIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey{}).(string)
	return id
}
