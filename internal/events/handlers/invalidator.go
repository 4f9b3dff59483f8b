package handlers

import (
	"context"

	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/invalidation"
)

// Invalidator evicts again after delivery so a read that repopulated a key
// between commit and the first eviction does not stick around.
type Invalidator struct {
	coordinator *invalidation.Coordinator
}

func NewInvalidator(c *invalidation.Coordinator) *Invalidator {
	return &Invalidator{coordinator: c}
}

func (h *Invalidator) apply(ctx context.Context, m invalidation.Mutation) error {
	return h.coordinator.Apply(ctx, h.coordinator.PlanFor(m))
}

func (h *Invalidator) VisitBalanceUpdated(ctx context.Context, e events.BalanceUpdated) error {
	return h.apply(ctx, invalidation.BalanceChanged{UserID: e.UserID})
}

func (h *Invalidator) VisitCouponIssued(ctx context.Context, e events.CouponIssued) error {
	switch e.Kind {
	case events.CouponEventExpired:
		return h.apply(ctx, invalidation.CouponsExpired{CouponIDs: []int64{e.CouponID}})
	case events.CouponEventUsed:
		return h.apply(ctx, invalidation.CouponUsed{CouponID: e.CouponID, UserID: e.UserID})
	default:
		return h.apply(ctx, invalidation.CouponIssued{CouponID: e.CouponID, UserID: e.UserID})
	}
}

func (h *Invalidator) VisitOrderCompleted(ctx context.Context, e events.OrderCompleted) error {
	ids := make([]int64, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, item.ProductID)
	}
	return h.apply(ctx, invalidation.OrderPaid{OrderID: e.OrderID, UserID: e.UserID, ProductIDs: ids})
}

func (h *Invalidator) VisitProductUpdated(ctx context.Context, e events.ProductUpdated) error {
	switch e.Kind {
	case events.ProductCreated:
		return h.apply(ctx, invalidation.ProductCreated{ProductID: e.ProductID})
	case events.ProductStockUpdated:
		return h.apply(ctx, invalidation.ProductStockChanged{ProductID: e.ProductID})
	case events.ProductDeleted:
		return h.apply(ctx, invalidation.ProductDeleted{ProductID: e.ProductID})
	default:
		return h.apply(ctx, invalidation.ProductUpdated{ProductID: e.ProductID, PriceChanged: e.PriceChanged()})
	}
}
