package handlers

import (
	"context"
	"fmt"

	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/keys"
	"go.uber.org/zap"
)

// Ranking adds completed order quantities to the daily sales ranking.
// Each (event, product) pair is counted at most once.
type Ranking struct {
	cache cache.Cache
	keys  keys.Generator
	log   *zap.Logger
}

func NewRanking(c cache.Cache, gen keys.Generator, log *zap.Logger) *Ranking {
	return &Ranking{cache: c, keys: gen, log: log.Named("handlers.ranking")}
}

func (h *Ranking) VisitOrderCompleted(ctx context.Context, e events.OrderCompleted) error {
	eventID := events.EventIDFromContext(ctx)
	if eventID == "" {
		eventID = fmt.Sprintf("order_%d", e.OrderID)
	}
	board := h.keys.DailyRanking(e.CompletedAt)

	for _, item := range e.Items {
		if item.Quantity <= 0 {
			continue
		}
		marker := fmt.Sprintf("ranking:processed:%s:%d", eventID, item.ProductID)
		first, err := h.cache.MarkOnce(ctx, marker, cache.TTLProcessedEvent)
		if err != nil {
			return err
		}
		if !first {
			continue
		}
		if err := h.cache.AddScore(ctx, board, h.keys.RankingMember(item.ProductID), float64(item.Quantity)); err != nil {
			_ = h.cache.Evict(ctx, marker)
			return err
		}
	}

	h.log.Debug("ranking updated",
		zap.Int64("order_id", e.OrderID),
		zap.Int("items", len(e.Items)),
	)
	return nil
}

func (h *Ranking) VisitBalanceUpdated(context.Context, events.BalanceUpdated) error { return nil }
func (h *Ranking) VisitCouponIssued(context.Context, events.CouponIssued) error     { return nil }
func (h *Ranking) VisitProductUpdated(context.Context, events.ProductUpdated) error { return nil }
