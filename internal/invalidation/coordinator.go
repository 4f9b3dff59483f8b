package invalidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/zap"
)

// Plan is the set of exact keys and glob patterns to evict.
type Plan struct {
	Keys     []string
	Patterns []string
}

func (p Plan) Empty() bool {
	return len(p.Keys) == 0 && len(p.Patterns) == 0
}

// Merge returns the union of p and other, keeping first-seen order.
func (p Plan) Merge(other Plan) Plan {
	return Plan{
		Keys:     appendUnique(p.Keys, other.Keys...),
		Patterns: appendUnique(p.Patterns, other.Patterns...),
	}
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(values))
	out := make([]string, 0, len(dst)+len(values))
	for _, v := range append(append([]string{}, dst...), values...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Coordinator maps mutations to cache evictions and applies them.
type Coordinator struct {
	cache   cache.Cache
	keys    keys.Generator
	log     *zap.Logger
	metrics *metrics.Coordination
}

func NewCoordinator(c cache.Cache, gen keys.Generator, log *zap.Logger, m *metrics.Coordination) *Coordinator {
	return &Coordinator{
		cache:   c,
		keys:    gen,
		log:     log.Named("invalidation"),
		metrics: m,
	}
}

// PlanFor merges the eviction plans of every mutation.
func (c *Coordinator) PlanFor(mutations ...Mutation) Plan {
	var plan Plan
	for _, m := range mutations {
		plan = plan.Merge(c.planFor(m))
	}
	return plan
}

func (c *Coordinator) planFor(m Mutation) Plan {
	g := c.keys
	switch m := m.(type) {
	case BalanceChanged:
		return Plan{Keys: []string{g.BalanceInfo(m.UserID)}}

	case CouponIssued:
		return c.couponForUser(m.CouponID, m.UserID)

	case CouponUsed:
		return c.couponForUser(m.CouponID, m.UserID)

	case CouponsExpired:
		plan := Plan{Patterns: []string{g.CouponListPattern(), g.CouponHistoryPattern()}}
		for _, id := range m.CouponIDs {
			plan.Keys = append(plan.Keys, g.CouponInfo(id), g.CouponStock(id))
		}
		return plan

	case OrderCreated:
		return c.orderFor(m.OrderID, m.UserID, m.ProductIDs, false)

	case OrderPaid:
		plan := c.orderFor(m.OrderID, m.UserID, m.ProductIDs, true)
		if m.CouponID != nil {
			plan = plan.Merge(c.couponForUser(*m.CouponID, m.UserID))
		}
		return plan

	case OrderCancelled:
		return c.orderFor(m.OrderID, m.UserID, m.ProductIDs, false)

	case ProductCreated:
		return Plan{
			Keys:     []string{g.ProductInfo(m.ProductID)},
			Patterns: []string{g.ProductListPattern(), g.ProductPopularPattern()},
		}

	case ProductUpdated:
		plan := Plan{
			Keys:     []string{g.ProductInfo(m.ProductID)},
			Patterns: []string{g.ProductListPattern(), g.ProductPopularPattern(), g.OrderListPattern()},
		}
		if m.PriceChanged {
			plan.Patterns = append(plan.Patterns, g.CouponListPattern(), g.CouponHistoryPattern())
		}
		return plan

	case ProductStockChanged:
		return Plan{Keys: []string{g.ProductInfo(m.ProductID), g.ProductStats(m.ProductID)}}

	case ProductDeleted:
		return Plan{
			Keys: []string{g.ProductInfo(m.ProductID), g.ProductStats(m.ProductID)},
			Patterns: []string{
				g.ProductListPattern(),
				g.ProductPopularPattern(),
				g.OrderListPattern(),
				g.CouponListPattern(),
				g.CouponHistoryPattern(),
			},
		}

	default:
		c.log.Warn("no invalidation plan for mutation", zap.String("mutation", fmt.Sprintf("%T", m)))
		return Plan{}
	}
}

func (c *Coordinator) couponForUser(couponID, userID int64) Plan {
	g := c.keys
	return Plan{
		Keys: []string{g.CouponInfo(couponID), g.CouponStock(couponID)},
		Patterns: []string{
			g.CouponListPatternFor(userID),
			g.CouponHistoryPatternFor(userID),
		},
	}
}

func (c *Coordinator) orderFor(orderID, userID int64, productIDs []int64, paid bool) Plan {
	g := c.keys
	plan := Plan{
		Keys:     []string{g.OrderInfo(orderID)},
		Patterns: []string{g.OrderListPatternFor(userID)},
	}
	if paid {
		plan.Keys = append(plan.Keys, g.BalanceInfo(userID))
	}
	for _, id := range keys.SortedUnique(productIDs) {
		plan.Keys = append(plan.Keys, g.ProductInfo(id), g.ProductStats(id))
	}
	return plan
}

func (c *Coordinator) KeyFor(resource keys.ResourceType, id int64) string {
	return c.keys.KeyFor(resource, id)
}

func (c *Coordinator) PatternFor(resource keys.ResourceType, scope string) string {
	return c.keys.PatternFor(resource, scope)
}

func (c *Coordinator) Evict(ctx context.Context, key string) error {
	if err := c.cache.Evict(ctx, key); err != nil {
		c.fail("evict", key, err)
		return err
	}
	return nil
}

func (c *Coordinator) EvictByPattern(ctx context.Context, pattern string) error {
	n, err := c.cache.EvictByPattern(ctx, pattern)
	if err != nil {
		c.fail("evict_pattern", pattern, err)
		return err
	}
	c.log.Debug("pattern evicted", zap.String("pattern", pattern), zap.Int64("removed", n))
	return nil
}

// Apply evicts everything in plan. It keeps going after a failure and returns
// the joined errors; callers treat them as non-fatal.
func (c *Coordinator) Apply(ctx context.Context, plan Plan) error {
	var errs error
	for _, key := range plan.Keys {
		if err := c.Evict(ctx, key); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	for _, pattern := range plan.Patterns {
		if err := c.EvictByPattern(ctx, pattern); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (c *Coordinator) fail(op, target string, err error) {
	c.metrics.IncInvalidationFailure()
	c.log.Warn("cache invalidation failed",
		zap.String("op", op),
		zap.String("target", target),
		zap.Error(err),
	)
}
