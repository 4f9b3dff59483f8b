package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenCache struct {
	cache.Cache
	evicted []string
}

func (b *brokenCache) Evict(_ context.Context, key string) error {
	b.evicted = append(b.evicted, key)
	return errors.New("redis down")
}

func (b *brokenCache) EvictByPattern(_ context.Context, pattern string) (int64, error) {
	b.evicted = append(b.evicted, pattern)
	return 0, errors.New("redis down")
}

func newCoordinator(c cache.Cache) *Coordinator {
	return NewCoordinator(c, keys.New(), zap.NewNop(), nil)
}

func TestPlanFor_ProductUpdateTouchesCouponsOnlyOnPriceChange(t *testing.T) {
	c := newCoordinator(cache.NewMemoryCache())
	g := keys.New()

	plain := c.PlanFor(ProductUpdated{ProductID: 4})
	assert.Equal(t, []string{g.ProductInfo(4)}, plain.Keys)
	assert.ElementsMatch(t, []string{g.ProductListPattern(), g.ProductPopularPattern(), g.OrderListPattern()}, plain.Patterns)
	assert.NotContains(t, plain.Patterns, g.CouponListPattern())

	priced := c.PlanFor(ProductUpdated{ProductID: 4, PriceChanged: true})
	assert.Contains(t, priced.Patterns, g.CouponListPattern())
	assert.Contains(t, priced.Patterns, g.CouponHistoryPattern())
}

func TestPlanFor_ProductDeletedCoversEverything(t *testing.T) {
	c := newCoordinator(cache.NewMemoryCache())
	g := keys.New()

	plan := c.PlanFor(ProductDeleted{ProductID: 9})

	assert.ElementsMatch(t, []string{g.ProductInfo(9), g.ProductStats(9)}, plan.Keys)
	assert.ElementsMatch(t, []string{
		g.ProductListPattern(),
		g.ProductPopularPattern(),
		g.OrderListPattern(),
		g.CouponListPattern(),
		g.CouponHistoryPattern(),
	}, plan.Patterns)
}

func TestPlanFor_OrderPaidIncludesBalanceAndCoupon(t *testing.T) {
	c := newCoordinator(cache.NewMemoryCache())
	g := keys.New()
	couponID := int64(3)

	plan := c.PlanFor(OrderPaid{OrderID: 10, UserID: 1, ProductIDs: []int64{5, 2, 5}, CouponID: &couponID})

	assert.Equal(t, []string{
		g.OrderInfo(10),
		g.BalanceInfo(1),
		g.ProductInfo(2), g.ProductStats(2),
		g.ProductInfo(5), g.ProductStats(5),
		g.CouponInfo(3), g.CouponStock(3),
	}, plan.Keys)
	assert.Equal(t, []string{
		g.OrderListPatternFor(1),
		g.CouponListPatternFor(1),
		g.CouponHistoryPatternFor(1),
	}, plan.Patterns)
}

func TestPlanFor_MergesAndDeduplicates(t *testing.T) {
	c := newCoordinator(cache.NewMemoryCache())

	plan := c.PlanFor(BalanceChanged{UserID: 1}, BalanceChanged{UserID: 1}, ProductStockChanged{ProductID: 2})

	assert.Len(t, plan.Keys, 3)
	assert.Empty(t, plan.Patterns)
	assert.True(t, c.PlanFor().Empty())
}

func TestApply_EvictsKeysAndPatterns(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryCache()
	c := newCoordinator(mem)
	g := keys.New()

	require.NoError(t, mem.Put(ctx, g.CouponList(1, 10, 0), []int{1}, time.Minute))
	require.NoError(t, mem.Put(ctx, g.CouponList(2, 10, 0), []int{2}, time.Minute))
	require.NoError(t, mem.Put(ctx, g.CouponInfo(7), "info", time.Minute))

	require.NoError(t, c.Apply(ctx, c.PlanFor(CouponIssued{CouponID: 7, UserID: 1})))

	var out any
	hit, _ := mem.Get(ctx, g.CouponList(1, 10, 0), &out)
	assert.False(t, hit)
	hit, _ = mem.Get(ctx, g.CouponInfo(7), &out)
	assert.False(t, hit)
	hit, _ = mem.Get(ctx, g.CouponList(2, 10, 0), &out)
	assert.True(t, hit, "other users' lists survive")
}

func TestApply_ContinuesPastFailures(t *testing.T) {
	broken := &brokenCache{}
	c := newCoordinator(broken)

	plan := Plan{Keys: []string{"a", "b"}, Patterns: []string{"c:*"}}
	err := c.Apply(context.Background(), plan)

	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c:*"}, broken.evicted)
}

func TestKeyForAndPatternForDelegate(t *testing.T) {
	c := newCoordinator(cache.NewMemoryCache())

	assert.Equal(t, "order:info:order_5", c.KeyFor(keys.ResourceOrder, 5))
	assert.Equal(t, "product:list:*", c.PatternFor(keys.ResourceProduct, "list"))
}
