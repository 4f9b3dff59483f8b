package keys

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ResourceType names a cacheable or lockable resource family.
type ResourceType string

const (
	ResourceBalance ResourceType = "balance"
	ResourceProduct ResourceType = "product"
	ResourceCoupon  ResourceType = "coupon"
	ResourceOrder   ResourceType = "order"
	ResourceRanking ResourceType = "ranking"
)

// Generator formats lock, cache and counter keys. It holds no state and is
// passed by value to every collaborator that needs keys.
type Generator struct{}

func New() Generator { return Generator{} }

// Lock keys.

func (Generator) BalanceLock(userID int64) string {
	return "balance:user_" + id(userID)
}

func (Generator) ProductLock(productID int64) string {
	return "product:" + id(productID)
}

func (Generator) CouponLock(couponID int64) string {
	return "coupon:" + id(couponID)
}

func (Generator) OrderPaymentLock(orderID int64) string {
	return "order:payment:" + id(orderID)
}

// ProductLocks returns product lock keys in ascending id order without duplicates.
func (g Generator) ProductLocks(productIDs []int64) []string {
	ordered := SortedUnique(productIDs)
	out := make([]string, 0, len(ordered))
	for _, pid := range ordered {
		out = append(out, g.ProductLock(pid))
	}
	return out
}

// Cache keys.

func (Generator) BalanceInfo(userID int64) string {
	return "balance:info:user_" + id(userID)
}

func (Generator) ProductInfo(productID int64) string {
	return "product:info:product_" + id(productID)
}

func (Generator) ProductList(limit, offset int) string {
	return fmt.Sprintf("product:list:limit_%d_offset_%d", limit, offset)
}

// ProductPopular caches the aggregated ranking over the last days.
func (Generator) ProductPopular(days, limit int) string {
	return fmt.Sprintf("product:popular:days_%d_limit_%d", days, limit)
}

func (Generator) ProductStats(productID int64) string {
	return "product:stats:product_" + id(productID)
}

func (Generator) CouponInfo(couponID int64) string {
	return "coupon:info:coupon_" + id(couponID)
}

func (Generator) CouponStock(couponID int64) string {
	return "coupon:stock:coupon_" + id(couponID)
}

func (Generator) CouponList(userID int64, limit, offset int) string {
	return fmt.Sprintf("coupon:list:user_%d_limit_%d_offset_%d", userID, limit, offset)
}

func (Generator) CouponHistory(userID int64) string {
	return "coupon:history:user_" + id(userID) + "_all"
}

func (Generator) CouponHistoryFor(userID, couponID int64) string {
	return fmt.Sprintf("coupon:history:user_%d_coupon_%d", userID, couponID)
}

func (Generator) OrderInfo(orderID int64) string {
	return "order:info:order_" + id(orderID)
}

func (Generator) OrderList(userID int64, limit, offset int) string {
	return fmt.Sprintf("order:list:user_%d_limit_%d_offset_%d", userID, limit, offset)
}

// DailyRanking is the sorted set of product sales for the UTC day of t.
func (Generator) DailyRanking(t time.Time) string {
	return "ranking:daily:" + t.UTC().Format("20060102")
}

// RankingMember is the sorted set member for a product.
func (Generator) RankingMember(productID int64) string {
	return "product:" + id(productID)
}

// ProductFromRankingMember is the inverse of RankingMember.
func (Generator) ProductFromRankingMember(member string) (int64, bool) {
	raw, ok := strings.CutPrefix(member, "product:")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Counter keys.

func (Generator) CouponIssuedCount(couponID int64) string {
	return "coupon:issued_count:coupon_" + id(couponID)
}

func (Generator) CouponIssuedUsers(couponID int64) string {
	return "coupon:issued_users:coupon_" + id(couponID)
}

func (Generator) UserMember(userID int64) string {
	return "user_" + id(userID)
}

// Patterns.

func (Generator) ProductListPattern() string    { return "product:list:*" }
func (Generator) ProductPopularPattern() string { return "product:popular:*" }
func (Generator) CouponListPattern() string     { return "coupon:list:*" }

func (Generator) CouponListPatternFor(userID int64) string {
	return "coupon:list:user_" + id(userID) + "_*"
}

func (Generator) CouponHistoryPatternFor(userID int64) string {
	return "coupon:history:user_" + id(userID) + "_*"
}

func (Generator) CouponHistoryPattern() string { return "coupon:history:*" }

func (Generator) OrderListPattern() string { return "order:list:*" }

func (Generator) OrderListPatternFor(userID int64) string {
	return "order:list:user_" + id(userID) + "_*"
}

// KeyFor returns the detail cache key of a resource.
func (g Generator) KeyFor(resource ResourceType, resourceID int64) string {
	switch resource {
	case ResourceBalance:
		return g.BalanceInfo(resourceID)
	case ResourceProduct:
		return g.ProductInfo(resourceID)
	case ResourceCoupon:
		return g.CouponInfo(resourceID)
	case ResourceOrder:
		return g.OrderInfo(resourceID)
	default:
		return string(resource) + ":info:" + id(resourceID)
	}
}

// PatternFor returns a glob pattern covering scope within a resource family.
// An empty scope covers the whole family.
func (Generator) PatternFor(resource ResourceType, scope string) string {
	if scope == "" {
		return string(resource) + ":*"
	}
	return string(resource) + ":" + scope + ":*"
}

// SortedUnique returns ids in ascending numeric order with duplicates removed.
// Multi-resource locks are always taken in this order.
func SortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, v := range ids {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}
