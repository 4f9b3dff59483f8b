package cache

import "time"

const (
	TTLProductDetail  = time.Hour
	TTLProductList    = time.Hour
	TTLOrderDetail    = 10 * time.Minute
	TTLOrderList      = 5 * time.Minute
	TTLUserBalance    = time.Minute
	TTLUserCouponList = 5 * time.Minute
	TTLCouponInfo     = 10 * time.Minute
	TTLProcessedEvent = 24 * time.Hour
)

// PopularTTL scales the popular-products TTL with the ranking period.
func PopularTTL(days int) time.Duration {
	switch {
	case days <= 1:
		return 5 * time.Minute
	case days <= 3:
		return 10 * time.Minute
	case days <= 7:
		return 30 * time.Minute
	case days <= 30:
		return time.Hour
	default:
		return 2 * time.Hour
	}
}
