package invalidation

// Mutation describes a committed state change whose cached views must go.
// The set is closed; PlanFor handles every member.
type Mutation interface {
	mutation()
}

type BalanceChanged struct {
	UserID int64
}

type CouponIssued struct {
	CouponID int64
	UserID   int64
}

type CouponUsed struct {
	CouponID int64
	UserID   int64
}

type CouponsExpired struct {
	CouponIDs []int64
}

type OrderCreated struct {
	OrderID    int64
	UserID     int64
	ProductIDs []int64
}

type OrderPaid struct {
	OrderID    int64
	UserID     int64
	ProductIDs []int64
	CouponID   *int64
}

type OrderCancelled struct {
	OrderID    int64
	UserID     int64
	ProductIDs []int64
}

type ProductCreated struct {
	ProductID int64
}

type ProductUpdated struct {
	ProductID    int64
	PriceChanged bool
}

type ProductStockChanged struct {
	ProductID int64
}

type ProductDeleted struct {
	ProductID int64
}

func (BalanceChanged) mutation()      {}
func (CouponIssued) mutation()        {}
func (CouponUsed) mutation()          {}
func (CouponsExpired) mutation()      {}
func (OrderCreated) mutation()        {}
func (OrderPaid) mutation()           {}
func (OrderCancelled) mutation()      {}
func (ProductCreated) mutation()      {}
func (ProductUpdated) mutation()      {}
func (ProductStockChanged) mutation() {}
func (ProductDeleted) mutation()      {}
