package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/checkout/internal/balance/domain"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	coupondomain "github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	"github.com/smallbiznis/checkout/internal/order/domain"
	productdomain "github.com/smallbiznis/checkout/internal/product/domain"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxOrderItems = 50

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Products     productdomain.Repository
	Users        userdomain.Service
	Balances     balancedomain.Service
	Coupons      coupondomain.Service
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Reader
	Keys         keys.Generator
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	products productdomain.Repository
	users    userdomain.Service
	balances balancedomain.Service
	coupons  coupondomain.Service
	orch     *orchestrator.Orchestrator
	cache    *cache.Reader
	keys     keys.Generator
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		products: p.Products,
		users:    p.Users,
		balances: p.Balances,
		coupons:  p.Coupons,
		orch:     p.Orchestrator,
		cache:    p.Cache,
		keys:     p.Keys,
	}
}

// mergeItems folds repeated products together and orders the result by
// product id, the order in which product locks are taken.
func mergeItems(items []domain.ItemRequest) ([]domain.ItemRequest, error) {
	if len(items) == 0 || len(items) > maxOrderItems {
		return nil, domain.ErrInvalidOrderItems
	}
	qty := make(map[snowflake.ID]int, len(items))
	for _, item := range items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return nil, domain.ErrInvalidOrderItems
		}
		qty[item.ProductID] += item.Quantity
	}

	out := make([]domain.ItemRequest, 0, len(qty))
	for id, q := range qty {
		out = append(out, domain.ItemRequest{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Order, error) {
	items, err := mergeItems(req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.users.EnsureExists(ctx, req.UserID); err != nil {
		return domain.Order{}, err
	}

	productIDs := make([]int64, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, int64(item.ProductID))
	}
	plan := orchestrator.Plan{
		Name:  "order.create",
		Locks: s.keys.ProductLocks(productIDs),
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Order], error) {
		now := s.clock.Now().UTC()
		order := domain.Order{
			ID:          s.genID.Generate(),
			UserID:      req.UserID,
			Status:      domain.OrderPending,
			TotalAmount: decimal.Zero,
			CreatedAt:   now,
			UpdatedAt:   now,
			Items:       make([]domain.OrderItem, 0, len(items)),
		}

		for _, item := range items {
			product, err := s.products.FindByID(ctx, tx, item.ProductID)
			if err != nil {
				return orchestrator.Outcome[domain.Order]{}, err
			}
			if product == nil {
				return orchestrator.Rejected[domain.Order](productdomain.ErrProductNotFound), nil
			}
			if err := product.Reserve(item.Quantity); err != nil {
				return orchestrator.Rejected[domain.Order](err), nil
			}
			product.UpdatedAt = now
			if err := s.products.Update(ctx, tx, product); err != nil {
				return orchestrator.Fail[domain.Order](err)
			}

			line := domain.OrderItem{
				ID:        s.genID.Generate(),
				OrderID:   order.ID,
				ProductID: product.ID,
				Quantity:  item.Quantity,
				UnitPrice: product.Price,
				CreatedAt: now,
			}
			order.Items = append(order.Items, line)
			order.TotalAmount = order.TotalAmount.Add(line.Subtotal())
		}

		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			return orchestrator.Outcome[domain.Order]{}, err
		}

		s.log.Info("order created",
			zap.String("order_id", order.ID.String()),
			zap.String("user_id", order.UserID.String()),
			zap.Int("items", len(order.Items)),
			zap.String("total", order.TotalAmount.String()),
		)
		return orchestrator.Ok(order).
			Invalidate(invalidation.OrderCreated{
				OrderID:    int64(order.ID),
				UserID:     int64(order.UserID),
				ProductIDs: productIDs,
			}), nil
	})
}

// loadOwned reads an order outside any lock. Items never change after
// creation, so the product set read here is safe to lock on.
func (s *Service) loadOwned(ctx context.Context, conn *gorm.DB, userID, orderID snowflake.ID) (*domain.Order, error) {
	if orderID <= 0 {
		return nil, domain.ErrInvalidOrderID
	}
	order, err := s.repo.FindByID(ctx, conn, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) Pay(ctx context.Context, req domain.PayRequest) (domain.PayResult, error) {
	order, err := s.loadOwned(ctx, s.db, req.UserID, req.OrderID)
	if err != nil {
		return domain.PayResult{}, err
	}
	if order.Status == domain.OrderCompleted {
		return domain.PayResult{}, domain.ErrOrderAlreadyPaid
	}
	if order.Status != domain.OrderPending {
		return domain.PayResult{}, domain.ErrInvalidOrderStatus
	}

	productIDs := order.ProductIDs()
	locks := []string{
		s.keys.OrderPaymentLock(int64(order.ID)),
		s.keys.BalanceLock(int64(req.UserID)),
	}
	plan := orchestrator.Plan{
		Name:  "order.pay",
		Locks: append(locks, s.keys.ProductLocks(productIDs)...),
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.PayResult], error) {
		now := s.clock.Now().UTC()
		order, err := s.loadOwned(ctx, tx, req.UserID, req.OrderID)
		if err != nil {
			return orchestrator.Fail[domain.PayResult](err)
		}
		paid, err := s.repo.FindPaymentByOrder(ctx, tx, order.ID)
		if err != nil {
			return orchestrator.Outcome[domain.PayResult]{}, err
		}
		if paid != nil && paid.Status == domain.PaymentPaid {
			return orchestrator.Rejected[domain.PayResult](domain.ErrOrderAlreadyPaid), nil
		}
		if err := order.Complete(now); err != nil {
			return orchestrator.Rejected[domain.PayResult](err), nil
		}

		payment := domain.Payment{
			ID:             s.genID.Generate(),
			OrderID:        order.ID,
			UserID:         order.UserID,
			Amount:         order.TotalAmount,
			DiscountAmount: decimal.Zero,
			CouponID:       req.CouponID,
			Status:         domain.PaymentPaid,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if req.CouponID != nil {
			coupon, _, err := s.coupons.UseTx(ctx, tx, order.UserID, *req.CouponID)
			if err != nil {
				return orchestrator.Fail[domain.PayResult](err)
			}
			payment.DiscountAmount = domain.Discount(order.TotalAmount, coupon.DiscountRate)
			payment.Amount = order.TotalAmount.Sub(payment.DiscountAmount)
		}

		// A full discount leaves nothing to deduct.
		orderID := order.ID
		var balance balancedomain.Balance
		deducted := payment.Amount.IsPositive()
		if deducted {
			balance, err = s.balances.DeductTx(ctx, tx, balancedomain.DeductRequest{
				UserID:  order.UserID,
				Amount:  payment.Amount,
				OrderID: &orderID,
			})
			if err != nil {
				return orchestrator.Fail[domain.PayResult](err)
			}
		}

		if err := s.confirmReservations(ctx, tx, order, now); err != nil {
			return orchestrator.Fail[domain.PayResult](err)
		}
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return orchestrator.Rejected[domain.PayResult](domain.ErrOrderAlreadyPaid), nil
			}
			return orchestrator.Outcome[domain.PayResult]{}, err
		}
		if err := s.repo.UpdateStatus(ctx, tx, order); err != nil {
			return orchestrator.Fail[domain.PayResult](err)
		}

		s.log.Info("order paid",
			zap.String("order_id", order.ID.String()),
			zap.String("amount", payment.Amount.String()),
			zap.String("discount", payment.DiscountAmount.String()),
		)

		completed := events.OrderCompleted{
			OrderID:     int64(order.ID),
			UserID:      int64(order.UserID),
			Items:       make([]events.OrderItem, 0, len(order.Items)),
			CompletedAt: now,
		}
		for _, item := range order.Items {
			completed.Items = append(completed.Items, events.OrderItem{ProductID: int64(item.ProductID), Quantity: item.Quantity})
		}
		oid := int64(order.ID)
		evts := []events.Event{completed}
		if deducted {
			evts = append(evts, events.BalanceUpdated{
				UserID:         int64(order.UserID),
				Amount:         payment.Amount,
				CurrentBalance: balance.Amount,
				Kind:           events.BalanceDeducted,
				OrderID:        &oid,
				OccurredAt:     now,
			})
		}

		var couponID *int64
		if req.CouponID != nil {
			cid := int64(*req.CouponID)
			couponID = &cid
			evts = append(evts, events.CouponIssued{
				CouponID:   cid,
				UserID:     int64(order.UserID),
				Kind:       events.CouponEventUsed,
				OccurredAt: now,
			})
		}

		return orchestrator.Ok(domain.PayResult{Order: *order, Payment: payment}).
			Invalidate(invalidation.OrderPaid{
				OrderID:    int64(order.ID),
				UserID:     int64(order.UserID),
				ProductIDs: productIDs,
				CouponID:   couponID,
			}).
			Emit(evts...), nil
	})
}

func (s *Service) confirmReservations(ctx context.Context, tx *gorm.DB, order *domain.Order, now time.Time) error {
	for _, item := range sortedItems(order.Items) {
		product, err := s.products.FindByID(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return productdomain.ErrProductNotFound
		}
		if err := product.ConfirmReservation(item.Quantity); err != nil {
			return err
		}
		product.UpdatedAt = now
		if err := s.products.Update(ctx, tx, product); err != nil {
			return err
		}
	}
	return nil
}

func sortedItems(items []domain.OrderItem) []domain.OrderItem {
	out := append([]domain.OrderItem(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (s *Service) Cancel(ctx context.Context, userID, orderID snowflake.ID) (domain.Order, error) {
	order, err := s.loadOwned(ctx, s.db, userID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	productIDs := order.ProductIDs()

	plan := orchestrator.Plan{
		Name:  "order.cancel",
		Locks: append([]string{s.keys.OrderPaymentLock(int64(orderID))}, s.keys.ProductLocks(productIDs)...),
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Order], error) {
		now := s.clock.Now().UTC()
		order, err := s.loadOwned(ctx, tx, userID, orderID)
		if err != nil {
			return orchestrator.Fail[domain.Order](err)
		}
		if order.Status == domain.OrderCompleted {
			return orchestrator.Rejected[domain.Order](domain.ErrOrderAlreadyPaid), nil
		}
		if err := order.Cancel(now); err != nil {
			return orchestrator.Rejected[domain.Order](err), nil
		}

		for _, item := range sortedItems(order.Items) {
			product, err := s.products.FindByID(ctx, tx, item.ProductID)
			if err != nil {
				return orchestrator.Outcome[domain.Order]{}, err
			}
			if product == nil {
				continue
			}
			if err := product.CancelReservation(item.Quantity); err != nil {
				return orchestrator.Rejected[domain.Order](err), nil
			}
			product.UpdatedAt = now
			if err := s.products.Update(ctx, tx, product); err != nil {
				return orchestrator.Fail[domain.Order](err)
			}
		}
		if err := s.repo.UpdateStatus(ctx, tx, order); err != nil {
			return orchestrator.Fail[domain.Order](err)
		}

		return orchestrator.Ok(*order).
			Invalidate(invalidation.OrderCancelled{
				OrderID:    int64(order.ID),
				UserID:     int64(order.UserID),
				ProductIDs: productIDs,
			}), nil
	})
}

func (s *Service) Get(ctx context.Context, userID, orderID snowflake.ID) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, domain.ErrInvalidOrderID
	}
	order, err := cache.Load(ctx, s.cache, s.keys.OrderInfo(int64(orderID)), cache.TTLOrderDetail, func(ctx context.Context) (domain.Order, error) {
		order, err := s.repo.FindByID(ctx, s.db, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order == nil {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return *order, nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID, page pagination.Page) (domain.ListResponse, error) {
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return domain.ListResponse{}, err
	}
	page = page.Normalize()
	key := s.keys.OrderList(int64(userID), page.Limit, page.Offset)
	return cache.Load(ctx, s.cache, key, cache.TTLOrderList, func(ctx context.Context) (domain.ListResponse, error) {
		orders, err := s.repo.ListByUser(ctx, s.db, userID, page)
		if err != nil {
			return domain.ListResponse{}, err
		}
		orders, info := pagination.Build(orders, page)
		resp := domain.ListResponse{PageInfo: info, Orders: make([]domain.Order, 0, len(orders))}
		for _, o := range orders {
			resp.Orders = append(resp.Orders, *o)
		}
		return resp, nil
	})
}
