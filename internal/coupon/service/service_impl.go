package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/counter"
	"github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Users        userdomain.Service
	Counter      counter.Counter
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Reader
	Keys         keys.Generator
	Metrics      *metrics.Coordination `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	users   userdomain.Service
	counter counter.Counter
	orch    *orchestrator.Orchestrator
	cache   *cache.Reader
	keys    keys.Generator
	metrics *metrics.Coordination
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("coupon.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		users:   p.Users,
		counter: p.Counter,
		orch:    p.Orchestrator,
		cache:   p.Cache,
		keys:    p.Keys,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Coupon, error) {
	code := strings.TrimSpace(req.Code)
	name := strings.TrimSpace(req.Name)
	switch {
	case code == "" || name == "":
		return domain.Coupon{}, domain.ErrInvalidCode
	case !req.DiscountRate.IsPositive() || req.DiscountRate.GreaterThan(decimal.NewFromInt(1)):
		return domain.Coupon{}, domain.ErrInvalidDiscount
	case req.MaxIssuance <= 0:
		return domain.Coupon{}, domain.ErrInvalidMaxIssuance
	case !req.EndDate.After(req.StartDate):
		return domain.Coupon{}, domain.ErrInvalidPeriod
	}

	now := s.clock.Now().UTC()
	coupon := domain.Coupon{
		ID:           s.genID.Generate(),
		Code:         code,
		Name:         name,
		DiscountRate: req.DiscountRate,
		MaxIssuance:  req.MaxIssuance,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
		Status:       domain.CouponInactive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	coupon.Status = coupon.CalculateStatus(now)

	return orchestrator.Run(ctx, s.orch, orchestrator.Plan{Name: "coupon.create"},
		func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Coupon], error) {
			if err := s.repo.InsertCoupon(ctx, tx, &coupon); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return orchestrator.Rejected[domain.Coupon](domain.ErrDuplicateCode), nil
				}
				return orchestrator.Outcome[domain.Coupon]{}, err
			}
			return orchestrator.Ok(coupon).AfterCommit(func(ctx context.Context) error {
				return s.counter.Seed(ctx, s.keys.CouponIssuedCount(int64(coupon.ID)), 0)
			}), nil
		})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Coupon, error) {
	if id <= 0 {
		return domain.Coupon{}, domain.ErrInvalidCouponID
	}
	return cache.Load(ctx, s.cache, s.keys.CouponInfo(int64(id)), cache.TTLCouponInfo, func(ctx context.Context) (domain.Coupon, error) {
		coupon, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.Coupon{}, err
		}
		if coupon == nil {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return *coupon, nil
	})
}

// Issue admits the caller through the counter before taking the coupon lock,
// so losers of a flash sale never queue on it.
func (s *Service) Issue(ctx context.Context, userID, couponID snowflake.ID) (domain.CouponHistory, error) {
	if userID <= 0 {
		return domain.CouponHistory{}, userdomain.ErrInvalidUserID
	}
	if couponID <= 0 {
		return domain.CouponHistory{}, domain.ErrInvalidCouponID
	}
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return domain.CouponHistory{}, err
	}

	coupon, err := s.repo.FindByID(ctx, s.db, couponID)
	if err != nil {
		return domain.CouponHistory{}, err
	}
	if coupon == nil {
		return domain.CouponHistory{}, domain.ErrCouponNotFound
	}
	// A holder asking again is a duplicate whatever the coupon status, so the
	// history check comes before the status and the counter.
	existing, err := s.repo.FindHistory(ctx, s.db, userID, couponID)
	if err != nil {
		return domain.CouponHistory{}, err
	}
	if existing != nil {
		return domain.CouponHistory{}, domain.ErrAlreadyIssued
	}
	coupon.Refresh(s.clock.Now().UTC())
	if err := coupon.IssueError(); err != nil {
		return domain.CouponHistory{}, err
	}
	if err := s.admit(ctx, coupon, userID); err != nil {
		return domain.CouponHistory{}, err
	}

	plan := orchestrator.Plan{
		Name:  "coupon.issue",
		Locks: []string{s.keys.CouponLock(int64(couponID))},
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.CouponHistory], error) {
		now := s.clock.Now().UTC()
		coupon, err := s.repo.FindByID(ctx, tx, couponID)
		if err != nil {
			return orchestrator.Outcome[domain.CouponHistory]{}, err
		}
		if coupon == nil {
			return orchestrator.Rejected[domain.CouponHistory](domain.ErrCouponNotFound), nil
		}

		existing, err := s.repo.FindHistory(ctx, tx, userID, couponID)
		if err != nil {
			return orchestrator.Outcome[domain.CouponHistory]{}, err
		}
		if existing != nil {
			return orchestrator.Rejected[domain.CouponHistory](domain.ErrAlreadyIssued), nil
		}

		if err := coupon.Issue(now); err != nil {
			return orchestrator.Rejected[domain.CouponHistory](err), nil
		}
		coupon.UpdatedAt = now
		if err := s.repo.UpdateCoupon(ctx, tx, coupon); err != nil {
			return orchestrator.Fail[domain.CouponHistory](err)
		}

		history := domain.CouponHistory{
			ID:        s.genID.Generate(),
			UserID:    userID,
			CouponID:  couponID,
			Status:    domain.HistoryIssued,
			IssuedAt:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertHistory(ctx, tx, &history); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return orchestrator.Rejected[domain.CouponHistory](domain.ErrAlreadyIssued), nil
			}
			return orchestrator.Outcome[domain.CouponHistory]{}, err
		}

		s.log.Info("coupon issued",
			zap.String("coupon_id", couponID.String()),
			zap.String("user_id", userID.String()),
			zap.Int("issued_count", coupon.IssuedCount),
		)

		evts := []events.Event{events.CouponIssued{
			CouponID:   int64(couponID),
			UserID:     int64(userID),
			Kind:       events.CouponEventIssued,
			OccurredAt: now,
		}}
		if coupon.Status == domain.CouponSoldOut {
			evts = append(evts, events.CouponIssued{
				CouponID:   int64(couponID),
				UserID:     int64(userID),
				Kind:       events.CouponEventStockUpdated,
				OccurredAt: now,
			})
		}
		return orchestrator.Ok(history).
			Invalidate(invalidation.CouponIssued{CouponID: int64(couponID), UserID: int64(userID)}).
			Emit(evts...), nil
	})
}

// admit runs the fast-path counter. Counter faults are logged and the request
// proceeds to the lock, where the store decides.
func (s *Service) admit(ctx context.Context, coupon *domain.Coupon, userID snowflake.ID) error {
	countKey := s.keys.CouponIssuedCount(int64(coupon.ID))
	usersKey := s.keys.CouponIssuedUsers(int64(coupon.ID))

	if err := s.counter.Seed(ctx, countKey, int64(coupon.IssuedCount)); err != nil {
		s.log.Warn("counter seed failed", zap.String("coupon_id", coupon.ID.String()), zap.Error(err))
		return nil
	}
	adm, err := s.counter.IssueAtomically(ctx, countKey, usersKey, s.keys.UserMember(int64(userID)), int64(coupon.MaxIssuance))
	if err != nil {
		s.log.Warn("counter admission failed", zap.String("coupon_id", coupon.ID.String()), zap.Error(err))
		return nil
	}
	s.metrics.IncAdmission(adm.Status.String())

	switch adm.Status {
	case counter.StatusAlreadyIssued:
		return domain.ErrAlreadyIssued
	case counter.StatusOutOfStock:
		return domain.ErrCouponSoldOut
	default:
		return nil
	}
}

func (s *Service) ListForUser(ctx context.Context, userID snowflake.ID, page pagination.Page) (domain.ListResponse, error) {
	if userID <= 0 {
		return domain.ListResponse{}, userdomain.ErrInvalidUserID
	}
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return domain.ListResponse{}, err
	}

	page = page.Normalize()
	key := s.keys.CouponList(int64(userID), page.Limit, page.Offset)
	return cache.Load(ctx, s.cache, key, cache.TTLUserCouponList, func(ctx context.Context) (domain.ListResponse, error) {
		items, err := s.repo.ListForUser(ctx, s.db, userID, page)
		if err != nil {
			return domain.ListResponse{}, err
		}
		items, info := pagination.Build(items, page)
		if items == nil {
			items = []domain.UserCoupon{}
		}
		return domain.ListResponse{PageInfo: info, Coupons: items}, nil
	})
}

// ExpireCoupons expires every coupon past its end date, one coupon lock at a
// time. A coupon that fails is counted and retried on the next sweep.
func (s *Service) ExpireCoupons(ctx context.Context) (domain.ExpireResult, error) {
	var result domain.ExpireResult
	ids, err := s.repo.ListExpirable(ctx, s.db, s.clock.Now().UTC())
	if err != nil {
		return result, err
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		expired, err := s.expire(ctx, id)
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			s.log.Warn("coupon expiry failed", zap.String("coupon_id", id.String()), zap.Error(err))
			continue
		}
		if expired >= 0 {
			result.Coupons++
			result.Histories += expired
		}
	}
	return result, errors.Join(errs...)
}

// expire returns the number of histories expired, or -1 when the coupon no
// longer needed expiring.
func (s *Service) expire(ctx context.Context, couponID snowflake.ID) (int, error) {
	plan := orchestrator.Plan{
		Name:  "coupon.expire",
		Locks: []string{s.keys.CouponLock(int64(couponID))},
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[int], error) {
		now := s.clock.Now().UTC()
		coupon, err := s.repo.FindByID(ctx, tx, couponID)
		if err != nil {
			return orchestrator.Outcome[int]{}, err
		}
		if coupon == nil || !coupon.Refresh(now) || coupon.Status != domain.CouponExpired {
			return orchestrator.Ok(-1), nil
		}

		coupon.UpdatedAt = now
		if err := s.repo.UpdateCoupon(ctx, tx, coupon); err != nil {
			return orchestrator.Fail[int](err)
		}
		users, err := s.repo.ExpireHistories(ctx, tx, couponID, now)
		if err != nil {
			return orchestrator.Outcome[int]{}, err
		}

		evts := make([]events.Event, 0, len(users))
		for _, u := range users {
			evts = append(evts, events.CouponIssued{
				CouponID:   int64(couponID),
				UserID:     int64(u),
				Kind:       events.CouponEventExpired,
				OccurredAt: now,
			})
		}
		s.log.Info("coupon expired",
			zap.String("coupon_id", couponID.String()),
			zap.Int("histories", len(users)),
		)
		return orchestrator.Ok(len(users)).
			Invalidate(invalidation.CouponsExpired{CouponIDs: []int64{int64(couponID)}}).
			Emit(evts...), nil
	})
}

func (s *Service) ReconcileCounters(ctx context.Context, limit int) (int, error) {
	coupons, err := s.repo.ListIssuable(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	seeded := 0
	for _, c := range coupons {
		key := s.keys.CouponIssuedCount(int64(c.ID))
		if err := s.counter.Seed(ctx, key, int64(c.IssuedCount)); err != nil {
			errs = append(errs, err)
			continue
		}
		seeded++
		current, err := s.counter.Current(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// Granted admissions are never refunded, so the counter may run ahead
		// of the store but never behind it.
		if current < int64(c.IssuedCount) {
			s.log.Warn("admission counter behind store",
				zap.String("coupon_id", c.ID.String()),
				zap.Int64("counter", current),
				zap.Int("issued_count", c.IssuedCount),
			)
		}
	}
	return seeded, errors.Join(errs...)
}

func (s *Service) UseTx(ctx context.Context, tx *gorm.DB, userID, couponID snowflake.ID) (domain.Coupon, domain.CouponHistory, error) {
	history, err := s.repo.FindHistory(ctx, tx, userID, couponID)
	if err != nil {
		return domain.Coupon{}, domain.CouponHistory{}, err
	}
	if history == nil {
		return domain.Coupon{}, domain.CouponHistory{}, domain.ErrCouponNotFound
	}
	coupon, err := s.repo.FindByID(ctx, tx, couponID)
	if err != nil {
		return domain.Coupon{}, domain.CouponHistory{}, err
	}
	if coupon == nil {
		return domain.Coupon{}, domain.CouponHistory{}, domain.ErrCouponNotFound
	}

	now := s.clock.Now().UTC()
	if coupon.Status == domain.CouponDisabled {
		return domain.Coupon{}, domain.CouponHistory{}, domain.ErrCouponNotIssuable
	}
	if coupon.CalculateStatus(now) == domain.CouponExpired {
		return domain.Coupon{}, domain.CouponHistory{}, domain.ErrCouponExpired
	}
	if err := history.Use(now); err != nil {
		return domain.Coupon{}, domain.CouponHistory{}, err
	}
	if err := s.repo.UpdateHistory(ctx, tx, history); err != nil {
		return domain.Coupon{}, domain.CouponHistory{}, err
	}
	return *coupon, *history, nil
}
