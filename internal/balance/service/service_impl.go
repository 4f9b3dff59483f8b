package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/balance/domain"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	"github.com/smallbiznis/checkout/pkg/db"
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
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Reader
	Keys         keys.Generator
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	users userdomain.Service
	orch  *orchestrator.Orchestrator
	cache *cache.Reader
	keys  keys.Generator
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("balance.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		users: p.Users,
		orch:  p.Orchestrator,
		cache: p.Cache,
		keys:  p.Keys,
	}
}

func (s *Service) Charge(ctx context.Context, req domain.ChargeRequest) (domain.Balance, error) {
	if req.Amount.LessThan(domain.MinChargeAmount) || req.Amount.GreaterThan(domain.MaxChargeAmount) {
		return domain.Balance{}, domain.ErrInvalidAmount
	}
	if err := s.users.EnsureExists(ctx, req.UserID); err != nil {
		return domain.Balance{}, err
	}

	plan := orchestrator.Plan{
		Name:  "balance.charge",
		Locks: []string{s.keys.BalanceLock(int64(req.UserID))},
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Balance], error) {
		now := s.clock.Now().UTC()
		balance, err := s.repo.FindByUserID(ctx, tx, req.UserID)
		if err != nil {
			return orchestrator.Outcome[domain.Balance]{}, err
		}

		if balance == nil {
			balance = &domain.Balance{
				ID:        s.genID.Generate(),
				UserID:    req.UserID,
				Amount:    decimal.Zero,
				CreatedAt: now,
			}
			if err := balance.Charge(req.Amount); err != nil {
				return orchestrator.Rejected[domain.Balance](err), nil
			}
			balance.UpdatedAt = now
			if err := s.repo.Insert(ctx, tx, balance); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return orchestrator.Conflict[domain.Balance](err), nil
				}
				return orchestrator.Outcome[domain.Balance]{}, err
			}
		} else {
			if err := balance.Charge(req.Amount); err != nil {
				return orchestrator.Rejected[domain.Balance](err), nil
			}
			balance.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, balance); err != nil {
				return orchestrator.Fail[domain.Balance](err)
			}
		}

		s.log.Info("balance charged",
			zap.String("user_id", req.UserID.String()),
			zap.String("amount", req.Amount.String()),
			zap.String("balance", balance.Amount.String()),
		)
		return orchestrator.Ok(*balance).
			Invalidate(invalidation.BalanceChanged{UserID: int64(req.UserID)}).
			Emit(events.BalanceUpdated{
				UserID:         int64(req.UserID),
				Amount:         req.Amount,
				CurrentBalance: balance.Amount,
				Kind:           events.BalanceCharged,
				OccurredAt:     now,
			}), nil
	})
}

func (s *Service) Deduct(ctx context.Context, req domain.DeductRequest) (domain.Balance, error) {
	if !req.Amount.IsPositive() {
		return domain.Balance{}, domain.ErrInvalidAmount
	}
	if err := s.users.EnsureExists(ctx, req.UserID); err != nil {
		return domain.Balance{}, err
	}

	plan := orchestrator.Plan{
		Name:  "balance.deduct",
		Locks: []string{s.keys.BalanceLock(int64(req.UserID))},
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Balance], error) {
		balance, err := s.DeductTx(ctx, tx, req)
		if err != nil {
			return orchestrator.Fail[domain.Balance](err)
		}

		var orderID *int64
		if req.OrderID != nil {
			id := int64(*req.OrderID)
			orderID = &id
		}
		return orchestrator.Ok(balance).
			Invalidate(invalidation.BalanceChanged{UserID: int64(req.UserID)}).
			Emit(events.BalanceUpdated{
				UserID:         int64(req.UserID),
				Amount:         req.Amount,
				CurrentBalance: balance.Amount,
				Kind:           events.BalanceDeducted,
				OrderID:        orderID,
				OccurredAt:     balance.UpdatedAt,
			}), nil
	})
}

func (s *Service) DeductTx(ctx context.Context, tx *gorm.DB, req domain.DeductRequest) (domain.Balance, error) {
	balance, err := s.repo.FindByUserID(ctx, tx, req.UserID)
	if err != nil {
		return domain.Balance{}, err
	}
	if balance == nil {
		return domain.Balance{}, domain.ErrBalanceNotFound
	}
	if err := balance.Deduct(req.Amount); err != nil {
		return domain.Balance{}, err
	}
	balance.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, tx, balance); err != nil {
		return domain.Balance{}, err
	}
	return *balance, nil
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID) (domain.Balance, error) {
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return domain.Balance{}, err
	}
	return cache.Load(ctx, s.cache, s.keys.BalanceInfo(int64(userID)), cache.TTLUserBalance, func(ctx context.Context) (domain.Balance, error) {
		balance, err := s.repo.FindByUserID(ctx, s.db, userID)
		if err != nil {
			return domain.Balance{}, err
		}
		if balance == nil {
			return domain.Balance{}, domain.ErrBalanceNotFound
		}
		return *balance, nil
	})
}
