package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	"github.com/smallbiznis/checkout/internal/product/domain"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// MaxPopularDays is bounded by how long daily rankings are retained.
	MaxPopularDays      = 7
	defaultPopularLimit = 5
	maxPopularLimit     = 50
	rankingScanDepth    = 200
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
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
	orch  *orchestrator.Orchestrator
	cache *cache.Reader
	keys  keys.Generator
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("product.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		orch:  p.Orchestrator,
		cache: p.Cache,
		keys:  p.Keys,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, domain.ErrInvalidName
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, domain.ErrInvalidPrice
	}
	if req.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}

	now := s.clock.Now().UTC()
	product := domain.Product{
		ID:          s.genID.Generate(),
		Name:        name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return orchestrator.Run(ctx, s.orch, orchestrator.Plan{Name: "product.create"},
		func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Product], error) {
			if err := s.repo.Insert(ctx, tx, &product); err != nil {
				return orchestrator.Outcome[domain.Product]{}, err
			}
			return orchestrator.Ok(product).
				Invalidate(invalidation.ProductCreated{ProductID: int64(product.ID)}).
				Emit(events.ProductUpdated{
					ProductID:  int64(product.ID),
					Kind:       events.ProductCreated,
					Price:      product.Price,
					Stock:      product.Stock,
					OccurredAt: now,
				}), nil
		})
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (domain.Product, error) {
	if req.ID <= 0 {
		return domain.Product{}, domain.ErrInvalidProductID
	}

	plan := orchestrator.Plan{
		Name:  "product.update",
		Locks: []string{s.keys.ProductLock(int64(req.ID))},
	}
	return orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[domain.Product], error) {
		product, err := s.repo.FindByID(ctx, tx, req.ID)
		if err != nil {
			return orchestrator.Outcome[domain.Product]{}, err
		}
		if product == nil {
			return orchestrator.Rejected[domain.Product](domain.ErrProductNotFound), nil
		}
		prev := *product

		if err := applyUpdate(product, req); err != nil {
			return orchestrator.Rejected[domain.Product](err), nil
		}
		now := s.clock.Now().UTC()
		product.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, product); err != nil {
			return orchestrator.Fail[domain.Product](err)
		}

		priceChanged := !prev.Price.Equal(product.Price)
		stockChanged := prev.Stock != product.Stock
		kind := events.ProductChanged
		if stockChanged && !priceChanged && prev.Name == product.Name {
			kind = events.ProductStockUpdated
		}

		out := orchestrator.Ok(*product).
			Invalidate(invalidation.ProductUpdated{ProductID: int64(product.ID), PriceChanged: priceChanged}).
			Emit(events.ProductUpdated{
				ProductID:     int64(product.ID),
				Kind:          kind,
				Price:         product.Price,
				Stock:         product.Stock,
				PreviousPrice: &prev.Price,
				PreviousStock: &prev.Stock,
				PreviousName:  &prev.Name,
				OccurredAt:    now,
			})
		if stockChanged {
			out = out.Invalidate(invalidation.ProductStockChanged{ProductID: int64(product.ID)})
		}
		return out, nil
	})
}

func applyUpdate(p *domain.Product, req domain.UpdateRequest) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.ErrInvalidName
		}
		p.Name = name
	}
	if req.Description != nil {
		p.Description = req.Description
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.ErrInvalidPrice
		}
		p.Price = *req.Price
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.ErrInvalidQuantity
		}
		if *req.Stock < p.ReservedStock {
			return domain.ErrInvalidReservation
		}
		p.Stock = *req.Stock
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if id <= 0 {
		return domain.ErrInvalidProductID
	}

	plan := orchestrator.Plan{
		Name:  "product.delete",
		Locks: []string{s.keys.ProductLock(int64(id))},
	}
	_, err := orchestrator.Run(ctx, s.orch, plan, func(ctx context.Context, tx *gorm.DB) (orchestrator.Outcome[struct{}], error) {
		product, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return orchestrator.Outcome[struct{}]{}, err
		}
		if product == nil {
			return orchestrator.Rejected[struct{}](domain.ErrProductNotFound), nil
		}
		if product.ReservedStock > 0 {
			return orchestrator.Rejected[struct{}](domain.ErrInvalidReservation), nil
		}
		if err := s.repo.Delete(ctx, tx, product); err != nil {
			return orchestrator.Fail[struct{}](err)
		}

		prevName := product.Name
		return orchestrator.Ok(struct{}{}).
			Invalidate(invalidation.ProductDeleted{ProductID: int64(id)}).
			Emit(events.ProductUpdated{
				ProductID:     int64(id),
				Kind:          events.ProductDeleted,
				Price:         product.Price,
				Stock:         product.Stock,
				PreviousName:  &prevName,
				PreviousStock: &product.Stock,
				OccurredAt:    s.clock.Now().UTC(),
			}), nil
	})
	return err
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.ErrInvalidProductID
	}
	return cache.Load(ctx, s.cache, s.keys.ProductInfo(int64(id)), cache.TTLProductDetail, func(ctx context.Context) (domain.Product, error) {
		product, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.Product{}, err
		}
		if product == nil {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return *product, nil
	})
}

func (s *Service) Warmup(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	c := s.cache.Cache()
	page := pagination.Page{Limit: pagination.MaxLimit}
	warmed := 0
	for warmed < limit {
		items, err := s.repo.List(ctx, s.db, page)
		if err != nil {
			return warmed, err
		}
		batch := items
		if len(batch) > page.Limit {
			batch = batch[:page.Limit]
		}
		for _, p := range batch {
			if warmed == limit {
				break
			}
			if err := c.Put(ctx, s.keys.ProductInfo(int64(p.ID)), *p, cache.TTLProductDetail); err != nil {
				s.log.Warn("warmup put failed", zap.String("product_id", p.ID.String()), zap.Error(err))
				continue
			}
			warmed++
		}
		if len(items) <= page.Limit {
			break
		}
		page.Offset += page.Limit
	}
	return warmed, nil
}

func (s *Service) List(ctx context.Context, page pagination.Page) (domain.ListResponse, error) {
	page = page.Normalize()
	key := s.keys.ProductList(page.Limit, page.Offset)
	return cache.Load(ctx, s.cache, key, cache.TTLProductList, func(ctx context.Context) (domain.ListResponse, error) {
		items, err := s.repo.List(ctx, s.db, page)
		if err != nil {
			return domain.ListResponse{}, err
		}
		items, info := pagination.Build(items, page)
		resp := domain.ListResponse{PageInfo: info, Products: make([]domain.Product, 0, len(items))}
		for _, item := range items {
			resp.Products = append(resp.Products, *item)
		}
		return resp, nil
	})
}

func (s *Service) Stock(ctx context.Context, id snowflake.ID) (domain.StockStatus, error) {
	if id <= 0 {
		return domain.StockStatus{}, domain.ErrInvalidProductID
	}
	return cache.Load(ctx, s.cache, s.keys.ProductStats(int64(id)), cache.TTLProductDetail, func(ctx context.Context) (domain.StockStatus, error) {
		product, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.StockStatus{}, err
		}
		if product == nil {
			return domain.StockStatus{}, domain.ErrProductNotFound
		}
		return domain.StockStatus{
			ProductID: product.ID,
			Stock:     product.Stock,
			Reserved:  product.ReservedStock,
			Available: product.Available(),
		}, nil
	})
}

func (s *Service) Popular(ctx context.Context, days, limit int) ([]domain.PopularProduct, error) {
	if days <= 0 || days > MaxPopularDays {
		return nil, domain.ErrInvalidPeriod
	}
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	if limit > maxPopularLimit {
		limit = maxPopularLimit
	}

	key := s.keys.ProductPopular(days, limit)
	return cache.Load(ctx, s.cache, key, cache.PopularTTL(days), func(ctx context.Context) ([]domain.PopularProduct, error) {
		return s.rank(ctx, days, limit)
	})
}

type rankedID struct {
	id   snowflake.ID
	sold float64
}

func (s *Service) rank(ctx context.Context, days, limit int) ([]domain.PopularProduct, error) {
	now := s.clock.Now().UTC()
	totals := make(map[snowflake.ID]float64)
	for d := 0; d < days; d++ {
		scores, err := s.cache.Cache().TopScores(ctx, s.keys.DailyRanking(now.AddDate(0, 0, -d)), rankingScanDepth)
		if err != nil {
			return nil, err
		}
		for _, sc := range scores {
			id, ok := s.keys.ProductFromRankingMember(sc.Member)
			if !ok {
				continue
			}
			totals[snowflake.ID(id)] += sc.Score
		}
	}

	ranked := make([]rankedID, 0, len(totals))
	for id, sold := range totals {
		ranked = append(ranked, rankedID{id: id, sold: sold})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].sold != ranked[j].sold {
			return ranked[i].sold > ranked[j].sold
		}
		return ranked[i].id < ranked[j].id
	})

	ids := make([]snowflake.ID, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.id)
	}
	products, err := s.repo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]domain.PopularProduct, 0, limit)
	for _, r := range ranked {
		p, ok := byID[r.id]
		if !ok {
			continue
		}
		out = append(out, domain.PopularProduct{Product: *p, SoldQuantity: int64(r.sold)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
