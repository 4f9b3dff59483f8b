package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/product/domain"
	"github.com/smallbiznis/checkout/internal/product/repository"
	"github.com/smallbiznis/checkout/internal/testkit"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kit  *testkit.Kit
	svc  domain.Service
	repo domain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kit := testkit.New(t, &domain.Product{})
	repo := repository.Provide()
	return &fixture{
		kit:  kit,
		repo: repo,
		svc: New(Params{
			DB:           kit.DB,
			Log:          kit.Log,
			GenID:        kit.Node,
			Clock:        kit.Clock,
			Repo:         repo,
			Orchestrator: kit.Orchestrator,
			Cache:        kit.Reader,
			Keys:         kit.Keys,
		}),
	}
}

func (f *fixture) create(t *testing.T, name string, price int64, stock int) domain.Product {
	t.Helper()
	p, err := f.svc.Create(context.Background(), domain.CreateRequest{
		Name:  name,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func TestCreate_ValidatesAndEmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.create(t, "keyboard", 25_000, 10)
	assert.Equal(t, int64(0), p.Version)
	assert.Equal(t, int64(1), f.kit.OutboxCount(t, string(events.TypeProductUpdated)))

	_, err := f.svc.Create(ctx, domain.CreateRequest{Name: " ", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
	_, err = f.svc.Create(ctx, domain.CreateRequest{Name: "a", Price: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = f.svc.Create(ctx, domain.CreateRequest{Name: "a", Price: decimal.NewFromInt(1), Stock: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestUpdate_BumpsVersionAndEvictsDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "mouse", 10_000, 5)

	cached, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "mouse", cached.Name)

	price := decimal.NewFromInt(12_000)
	updated, err := f.svc.Update(ctx, domain.UpdateRequest{ID: p.ID, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(price))
}

func TestUpdate_StockBelowReservedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "cable", 1_000, 5)

	stored, err := f.repo.FindByID(ctx, f.kit.DB, p.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Reserve(3))
	require.NoError(t, f.repo.Update(ctx, f.kit.DB, stored))

	stock := 2
	_, err = f.svc.Update(ctx, domain.UpdateRequest{ID: p.ID, Stock: &stock})
	assert.ErrorIs(t, err, domain.ErrInvalidReservation)

	err = f.svc.Delete(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidReservation)
}

func TestDelete_RemovesProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "stand", 5_000, 1)

	require.NoError(t, f.svc.Delete(ctx, p.ID))

	_, err := f.svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, p.ID), domain.ErrProductNotFound)
}

func TestList_Paginates(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		f.create(t, name, 1_000, 1)
	}

	first, err := f.svc.List(context.Background(), pagination.Page{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, first.Products, 2)
	assert.True(t, first.HasMore)

	second, err := f.svc.List(context.Background(), pagination.Page{Limit: 2, Offset: first.NextOffset})
	require.NoError(t, err)
	assert.Len(t, second.Products, 1)
	assert.False(t, second.HasMore)
}

func TestStock_ReportsAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "lamp", 1_000, 4)

	stored, err := f.repo.FindByID(ctx, f.kit.DB, p.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Reserve(1))
	require.NoError(t, f.repo.Update(ctx, f.kit.DB, stored))

	st, err := f.svc.Stock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockStatus{ProductID: p.ID, Stock: 4, Reserved: 1, Available: 3}, st)
}

func TestPopular_SumsDailyRankings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a", 1_000, 10)
	b := f.create(t, "b", 1_000, 10)
	gone := f.create(t, "gone", 1_000, 10)

	today := f.kit.Keys.DailyRanking(testkit.Now)
	yesterday := f.kit.Keys.DailyRanking(testkit.Now.AddDate(0, 0, -1))
	require.NoError(t, f.kit.Cache.AddScore(ctx, today, f.kit.Keys.RankingMember(int64(a.ID)), 2))
	require.NoError(t, f.kit.Cache.AddScore(ctx, yesterday, f.kit.Keys.RankingMember(int64(a.ID)), 2))
	require.NoError(t, f.kit.Cache.AddScore(ctx, today, f.kit.Keys.RankingMember(int64(b.ID)), 3))
	require.NoError(t, f.kit.Cache.AddScore(ctx, today, f.kit.Keys.RankingMember(int64(gone.ID)), 9))
	require.NoError(t, f.svc.Delete(ctx, gone.ID))

	oneDay, err := f.svc.Popular(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, oneDay, 2)
	assert.Equal(t, b.ID, oneDay[0].ID)
	assert.Equal(t, int64(3), oneDay[0].SoldQuantity)

	twoDays, err := f.svc.Popular(ctx, 2, 5)
	require.NoError(t, err)
	require.Len(t, twoDays, 2)
	assert.Equal(t, a.ID, twoDays[0].ID)
	assert.Equal(t, int64(4), twoDays[0].SoldQuantity)

	_, err = f.svc.Popular(ctx, 0, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
	_, err = f.svc.Popular(ctx, MaxPopularDays+1, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestWarmup_CachesProductDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "monitor", 300_000, 2)
	second := f.create(t, "stand", 40_000, 7)
	third := f.create(t, "cable", 5_000, 50)

	n, err := f.svc.Warmup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var cached domain.Product
	found, err := f.kit.Cache.Get(ctx, f.kit.Keys.ProductInfo(int64(first.ID)), &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "monitor", cached.Name)
	found, err = f.kit.Cache.Get(ctx, f.kit.Keys.ProductInfo(int64(second.ID)), &cached)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = f.kit.Cache.Get(ctx, f.kit.Keys.ProductInfo(int64(third.ID)), &cached)
	require.NoError(t, err)
	assert.False(t, found)

	n, err = f.svc.Warmup(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.Warmup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
