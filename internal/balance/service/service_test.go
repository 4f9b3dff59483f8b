package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/balance/domain"
	"github.com/smallbiznis/checkout/internal/balance/repository"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/testkit"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	userrepo "github.com/smallbiznis/checkout/internal/user/repository"
	usersvc "github.com/smallbiznis/checkout/internal/user/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kit  *testkit.Kit
	svc  domain.Service
	repo domain.Repository
	user userdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kit := testkit.New(t, &userdomain.User{}, &domain.Balance{})
	users := usersvc.New(usersvc.Params{
		DB: kit.DB, Log: kit.Log, GenID: kit.Node, Clock: kit.Clock, Repo: userrepo.Provide(),
	})
	user, err := users.Create(context.Background(), userdomain.CreateUserRequest{Name: "buyer"})
	require.NoError(t, err)

	repo := repository.Provide()
	return &fixture{
		kit:  kit,
		repo: repo,
		user: user,
		svc: New(Params{
			DB:           kit.DB,
			Log:          kit.Log,
			GenID:        kit.Node,
			Clock:        kit.Clock,
			Repo:         repo,
			Users:        users,
			Orchestrator: kit.Orchestrator,
			Cache:        kit.Reader,
			Keys:         kit.Keys,
		}),
	}
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCharge_CreatesBalanceLazily(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Charge(context.Background(), domain.ChargeRequest{UserID: f.user.ID, Amount: amount(5_000)})

	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amount(5_000)))
	assert.Equal(t, int64(1), f.kit.OutboxCount(t, string(events.TypeBalanceUpdated)))
}

func TestCharge_RejectsOutOfRangeAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []int64{0, 999, 1_000_001} {
		_, err := f.svc.Charge(ctx, domain.ChargeRequest{UserID: f.user.ID, Amount: amount(v)})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "amount %d", v)
	}
	_, err := f.svc.Charge(ctx, domain.ChargeRequest{UserID: snowflake.ID(77), Amount: amount(5_000)})
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func TestCharge_ConcurrentChargesAreSerialised(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start, err := f.svc.Charge(ctx, domain.ChargeRequest{UserID: f.user.ID, Amount: amount(100_000)})
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Charge(ctx, domain.ChargeRequest{UserID: f.user.ID, Amount: amount(10_000)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := f.repo.FindByUserID(ctx, f.kit.DB, f.user.ID)
	require.NoError(t, err)
	assert.True(t, final.Amount.Equal(amount(200_000)), "got %s", final.Amount)
	assert.Equal(t, start.Version+workers, final.Version, "one version step per charge")
}

func TestDeduct_NeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Charge(ctx, domain.ChargeRequest{UserID: f.user.ID, Amount: amount(10_000)})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Deduct(ctx, domain.DeductRequest{UserID: f.user.ID, Amount: amount(3_000)})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, workers-3, insufficient)

	final, err := f.repo.FindByUserID(ctx, f.kit.DB, f.user.ID)
	require.NoError(t, err)
	assert.True(t, final.Amount.Equal(amount(1_000)))
}

func TestDeduct_WithoutBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Deduct(context.Background(), domain.DeductRequest{UserID: f.user.ID, Amount: amount(1)})

	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)
}

func TestGet_CachesUntilChargeInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, f.user.ID)
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)

	_, err = f.svc.Charge(ctx, domain.ChargeRequest{UserID: f.user.ID, Amount: amount(2_000)})
	require.NoError(t, err)

	first, err := f.svc.Get(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, first.Amount.Equal(amount(2_000)))

	var cached domain.Balance
	hit, err := f.kit.Cache.Get(ctx, f.kit.Keys.BalanceInfo(int64(f.user.ID)), &cached)
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = f.svc.Charge(ctx, domain.ChargeRequest{UserID: f.user.ID, Amount: amount(3_000)})
	require.NoError(t, err)

	second, err := f.svc.Get(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, second.Amount.Equal(amount(5_000)), "charge evicts the cached balance")
}

func TestBalance_DomainRules(t *testing.T) {
	b := domain.Balance{Amount: amount(1_500), UpdatedAt: time.Now()}

	assert.ErrorIs(t, b.Deduct(amount(0)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, b.Deduct(amount(2_000)), domain.ErrInsufficientBalance)
	require.NoError(t, b.Deduct(amount(1_500)))
	assert.True(t, b.Amount.IsZero())
	assert.ErrorIs(t, b.Charge(amount(500)), domain.ErrInvalidAmount)
	require.NoError(t, b.Charge(amount(1_000_000)))
}
