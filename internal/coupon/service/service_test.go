package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/internal/coupon/repository"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/testkit"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	userrepo "github.com/smallbiznis/checkout/internal/user/repository"
	usersvc "github.com/smallbiznis/checkout/internal/user/service"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	kit   *testkit.Kit
	svc   domain.Service
	repo  domain.Repository
	users userdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kit := testkit.New(t, &userdomain.User{}, &domain.Coupon{}, &domain.CouponHistory{})
	users := usersvc.New(usersvc.Params{
		DB: kit.DB, Log: kit.Log, GenID: kit.Node, Clock: kit.Clock, Repo: userrepo.Provide(),
	})
	repo := repository.Provide()
	return &fixture{
		kit:   kit,
		repo:  repo,
		users: users,
		svc: New(Params{
			DB:           kit.DB,
			Log:          kit.Log,
			GenID:        kit.Node,
			Clock:        kit.Clock,
			Repo:         repo,
			Users:        users,
			Counter:      kit.Counter,
			Orchestrator: kit.Orchestrator,
			Cache:        kit.Reader,
			Keys:         kit.Keys,
		}),
	}
}

func (f *fixture) user(t *testing.T, name string) userdomain.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), userdomain.CreateUserRequest{Name: name})
	require.NoError(t, err)
	return u
}

func (f *fixture) coupon(t *testing.T, code string, max int) domain.Coupon {
	t.Helper()
	c, err := f.svc.Create(context.Background(), domain.CreateRequest{
		Code:         code,
		Name:         "flash " + code,
		DiscountRate: decimal.RequireFromString("0.10"),
		MaxIssuance:  max,
		StartDate:    testkit.Now.Add(-time.Hour),
		EndDate:      testkit.Now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return c
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := domain.CreateRequest{
		Code:         "WELCOME",
		Name:         "welcome",
		DiscountRate: decimal.RequireFromString("0.2"),
		MaxIssuance:  10,
		StartDate:    testkit.Now,
		EndDate:      testkit.Now.Add(time.Hour),
	}

	c, err := f.svc.Create(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, domain.CouponActive, c.Status)

	_, err = f.svc.Create(ctx, base)
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	bad := base
	bad.Code = "X"
	bad.DiscountRate = decimal.RequireFromString("1.5")
	_, err = f.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)

	bad = base
	bad.Code = "Y"
	bad.EndDate = bad.StartDate
	_, err = f.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	future := base
	future.Code = "LATER"
	future.StartDate = testkit.Now.Add(time.Hour)
	future.EndDate = testkit.Now.Add(2 * time.Hour)
	c, err = f.svc.Create(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, domain.CouponInactive, c.Status)
}

func TestIssue_QuotaUnderContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.coupon(t, "FLASH5", 5)

	const contenders = 20
	users := make([]userdomain.User, contenders)
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("buyer-%d", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for _, u := range users {
		wg.Add(1)
		go func(id snowflake.ID) {
			defer wg.Done()
			_, err := f.svc.Issue(ctx, id, c.ID)
			results <- err
		}(u.ID)
	}
	wg.Wait()
	close(results)

	var ok, soldOut int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrCouponSoldOut):
			soldOut++
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, soldOut)

	n, err := f.repo.CountHistories(ctx, f.kit.DB, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	stored, err := f.repo.FindByID(ctx, f.kit.DB, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.IssuedCount)
	assert.Equal(t, domain.CouponSoldOut, stored.Status)
}

func TestIssue_SameUserOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.coupon(t, "ONCE", 100)
	u := f.user(t, "eager")

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Issue(ctx, u.ID, c.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrAlreadyIssued):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dup)

	n, err := f.repo.CountHistories(ctx, f.kit.DB, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), f.kit.OutboxCount(t, string(events.TypeCouponIssued)))
}

func TestIssue_HolderOfSoldOutCouponGetsAlreadyIssued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.coupon(t, "LASTONE", 1)
	holder := f.user(t, "holder")
	late := f.user(t, "late")

	_, err := f.svc.Issue(ctx, holder.ID, c.ID)
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, holder.ID, c.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyIssued)
	assert.NotErrorIs(t, err, domain.ErrCouponSoldOut)

	_, err = f.svc.Issue(ctx, late.ID, c.ID)
	assert.ErrorIs(t, err, domain.ErrCouponSoldOut)

	n, err := f.repo.CountHistories(ctx, f.kit.DB, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIssue_StatusChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "early")

	later, err := f.svc.Create(ctx, domain.CreateRequest{
		Code:         "LATER",
		Name:         "later",
		DiscountRate: decimal.RequireFromString("0.1"),
		MaxIssuance:  1,
		StartDate:    testkit.Now.Add(time.Hour),
		EndDate:      testkit.Now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, u.ID, later.ID)
	assert.ErrorIs(t, err, domain.ErrCouponNotStarted)

	_, err = f.svc.Issue(ctx, u.ID, snowflake.ID(42))
	assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	_, err = f.svc.Issue(ctx, snowflake.ID(42), later.ID)
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)

	f.kit.Clock.Advance(3 * time.Hour)
	_, err = f.svc.Issue(ctx, u.ID, later.ID)
	assert.ErrorIs(t, err, domain.ErrCouponExpired)
}

func TestListForUser_EvictedOnIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "collector")
	a := f.coupon(t, "A", 10)
	b := f.coupon(t, "B", 10)

	_, err := f.svc.Issue(ctx, u.ID, a.ID)
	require.NoError(t, err)

	first, err := f.svc.ListForUser(ctx, u.ID, pagination.Page{})
	require.NoError(t, err)
	require.Len(t, first.Coupons, 1)
	assert.Equal(t, "A", first.Coupons[0].Code)

	_, err = f.svc.Issue(ctx, u.ID, b.ID)
	require.NoError(t, err)

	second, err := f.svc.ListForUser(ctx, u.ID, pagination.Page{})
	require.NoError(t, err)
	assert.Len(t, second.Coupons, 2)
}

func TestExpireCoupons_ExpiresIssuedHistories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "holder")
	c := f.coupon(t, "SHORT", 10)
	other := f.coupon(t, "OTHER", 10)
	_, err := f.svc.Issue(ctx, u.ID, c.ID)
	require.NoError(t, err)

	res, err := f.svc.ExpireCoupons(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ExpireResult{}, res)

	f.kit.Clock.Advance(25 * time.Hour)
	res, err = f.svc.ExpireCoupons(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Coupons)
	assert.Equal(t, 1, res.Histories)

	h, err := f.repo.FindHistory(ctx, f.kit.DB, u.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryExpired, h.Status)

	stored, err := f.repo.FindByID(ctx, f.kit.DB, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CouponExpired, stored.Status)

	res, err = f.svc.ExpireCoupons(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Coupons, "second sweep finds nothing")
}

func TestUseTx_MarksUsedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "spender")
	c := f.coupon(t, "USE", 10)
	_, err := f.svc.Issue(ctx, u.ID, c.ID)
	require.NoError(t, err)

	err = f.kit.DB.Transaction(func(tx *gorm.DB) error {
		coupon, history, err := f.svc.UseTx(ctx, tx, u.ID, c.ID)
		if err != nil {
			return err
		}
		assert.True(t, coupon.DiscountRate.Equal(decimal.RequireFromString("0.1")))
		assert.Equal(t, domain.HistoryUsed, history.Status)
		return nil
	})
	require.NoError(t, err)

	err = f.kit.DB.Transaction(func(tx *gorm.DB) error {
		_, _, err := f.svc.UseTx(ctx, tx, u.ID, c.ID)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrCouponAlreadyUsed)
}

func TestReconcileCounters_SeedsFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.coupon(t, "SEED", 3)
	for i := 0; i < 2; i++ {
		_, err := f.svc.Issue(ctx, f.user(t, fmt.Sprintf("u%d", i)).ID, c.ID)
		require.NoError(t, err)
	}

	n, err := f.svc.ReconcileCounters(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	current, err := f.kit.Counter.Current(ctx, f.kit.Keys.CouponIssuedCount(int64(c.ID)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)
}

func TestCouponStatus_Transitions(t *testing.T) {
	assert.True(t, domain.CouponActive.CanTransitionTo(domain.CouponSoldOut))
	assert.True(t, domain.CouponDisabled.CanTransitionTo(domain.CouponActive))
	assert.False(t, domain.CouponExpired.CanTransitionTo(domain.CouponActive))
	assert.False(t, domain.CouponSoldOut.CanTransitionTo(domain.CouponActive))

	c := domain.Coupon{
		Status:      domain.CouponActive,
		MaxIssuance: 1,
		StartDate:   testkit.Now.Add(-time.Hour),
		EndDate:     testkit.Now.Add(time.Hour),
	}
	require.NoError(t, c.Issue(testkit.Now))
	assert.Equal(t, domain.CouponSoldOut, c.Status)
	assert.ErrorIs(t, c.Issue(testkit.Now), domain.ErrCouponSoldOut)
	assert.Equal(t, domain.CouponExpired, c.CalculateStatus(testkit.Now.Add(time.Hour)))
}
