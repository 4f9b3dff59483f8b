package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/checkout/internal/clock"
	coupondomain "github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	obsmetrics "github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/testkit"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockCoupons struct {
	mock.Mock
}

func (m *mockCoupons) Create(context.Context, coupondomain.CreateRequest) (coupondomain.Coupon, error) {
	panic("unused")
}

func (m *mockCoupons) Get(context.Context, snowflake.ID) (coupondomain.Coupon, error) {
	panic("unused")
}

func (m *mockCoupons) Issue(context.Context, snowflake.ID, snowflake.ID) (coupondomain.CouponHistory, error) {
	panic("unused")
}

func (m *mockCoupons) ListForUser(context.Context, snowflake.ID, pagination.Page) (coupondomain.ListResponse, error) {
	panic("unused")
}

func (m *mockCoupons) UseTx(context.Context, *gorm.DB, snowflake.ID, snowflake.ID) (coupondomain.Coupon, coupondomain.CouponHistory, error) {
	panic("unused")
}

func (m *mockCoupons) ExpireCoupons(ctx context.Context) (coupondomain.ExpireResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(coupondomain.ExpireResult), args.Error(1)
}

func (m *mockCoupons) ReconcileCounters(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type mockOutbox struct {
	mock.Mock
}

func (m *mockOutbox) ProcessPending(ctx context.Context) (outbox.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(outbox.Result), args.Error(1)
}

func (m *mockOutbox) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func newScheduler(t *testing.T, cfg Config, registry *prometheus.Registry) (*Scheduler, *mockCoupons, *mockOutbox, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	var m *obsmetrics.SchedulerMetrics
	if registry != nil {
		m = obsmetrics.NewScheduler(registry, obsmetrics.Config{ServiceName: "checkout", Environment: "test"})
	}
	coupons := &mockCoupons{}
	ob := &mockOutbox{}
	clk := clock.NewFakeClock(testkit.Now)
	s, err := New(Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Coupons: coupons,
		Outbox:  ob,
		Metrics: m,
		Config:  cfg,
	})
	require.NoError(t, err)
	return s, coupons, ob, clk
}

func TestRunOnce_RespectsJobIntervals(t *testing.T) {
	s, coupons, ob, clk := newScheduler(t, Config{}, nil)

	ob.On("ProcessPending", mock.Anything).Return(outbox.Result{Published: 3}, nil)
	ob.On("Purge", mock.Anything, testkit.Now.Add(-7*24*time.Hour)).Return(int64(0), nil).Once()
	coupons.On("ExpireCoupons", mock.Anything).Return(coupondomain.ExpireResult{Coupons: 1}, nil).Once()
	coupons.On("ReconcileCounters", mock.Anything, 500).Return(2, nil).Once()

	require.NoError(t, s.RunOnce(context.Background()))
	clk.Advance(time.Minute)
	require.NoError(t, s.RunOnce(context.Background()))

	ob.AssertNumberOfCalls(t, "ProcessPending", 2)
	coupons.AssertNumberOfCalls(t, "ExpireCoupons", 1)
	coupons.AssertNumberOfCalls(t, "ReconcileCounters", 1)
	ob.AssertNumberOfCalls(t, "Purge", 1)
}

func TestRunOnce_JoinsJobErrors(t *testing.T) {
	s, coupons, ob, _ := newScheduler(t, Config{EnabledJobs: []string{JobOutboxRelay, JobExpireCoupons}}, nil)
	relayErr := errors.New("relay down")
	expireErr := errors.New("expiry failed")

	ob.On("ProcessPending", mock.Anything).Return(outbox.Result{}, relayErr)
	coupons.On("ExpireCoupons", mock.Anything).Return(coupondomain.ExpireResult{}, expireErr)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, relayErr)
	assert.ErrorIs(t, err, expireErr)
	coupons.AssertNotCalled(t, "ReconcileCounters", mock.Anything, mock.Anything)
	ob.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything)
}

func TestRunJob_TimeoutIsSoft(t *testing.T) {
	registry := prometheus.NewRegistry()
	s, _, _, _ := newScheduler(t, Config{}, registry)

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "checkout", "env": "test", "job": "timeout_job"}
	assert.Equal(t, 1.0, counterValue(t, registry, "checkout_scheduler_job_timeouts_total", labels))

	labels["reason"] = obsmetrics.SchedulerJobReasonDeadlineExceeded
	assert.Equal(t, 1.0, counterValue(t, registry, "checkout_scheduler_job_errors_total", labels))
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	s, coupons, ob, _ := newScheduler(t, Config{RunInterval: time.Millisecond, EnabledJobs: []string{JobOutboxRelay}}, nil)
	ticked := make(chan struct{}, 1)
	ob.On("ProcessPending", mock.Anything).Return(outbox.Result{}, nil).Run(func(mock.Arguments) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunForever(ctx)
	}()

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
	coupons.AssertNotCalled(t, "ExpireCoupons", mock.Anything)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
