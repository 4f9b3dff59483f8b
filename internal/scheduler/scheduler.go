package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/clock"
	coupondomain "github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	obsmetrics "github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobOutboxRelay      = "outbox_relay"
	JobExpireCoupons    = "expire_coupons"
	JobCounterReconcile = "counter_reconcile"
	JobOutboxPurge      = "outbox_purge"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

// Outbox is the part of the outbox relay the scheduler drives.
type Outbox interface {
	ProcessPending(ctx context.Context) (outbox.Result, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Coupons coupondomain.Service
	Outbox  Outbox
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Config  Config                       `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	coupons coupondomain.Service
	outbox  Outbox
	metrics *obsmetrics.SchedulerMetrics

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// job runs every tick when every is zero, otherwise at most once per every.
type job struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) (int, error)
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Coupons == nil || p.Outbox == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		coupons: p.Coupons,
		outbox:  p.Outbox,
		metrics: p.Metrics,
		lastRun: make(map[string]time.Time),
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: JobOutboxRelay, run: s.OutboxRelayJob},
		{name: JobExpireCoupons, every: s.cfg.CouponExpiryEvery, run: s.ExpireCouponsJob},
		{name: JobCounterReconcile, every: s.cfg.CounterReconcileEvery, run: s.CounterReconcileJob},
		{name: JobOutboxPurge, every: s.cfg.OutboxPurgeEvery, run: s.OutboxPurgeJob},
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	processed, err := fn(ctx)
	run.AddProcessed(processed)
	s.metrics.AddBatchProcessed(name, processed)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job that is due and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) || !s.due(j, now) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, s.cfg.JobTimeout, j.run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// due records now as the job's last start when it is due.
func (s *Scheduler) due(j job, now time.Time) bool {
	if j.every <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[j.name]
	if ok && now.Sub(last) < j.every {
		return false
	}
	s.lastRun[j.name] = now
	return true
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) OutboxRelayJob(ctx context.Context) (int, error) {
	res, err := s.outbox.ProcessPending(ctx)
	if res.Deferred > 0 {
		s.logger(ctx).Debug("outbox events deferred", zap.Int("deferred", res.Deferred))
	}
	return res.Published, err
}

func (s *Scheduler) ExpireCouponsJob(ctx context.Context) (int, error) {
	res, err := s.coupons.ExpireCoupons(ctx)
	if res.Coupons > 0 {
		s.logger(ctx).Info("coupons expired",
			zap.Int("coupons", res.Coupons),
			zap.Int("histories", res.Histories),
			zap.Int("failed", res.Failed),
		)
	}
	return res.Coupons, err
}

func (s *Scheduler) CounterReconcileJob(ctx context.Context) (int, error) {
	return s.coupons.ReconcileCounters(ctx, s.cfg.CounterWarmupLimit)
}

func (s *Scheduler) OutboxPurgeJob(ctx context.Context) (int, error) {
	n, err := s.outbox.Purge(ctx, s.clock.Now().Add(-s.cfg.OutboxRetention))
	return int(n), err
}
