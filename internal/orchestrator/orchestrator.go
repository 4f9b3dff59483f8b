package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/lock"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/retry"
	"github.com/smallbiznis/checkout/pkg/log/ctxlogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Stage string

const (
	StageStart            Stage = "START"
	StageLockAcquired     Stage = "LOCK_ACQUIRED"
	StageTxOpen           Stage = "TX_OPEN"
	StageLogicExecuted    Stage = "LOGIC_EXECUTED"
	StageTxCommitted      Stage = "TX_COMMITTED"
	StageCacheInvalidated Stage = "CACHE_INVALIDATED"
	StageLockReleased     Stage = "LOCK_RELEASED"
)

const (
	outcomeLabelOk        = "ok"
	outcomeLabelRejected  = "rejected"
	outcomeLabelConflict  = "conflict"
	outcomeLabelLockError = "lock_not_acquired"
	outcomeLabelError     = "error"
)

// Observer sees every stage transition of every run.
type Observer func(ctx context.Context, operation string, stage Stage)

// Notifier is poked after a commit that wrote events.
type Notifier interface {
	Notify()
}

// Plan names an operation and the locks it needs. Locks are acquired in the
// order listed; zero Wait or Lease take the current tuning.
type Plan struct {
	Name  string
	Locks []string
	Wait  time.Duration
	Lease time.Duration
	// MaxAttempts overrides the tuned retry budget when positive.
	MaxAttempts int
}

// Logic is the business step. It reads and writes through tx only. The
// returned error is for unexpected faults; business refusals are Rejected.
type Logic[T any] func(ctx context.Context, tx *gorm.DB) (Outcome[T], error)

// Orchestrator runs lock, transaction, logic, commit, invalidation and unlock
// as one unit.
type Orchestrator struct {
	db          *gorm.DB
	locker      lock.Locker
	retry       *retry.Executor
	invalidator *invalidation.Coordinator
	publisher   outbox.Publisher
	notifier    Notifier
	tuning      *config.TuningHolder
	log         *zap.Logger
	metrics     *metrics.Coordination
	tracer      trace.Tracer
	observers   []Observer
}

type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithMetrics(m *metrics.Coordination) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(
	db *gorm.DB,
	locker lock.Locker,
	executor *retry.Executor,
	invalidator *invalidation.Coordinator,
	publisher outbox.Publisher,
	tuning *config.TuningHolder,
	log *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		db:          db,
		locker:      locker,
		retry:       executor,
		invalidator: invalidator,
		publisher:   publisher,
		tuning:      tuning,
		log:         log.Named("orchestrator"),
		tracer:      otel.Tracer("checkout/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) observe(ctx context.Context, operation string, stage Stage) {
	trace.SpanFromContext(ctx).AddEvent(string(stage))
	for _, obs := range o.observers {
		obs(ctx, operation, stage)
	}
}

// Run executes logic under plan. Locks are always released, whatever the
// outcome. Nothing is invalidated unless the transaction committed.
func Run[T any](ctx context.Context, o *Orchestrator, plan Plan, logic Logic[T]) (_ T, err error) {
	var zero T

	ctx = ctxlogger.ContextWithOperation(ctx, plan.Name)
	ctx, span := o.tracer.Start(ctx, "orchestrator."+plan.Name,
		trace.WithAttributes(
			attribute.String("operation", plan.Name),
			attribute.StringSlice("locks", plan.Locks),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := ctxlogger.WithContext(ctx, o.log)

	o.observe(ctx, plan.Name, StageStart)

	tuning := o.tuning.Get()
	lockCfg := config.LockConfig{WaitTime: plan.Wait, LeaseTime: plan.Lease}.WithDefaults(tuning.Lock)
	policy := retry.PolicyFromConfig(tuning.Retry)
	if plan.MaxAttempts > 0 {
		policy.MaxAttempts = plan.MaxAttempts
	}

	group := lock.NewGroup(o.locker, lock.NewOwner(), lockCfg.WaitTime, lockCfg.LeaseTime)
	if err := group.Acquire(ctx, plan.Locks...); err != nil {
		o.metrics.IncOperationOutcome(plan.Name, outcomeLabelLockError)
		log.Warn("lock not acquired", zap.Strings("locks", plan.Locks), zap.Error(err))
		o.observe(ctx, plan.Name, StageLockReleased)
		if errors.Is(err, apperror.ErrLockNotAcquired) {
			return zero, err
		}
		return zero, errors.Join(apperror.ErrLockNotAcquired, err)
	}
	o.observe(ctx, plan.Name, StageLockAcquired)

	defer func() {
		if releaseErr := group.Release(ctx); releaseErr != nil {
			log.Warn("lock release failed", zap.Error(releaseErr))
		}
		o.observe(ctx, plan.Name, StageLockReleased)
	}()

	result, err := retry.Execute(ctx, o.retry, plan.Name, policy, func(ctx context.Context, attempt int) (Outcome[T], error) {
		return runTx(ctx, o, plan.Name, logic)
	})
	if err != nil {
		o.metrics.IncOperationOutcome(plan.Name, classify(err))
		var rej rejection
		if errors.As(err, &rej) {
			return zero, rej.reason
		}
		return zero, err
	}
	o.observe(ctx, plan.Name, StageTxCommitted)

	o.afterCommit(ctx, plan.Name, result, log)
	o.metrics.IncOperationOutcome(plan.Name, outcomeLabelOk)
	return result.value, nil
}

func runTx[T any](ctx context.Context, o *Orchestrator, operation string, logic Logic[T]) (Outcome[T], error) {
	var out Outcome[T]
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o.observe(ctx, operation, StageTxOpen)

		res, err := logic(ctx, tx)
		if err != nil {
			return err
		}
		o.observe(ctx, operation, StageLogicExecuted)

		switch res.kind {
		case outcomeRejected:
			return rejection{reason: res.err}
		case outcomeConflict:
			if errors.Is(res.err, apperror.ErrVersionConflict) {
				return res.err
			}
			return fmt.Errorf("%w: %w", apperror.ErrVersionConflict, res.err)
		case outcomeOk:
		default:
			return fmt.Errorf("%s: logic returned no outcome", operation)
		}

		if len(res.events) > 0 && o.publisher != nil {
			if err := o.publisher.Publish(ctx, tx, res.events...); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	return out, err
}

func (o *Orchestrator) afterCommit(ctx context.Context, operation string, out afterCommitWork, log *zap.Logger) {
	if muts := out.pendingMutations(); len(muts) > 0 && o.invalidator != nil {
		if err := o.invalidator.Apply(ctx, o.invalidator.PlanFor(muts...)); err != nil {
			log.Warn("post-commit invalidation incomplete", zap.Error(err))
		}
	}
	o.observe(ctx, operation, StageCacheInvalidated)

	for _, hook := range out.pendingHooks() {
		if err := hook(ctx); err != nil {
			log.Warn("post-commit hook failed", zap.Error(err))
		}
	}
	if out.hasEvents() && o.notifier != nil {
		o.notifier.Notify()
	}
}

type afterCommitWork interface {
	pendingMutations() []invalidation.Mutation
	pendingHooks() []Hook
	hasEvents() bool
}

func (o Outcome[T]) pendingMutations() []invalidation.Mutation { return o.mutations }
func (o Outcome[T]) pendingHooks() []Hook                      { return o.hooks }
func (o Outcome[T]) hasEvents() bool                           { return len(o.events) > 0 }

func classify(err error) string {
	var rej rejection
	switch {
	case errors.As(err, &rej):
		return outcomeLabelRejected
	case errors.Is(err, apperror.ErrVersionConflict):
		return outcomeLabelConflict
	default:
		return outcomeLabelError
	}
}
