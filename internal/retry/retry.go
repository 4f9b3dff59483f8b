package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/zap"
)

// Policy bounds how often and how fast a conflicting unit of work is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     time.Second,
	}
}

func PolicyFromConfig(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		Multiplier:      cfg.Multiplier,
		MaxInterval:     cfg.MaxInterval,
	}
	return p.withDefaults()
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Executor re-runs a unit of work that failed with a version conflict. Any
// other failure is returned at once. The unit of work is called afresh on each
// attempt so it re-reads the resource it mutates.
type Executor struct {
	log     *zap.Logger
	metrics *metrics.Coordination
}

func NewExecutor(log *zap.Logger, m *metrics.Coordination) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{log: log.Named("retry"), metrics: m}
}

// Do runs fn under policy. After the last attempt the final version conflict
// is returned unchanged.
func (e *Executor) Do(ctx context.Context, operation string, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := Execute(ctx, e, operation, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Execute is Do for units of work that produce a value.
func Execute[T any](ctx context.Context, e *Executor, operation string, policy Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	policy = policy.withDefaults()
	attempt := 0

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		e.metrics.IncRetryAttempt(operation, "attempt")
		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, apperror.ErrVersionConflict) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.log.Debug("version conflict, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
			)
		}),
	)

	// backoff only unwraps permanent errors before the final attempt.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err != nil && errors.Is(err, apperror.ErrVersionConflict) {
		e.metrics.IncRetryAttempt(operation, "exhausted")
		e.log.Warn("version conflict persisted after retries",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
		)
	}
	return result, err
}
