package lock

import (
	"context"
	"time"

	"github.com/smallbiznis/checkout/internal/observability/metrics"
)

type instrumented struct {
	Locker
	metrics *metrics.Coordination
}

// Instrument records wait time and outcome of every acquisition.
func Instrument(l Locker, m *metrics.Coordination) Locker {
	if m == nil {
		return l
	}
	return &instrumented{Locker: l, metrics: m}
}

func (i *instrumented) Acquire(ctx context.Context, owner Owner, key string) (bool, error) {
	start := time.Now()
	ok, err := i.Locker.Acquire(ctx, owner, key)
	i.observe(key, start, ok, err)
	return ok, err
}

func (i *instrumented) AcquireWithTimeout(ctx context.Context, owner Owner, key string, wait, lease time.Duration) (bool, error) {
	start := time.Now()
	ok, err := i.Locker.AcquireWithTimeout(ctx, owner, key, wait, lease)
	i.observe(key, start, ok, err)
	return ok, err
}

func (i *instrumented) observe(key string, start time.Time, ok bool, err error) {
	outcome := metrics.LockOutcomeAcquired
	switch {
	case err != nil:
		outcome = metrics.LockOutcomeError
	case !ok:
		outcome = metrics.LockOutcomeTimeout
	}
	i.metrics.ObserveLockWait(key, outcome, time.Since(start))
}
