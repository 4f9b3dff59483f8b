package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingLocker struct {
	Locker
	mu       sync.Mutex
	released []string
}

func (r *recordingLocker) Release(ctx context.Context, owner Owner, key string) error {
	r.mu.Lock()
	r.released = append(r.released, key)
	r.mu.Unlock()
	return r.Locker.Release(ctx, owner, key)
}

func TestGroup_ReleasesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recordingLocker{Locker: NewMemoryLocker(Options{}, zap.NewNop())}
	g := NewGroup(rec, NewOwner(), time.Second, time.Second)

	require.NoError(t, g.Acquire(ctx, "order:payment:1", "balance:user_1"))
	assert.Equal(t, []string{"order:payment:1", "balance:user_1"}, g.Held())

	require.NoError(t, g.Release(ctx))
	assert.Equal(t, []string{"balance:user_1", "order:payment:1"}, rec.released)

	require.NoError(t, g.Release(ctx))
	assert.Len(t, rec.released, 2, "second release is a no-op")
}

func TestGroup_FailedSecondAcquireReleasesFirst(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(Options{}, zap.NewNop())

	ok, err := l.Acquire(ctx, NewOwner(), "balance:user_1")
	require.NoError(t, err)
	require.True(t, ok)

	g := NewGroup(l, NewOwner(), 30*time.Millisecond, time.Second)
	err = g.Acquire(ctx, "order:payment:1", "balance:user_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrLockNotAcquired))
	assert.Equal(t, apperror.KindConcurrencyConflict, apperror.KindOf(err))

	locked, _ := l.IsLocked(ctx, "order:payment:1")
	assert.False(t, locked)
	assert.Empty(t, g.Held())
}

func TestGroup_OrderedAcquisitionDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(Options{}, zap.NewNop())
	orderedKeys := []string{"product:1", "product:2", "product:3"}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := NewGroup(l, NewOwner(), 5*time.Second, time.Second)
			if err := g.Acquire(ctx, orderedKeys...); err != nil {
				errs <- err
				return
			}
			time.Sleep(time.Millisecond)
			errs <- g.Release(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	for _, key := range orderedKeys {
		locked, _ := l.IsLocked(ctx, key)
		assert.False(t, locked)
	}
}
