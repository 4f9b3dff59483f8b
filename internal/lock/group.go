package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/checkout/internal/apperror"
)

// Group acquires several locks for one owner in the order given and releases
// them in exactly the reverse order. Callers pass keys already in the global
// order (see keys.SortedUnique) so concurrent groups cannot deadlock.
type Group struct {
	locker Locker
	owner  Owner
	wait   time.Duration
	lease  time.Duration
	held   []string
}

func NewGroup(locker Locker, owner Owner, wait, lease time.Duration) *Group {
	return &Group{locker: locker, owner: owner, wait: wait, lease: lease}
}

// Acquire takes every key in order. If any acquisition fails the keys already
// taken are released before the error is returned, so a failed Acquire never
// leaves a lock behind.
func (g *Group) Acquire(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		ok, err := g.locker.AcquireWithTimeout(ctx, g.owner, key, g.wait, g.lease)
		if err != nil || !ok {
			releaseErr := g.Release(ctx)
			if err == nil {
				err = apperror.ErrLockNotAcquired
			} else {
				err = errors.Join(apperror.ErrLockNotAcquired, err)
			}
			return errors.Join(fmt.Errorf("acquire %s: %w", key, err), releaseErr)
		}
		g.held = append(g.held, key)
	}
	return nil
}

// Release frees held locks newest first. Calling it again is a no-op.
func (g *Group) Release(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := len(g.held) - 1; i >= 0; i-- {
		if releaseErr := g.locker.Release(ctx, g.owner, g.held[i]); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("release %s: %w", g.held[i], releaseErr))
		}
	}
	g.held = nil
	return err
}

// Held returns the keys currently held, in acquisition order.
func (g *Group) Held() []string {
	out := make([]string, len(g.held))
	copy(out, g.held)
	return out
}

func (g *Group) Owner() Owner {
	return g.owner
}
