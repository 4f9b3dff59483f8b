package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultWaitTime  = 5 * time.Second
	DefaultLeaseTime = 10 * time.Second
)

var (
	ErrEmptyKey     = errors.New("lock_key_empty")
	ErrEmptyOwner   = errors.New("lock_owner_empty")
	ErrInvalidLease = errors.New("lock_lease_must_be_positive")
)

// Owner identifies a lock holder. The same owner may re-acquire a lock it
// already holds; each acquisition must be matched by one release.
type Owner string

func NewOwner() Owner {
	return Owner(uuid.NewString())
}

// Locker provides mutual exclusion keyed by resource identity.
//
// Acquisition waits at most the wait time, with waiters served in arrival
// order, and reports false on timeout. A granted lock expires after its lease
// unless released first. Release of a lock the owner does not hold is a no-op.
type Locker interface {
	Acquire(ctx context.Context, owner Owner, key string) (bool, error)
	AcquireWithTimeout(ctx context.Context, owner Owner, key string, wait, lease time.Duration) (bool, error)
	Release(ctx context.Context, owner Owner, key string) error
	IsLocked(ctx context.Context, key string) (bool, error)
	IsHeldBy(ctx context.Context, owner Owner, key string) (bool, error)
	ForceUnlock(ctx context.Context, key string) error
}

// Options are the defaults used by Acquire.
type Options struct {
	WaitTime  time.Duration
	LeaseTime time.Duration
}

func (o Options) withDefaults() Options {
	if o.WaitTime <= 0 {
		o.WaitTime = DefaultWaitTime
	}
	if o.LeaseTime <= 0 {
		o.LeaseTime = DefaultLeaseTime
	}
	return o
}

func validate(owner Owner, key string, lease time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if owner == "" {
		return ErrEmptyOwner
	}
	if lease <= 0 {
		return ErrInvalidLease
	}
	return nil
}
