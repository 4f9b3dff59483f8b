package lock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryLocker is the single-process Locker. Waiters are handed the lock in
// arrival order and an expired lease frees the lock for the next waiter, the
// same as the Redis variant.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	opts    Options
	log     *zap.Logger
}

type memEntry struct {
	owner   Owner
	holds   int
	gen     uint64
	expiry  *time.Timer
	waiters []*memWaiter
}

type memWaiter struct {
	owner   Owner
	lease   time.Duration
	ready   chan struct{}
	granted bool
}

func NewMemoryLocker(opts Options, log *zap.Logger) *MemoryLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryLocker{
		entries: make(map[string]*memEntry),
		opts:    opts.withDefaults(),
		log:     log.Named("lock.memory"),
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, owner Owner, key string) (bool, error) {
	return l.AcquireWithTimeout(ctx, owner, key, l.opts.WaitTime, l.opts.LeaseTime)
}

func (l *MemoryLocker) AcquireWithTimeout(ctx context.Context, owner Owner, key string, wait, lease time.Duration) (bool, error) {
	if err := validate(owner, key, lease); err != nil {
		return false, err
	}

	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &memEntry{}
		l.entries[key] = e
	}
	switch {
	case e.owner == owner:
		e.holds++
		l.armLease(key, e, lease)
		l.mu.Unlock()
		return true, nil
	case e.owner == "" && len(e.waiters) == 0:
		l.grant(key, e, owner, lease)
		l.mu.Unlock()
		return true, nil
	case wait <= 0:
		l.mu.Unlock()
		return false, nil
	}

	w := &memWaiter{owner: owner, lease: lease, ready: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var err error
	select {
	case <-w.ready:
		return true, nil
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w.granted {
		// Handed over between the timeout firing and re-taking the mutex.
		return true, nil
	}
	l.removeWaiter(key, w)
	return false, err
}

func (l *MemoryLocker) Release(_ context.Context, owner Owner, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	if e == nil || e.owner != owner || owner == "" {
		return nil
	}
	e.holds--
	if e.holds > 0 {
		return nil
	}
	l.handOff(key, e)
	return nil
}

func (l *MemoryLocker) IsLocked(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	return e != nil && e.owner != "", nil
}

func (l *MemoryLocker) IsHeldBy(_ context.Context, owner Owner, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	return e != nil && owner != "" && e.owner == owner, nil
}

func (l *MemoryLocker) ForceUnlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	if e == nil || e.owner == "" {
		return nil
	}
	l.log.Warn("force unlocking", zap.String("key", key), zap.String("owner", string(e.owner)))
	l.handOff(key, e)
	return nil
}

// grant and the helpers below run with l.mu held.
func (l *MemoryLocker) grant(key string, e *memEntry, owner Owner, lease time.Duration) {
	e.owner = owner
	e.holds = 1
	l.armLease(key, e, lease)
}

func (l *MemoryLocker) armLease(key string, e *memEntry, lease time.Duration) {
	if e.expiry != nil {
		e.expiry.Stop()
	}
	e.gen++
	gen := e.gen
	e.expiry = time.AfterFunc(lease, func() { l.expire(key, gen) })
}

func (l *MemoryLocker) expire(key string, gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	if e == nil || e.gen != gen || e.owner == "" {
		return
	}
	l.log.Warn("lock lease expired before release", zap.String("key", key), zap.String("owner", string(e.owner)))
	l.handOff(key, e)
}

func (l *MemoryLocker) handOff(key string, e *memEntry) {
	if e.expiry != nil {
		e.expiry.Stop()
		e.expiry = nil
	}
	e.owner = ""
	e.holds = 0
	e.gen++

	if len(e.waiters) == 0 {
		delete(l.entries, key)
		return
	}
	next := e.waiters[0]
	e.waiters[0] = nil
	e.waiters = e.waiters[1:]
	l.grant(key, e, next.owner, next.lease)
	next.granted = true
	close(next.ready)
}

func (l *MemoryLocker) removeWaiter(key string, w *memWaiter) {
	e := l.entries[key]
	if e == nil {
		return
	}
	for i, candidate := range e.waiters {
		if candidate == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
	if e.owner == "" && len(e.waiters) == 0 {
		delete(l.entries, key)
	}
}
