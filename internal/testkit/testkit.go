// Package testkit assembles the coordination stack on in-memory backends for
// service tests.
package testkit

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/counter"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/keys"
	"github.com/smallbiznis/checkout/internal/lock"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	"github.com/smallbiznis/checkout/internal/retry"
	"github.com/smallbiznis/checkout/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Kit struct {
	DB           *gorm.DB
	Log          *zap.Logger
	Node         *snowflake.Node
	Clock        *clock.FakeClock
	Keys         keys.Generator
	Locker       *lock.MemoryLocker
	Counter      *counter.MemoryCounter
	Cache        *cache.MemoryCache
	Reader       *cache.Reader
	Invalidator  *invalidation.Coordinator
	Outbox       *outbox.Writer
	Orchestrator *orchestrator.Orchestrator
}

// Now is the fake clock's starting instant.
var Now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// Tuning keeps retries fast and lock waits generous enough for contention tests.
func Tuning() config.Tuning {
	return config.Tuning{
		Lock: config.LockConfig{WaitTime: 10 * time.Second, LeaseTime: 30 * time.Second},
		Retry: config.RetryConfig{
			MaxAttempts:     5,
			InitialInterval: time.Millisecond,
			Multiplier:      2,
			MaxInterval:     10 * time.Millisecond,
		},
	}
}

// New migrates models plus the outbox table and wires the stack.
func New(t testing.TB, models ...any) *Kit {
	t.Helper()

	db := dbtest.Open(t, append(models, &outbox.Record{})...)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	log := zap.NewNop()
	clk := clock.NewFakeClock(Now)
	gen := keys.New()
	tuning := Tuning()
	locker := lock.NewMemoryLocker(lock.Options{WaitTime: tuning.Lock.WaitTime, LeaseTime: tuning.Lock.LeaseTime}, log)
	mem := cache.NewMemoryCache()
	coordinator := invalidation.NewCoordinator(mem, gen, log, nil)
	writer := outbox.NewWriter(db, clk)

	return &Kit{
		DB:          db,
		Log:         log,
		Node:        node,
		Clock:       clk,
		Keys:        gen,
		Locker:      locker,
		Counter:     counter.NewMemoryCounter(),
		Cache:       mem,
		Reader:      cache.NewReader(mem, log, nil),
		Invalidator: coordinator,
		Outbox:      writer,
		Orchestrator: orchestrator.New(
			db,
			locker,
			retry.NewExecutor(log, nil),
			coordinator,
			writer,
			config.NewStaticTuning(tuning),
			log,
		),
	}
}

// OutboxCount returns the number of outbox rows of eventType.
func (k *Kit) OutboxCount(t testing.TB, eventType string) int64 {
	t.Helper()
	var n int64
	if err := k.DB.Model(&outbox.Record{}).Where("event_type = ?", eventType).Count(&n).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}
