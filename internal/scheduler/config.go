package scheduler

import (
	"time"

	"github.com/smallbiznis/checkout/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval           time.Duration
	JobTimeout            time.Duration
	CouponExpiryEvery     time.Duration
	CounterReconcileEvery time.Duration
	CounterWarmupLimit    int
	OutboxRetention       time.Duration
	// OutboxPurgeEvery is fixed; retention is what operators tune.
	OutboxPurgeEvery time.Duration
	// EnabledJobs limits which jobs run. Empty enables all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:           2 * time.Second,
		JobTimeout:            30 * time.Second,
		CouponExpiryEvery:     time.Hour,
		CounterReconcileEvery: 10 * time.Minute,
		CounterWarmupLimit:    500,
		OutboxRetention:       7 * 24 * time.Hour,
		OutboxPurgeEvery:      time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:           cfg.Scheduler.RunInterval,
		JobTimeout:            cfg.Scheduler.JobTimeout,
		CouponExpiryEvery:     cfg.Scheduler.CouponExpiryEvery,
		CounterReconcileEvery: cfg.Scheduler.CounterReconcileEvery,
		CounterWarmupLimit:    cfg.Scheduler.CounterWarmupLimit,
		OutboxRetention:       cfg.Scheduler.OutboxRetention,
		EnabledJobs:           cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.CouponExpiryEvery <= 0 {
		c.CouponExpiryEvery = defaults.CouponExpiryEvery
	}
	if c.CounterReconcileEvery <= 0 {
		c.CounterReconcileEvery = defaults.CounterReconcileEvery
	}
	if c.CounterWarmupLimit <= 0 {
		c.CounterWarmupLimit = defaults.CounterWarmupLimit
	}
	if c.OutboxRetention <= 0 {
		c.OutboxRetention = defaults.OutboxRetention
	}
	if c.OutboxPurgeEvery <= 0 {
		c.OutboxPurgeEvery = defaults.OutboxPurgeEvery
	}
	return c
}
