package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Tuning is the hot-reloadable subset of the coordination settings.
type Tuning struct {
	Lock  LockConfig  `mapstructure:"lock"`
	Retry RetryConfig `mapstructure:"retry"`
}

// TuningHolder serves the latest valid Tuning snapshot.
type TuningHolder struct {
	current atomic.Value // holds Tuning
}

func DefaultTuning(cfg Config) Tuning {
	return Tuning{Lock: cfg.Lock, Retry: cfg.Retry}
}

// NewStaticTuning returns a holder that never reloads.
func NewStaticTuning(t Tuning) *TuningHolder {
	holder := &TuningHolder{}
	holder.current.Store(t)
	return holder
}

// NewTuningHolder reads coordination.yml (or cfg.TuningFile) and watches it for
// changes. Missing files fall back to the environment defaults.
func NewTuningHolder(cfg Config, log *zap.Logger) (*TuningHolder, error) {
	defaults := DefaultTuning(cfg)
	log = log.Named("config.tuning")

	v := viper.New()
	if cfg.TuningFile != "" {
		v.SetConfigFile(cfg.TuningFile)
	} else {
		v.SetConfigName("coordination")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/checkout")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHECKOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("lock.waittime", defaults.Lock.WaitTime)
	v.SetDefault("lock.leasetime", defaults.Lock.LeaseTime)
	v.SetDefault("retry.maxattempts", defaults.Retry.MaxAttempts)
	v.SetDefault("retry.initialinterval", defaults.Retry.InitialInterval)
	v.SetDefault("retry.multiplier", defaults.Retry.Multiplier)
	v.SetDefault("retry.maxinterval", defaults.Retry.MaxInterval)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfg.TuningFile != "" {
			return nil, err
		}
		watch = false
	}

	var tuning Tuning
	if err := v.Unmarshal(&tuning); err != nil {
		return nil, err
	}
	if err := ValidateTuning(tuning); err != nil {
		return nil, err
	}

	holder := NewStaticTuning(tuning)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Tuning
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("tuning reload failed", zap.Error(err))
			return
		}
		if err := ValidateTuning(updated); err != nil {
			log.Warn("invalid tuning ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tuning reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *TuningHolder) Get() Tuning {
	return h.current.Load().(Tuning)
}

func ValidateTuning(t Tuning) error {
	if t.Lock.WaitTime < 0 {
		return errors.New("lock.waitTime cannot be negative")
	}
	if t.Lock.LeaseTime <= 0 {
		return errors.New("lock.leaseTime must be positive")
	}
	if t.Retry.MaxAttempts < 1 {
		return errors.New("retry.maxAttempts must be at least 1")
	}
	if t.Retry.InitialInterval < 0 || t.Retry.MaxInterval < t.Retry.InitialInterval {
		return errors.New("retry intervals are inconsistent")
	}
	if t.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	return nil
}

// WithDefaults fills zero fields from def.
func (c LockConfig) WithDefaults(def LockConfig) LockConfig {
	if c.WaitTime == 0 {
		c.WaitTime = def.WaitTime
	}
	if c.LeaseTime == 0 {
		c.LeaseTime = def.LeaseTime
	}
	return c
}
