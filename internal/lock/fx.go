package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Redis   *redis.Client
	Log     *zap.Logger
	Metrics *metrics.Coordination `optional:"true"`
}

func Provide(p Params) Locker {
	opts := Options{WaitTime: p.Config.Lock.WaitTime, LeaseTime: p.Config.Lock.LeaseTime}
	var l Locker
	if p.Config.UseInMemoryCoordination {
		l = NewMemoryLocker(opts, p.Log)
	} else {
		l = NewRedisLocker(p.Redis, opts, p.Log)
	}
	return Instrument(l, p.Metrics)
}

var Module = fx.Module("lock",
	fx.Provide(Provide),
)
