package worker

import (
	"context"

	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.Coordination `optional:"true"`
}

func Provide(p Params) *Pool {
	pool := NewPool(p.Config.Worker, p.Log, p.Metrics)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start()
			return nil
		},
		OnStop: pool.Stop,
	})
	return pool
}

var Module = fx.Module("worker",
	fx.Provide(Provide),
)
