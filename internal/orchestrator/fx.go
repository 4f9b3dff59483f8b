package orchestrator

import (
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/lock"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Locker      lock.Locker
	Retry       *retry.Executor
	Invalidator *invalidation.Coordinator
	Publisher   outbox.Publisher
	Relay       *outbox.Relay
	Tuning      *config.TuningHolder
	Log         *zap.Logger
	Metrics     *metrics.Coordination `optional:"true"`
}

func Provide(p Params) *Orchestrator {
	return New(p.DB, p.Locker, p.Retry, p.Invalidator, p.Publisher, p.Tuning, p.Log,
		WithNotifier(p.Relay),
		WithMetrics(p.Metrics),
	)
}

var Module = fx.Module("orchestrator",
	fx.Provide(
		retry.NewExecutor,
		Provide,
	),
)
