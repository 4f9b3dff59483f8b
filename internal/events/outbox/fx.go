package outbox

import (
	"context"

	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HandlersParams collects every event handler registered in the graph.
type HandlersParams struct {
	fx.In

	Handlers []events.Visitor `group:"event_handlers"`
}

func NewDispatcher(p HandlersParams) *events.Dispatcher {
	return events.NewDispatcher(p.Handlers...)
}

type RelayParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	DB         *gorm.DB
	Pool       *worker.Pool
	Dispatcher *events.Dispatcher
	Clock      clock.Clock
	Log        *zap.Logger
}

func ProvideRelay(p RelayParams) *Relay {
	relay := NewRelay(p.DB, p.Pool, p.Dispatcher, p.Clock, p.Log, p.Config.Scheduler.OutboxBatchSize)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			relay.Start()
			return nil
		},
		OnStop: relay.Stop,
	})
	return relay
}

var Module = fx.Module("outbox",
	fx.Provide(
		fx.Annotate(NewWriter, fx.As(new(Publisher))),
		NewDispatcher,
		ProvideRelay,
	),
)
