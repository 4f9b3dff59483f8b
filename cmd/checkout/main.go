package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/balance"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/counter"
	"github.com/smallbiznis/checkout/internal/coupon"
	"github.com/smallbiznis/checkout/internal/events/handlers"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/lock"
	"github.com/smallbiznis/checkout/internal/logger"
	"github.com/smallbiznis/checkout/internal/migration"
	"github.com/smallbiznis/checkout/internal/observability"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	"github.com/smallbiznis/checkout/internal/order"
	"github.com/smallbiznis/checkout/internal/product"
	"github.com/smallbiznis/checkout/internal/ratelimit"
	"github.com/smallbiznis/checkout/internal/scheduler"
	"github.com/smallbiznis/checkout/internal/server"
	"github.com/smallbiznis/checkout/internal/user"
	"github.com/smallbiznis/checkout/internal/worker"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/redisclient"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		redisclient.Module,

		// Coordination
		lock.Module,
		counter.Module,
		cache.Module,
		invalidation.Module,
		worker.Module,
		outbox.Module,
		handlers.Module,
		orchestrator.Module,

		// Use cases
		user.Module,
		balance.Module,
		product.Module,
		coupon.Module,
		order.Module,

		scheduler.Module,
		ratelimit.Module,
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
