package counter

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/checkout/internal/config"
	"go.uber.org/fx"
)

func Provide(cfg config.Config, client *redis.Client) Counter {
	if cfg.UseInMemoryCoordination {
		return NewMemoryCounter()
	}
	return NewRedisCounter(client)
}

var Module = fx.Module("counter",
	fx.Provide(Provide),
)
