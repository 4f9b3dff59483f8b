package cache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/checkout/internal/config"
	"go.uber.org/fx"
)

func Provide(cfg config.Config, client *redis.Client) Cache {
	if cfg.UseInMemoryCoordination {
		return NewMemoryCache()
	}
	return NewRedisCache(client)
}

var Module = fx.Module("cache",
	fx.Provide(
		Provide,
		NewReader,
	),
)
