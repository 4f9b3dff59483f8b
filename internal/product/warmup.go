package product

import (
	"context"
	"time"

	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RegisterWarmup fills the product cache before the server takes traffic. A
// failed warmup is logged and startup continues on a cold cache.
func RegisterWarmup(lc fx.Lifecycle, cfg config.Config, svc domain.Service, log *zap.Logger) {
	if !cfg.Warmup.Enabled {
		return
	}
	log = log.Named("product.warmup")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			start := time.Now()
			n, err := svc.Warmup(ctx, cfg.Warmup.Limit)
			if err != nil {
				log.Warn("product cache warmup failed", zap.Int("warmed", n), zap.Error(err))
				return nil
			}
			log.Info("product cache warmed", zap.Int("products", n), zap.Duration("took", time.Since(start)))
			return nil
		},
	})
}
