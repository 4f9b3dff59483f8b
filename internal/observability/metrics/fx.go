package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/checkout/internal/config"
	"go.uber.org/fx"
)

func provideConfig(cfg config.Config) Config {
	return Config{ServiceName: cfg.AppName, Environment: cfg.Environment}
}

var Module = fx.Module("metrics",
	fx.Provide(
		provideConfig,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		NewCoordination,
		NewScheduler,
	),
)
