package invalidation

import (
	"github.com/smallbiznis/checkout/internal/keys"
	"go.uber.org/fx"
)

var Module = fx.Module("invalidation",
	fx.Provide(
		keys.New,
		NewCoordinator,
	),
)
