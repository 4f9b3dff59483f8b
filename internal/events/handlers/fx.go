package handlers

import (
	"github.com/smallbiznis/checkout/internal/events"
	"go.uber.org/fx"
)

var Module = fx.Module("event_handlers",
	fx.Provide(
		fx.Annotate(NewRanking, fx.As(new(events.Visitor)), fx.ResultTags(`group:"event_handlers"`)),
		fx.Annotate(NewInvalidator, fx.As(new(events.Visitor)), fx.ResultTags(`group:"event_handlers"`)),
	),
)
