package ratelimit

import "go.uber.org/fx"

var Module = fx.Module("ratelimit",
	fx.Provide(NewTierResolver),
	fx.Provide(NewStore),
	fx.Provide(NewLimiter),
)
